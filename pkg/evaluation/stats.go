// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/coloc/internal/fsutil"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Summary of a correlation measured per group.
type Summary struct {
	// Values holds the correlation of each group where it is defined, in order of first appearance.
	Values []float64

	// Groups is the total number of groups, including the ones where the correlation is undefined
	// (NaN), e.g. groups with a single pair or with constant ranks.
	Groups int

	Mean, Median float64
}

// String implements fmt.Stringer.
func (s Summary) String() string {
	return fmt.Sprintf("mean %.3f, median %.3f (%d of %d groups, %d undefined)", s.Mean, s.Median,
		len(s.Values), s.Groups, s.Undefined())
}

// Undefined returns the number of groups skipped because their correlation is NaN.
func (s Summary) Undefined() int { return s.Groups - len(s.Values) }

// DatasetWise computes the correlation between annotated and predicted ranks in each group (see Key), and
// summarizes it across groups. Groups where the correlation is NaN are skipped.
func DatasetWise(preds []Prediction, corr Correlation) Summary {
	keys, groups := Group(preds)
	s := Summary{Groups: len(keys)}
	for _, key := range keys {
		v := corr(columns(groups[key]))
		if math.IsNaN(v) {
			continue
		}
		s.Values = append(s.Values, v)
	}
	if len(s.Values) == 0 {
		s.Mean, s.Median = math.NaN(), math.NaN()
		return s
	}
	s.Mean = stat.Mean(s.Values, nil)
	s.Median = median(s.Values)
	return s
}

// Interval is a bootstrap confidence interval.
type Interval struct {
	Mean, Median, Std float64

	// Low and High are the 2.5 and 97.5 percentiles: the 95% confidence interval.
	Low, High float64

	// Samples is the number of resamples where the statistic was defined.
	Samples int
}

// String implements fmt.Stringer.
func (ci Interval) String() string {
	return fmt.Sprintf("mean=%.3f|median=%.3f|std=%.3f (%.3f-%.3f) (95%% CI)", ci.Mean, ci.Median, ci.Std, ci.Low, ci.High)
}

// Bootstrap estimates the confidence interval of the DatasetWise mean of the correlation: it resamples the
// predictions with replacement n times, and collects the mean of each resample.
//
// If rng is nil, a randomly seeded one is used. It returns errs.ErrInvalidConfiguration if n < 1 or there
// are no predictions.
func Bootstrap(preds []Prediction, corr Correlation, n int, rng *rand.Rand) (Interval, error) {
	var ci Interval
	if n < 1 {
		return ci, errs.InvalidConfigf("bootstrap requires at least one resample, got %d", n)
	}
	if len(preds) == 0 {
		return ci, errs.InvalidConfigf("bootstrap requires predictions")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	means := make([]float64, 0, n)
	resample := make([]Prediction, len(preds))
	for range n {
		for i := range resample {
			resample[i] = preds[rng.IntN(len(preds))]
		}
		mean := DatasetWise(resample, corr).Mean
		if !math.IsNaN(mean) {
			means = append(means, mean)
		}
	}
	ci.Samples = len(means)
	if ci.Samples == 0 {
		return ci, errors.New("correlation undefined in all bootstrap resamples")
	}
	slices.Sort(means)
	ci.Mean, ci.Std = stat.PopMeanStdDev(means, nil)
	ci.Median = percentile(means, 50)
	ci.Low = percentile(means, 2.5)
	ci.High = percentile(means, 97.5)
	return ci, nil
}

// PlotHistogram saves a histogram of the per-group values of the summary to path. The image format is
// taken from the file extension (e.g. ".png", ".svg").
func PlotHistogram(s Summary, title string, bins int, path string) error {
	if len(s.Values) == 0 {
		return errors.New("no values to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "correlation"
	p.Y.Label.Text = "groups"
	hist, err := plotter.NewHist(plotter.Values(s.Values), bins)
	if err != nil {
		return errors.Wrap(err, "failed to create histogram")
	}
	p.Add(hist)
	p.Add(plotter.NewGrid())
	if err := fsutil.EnsureParentDir(path); err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save histogram to %q", path)
	}
	return nil
}
