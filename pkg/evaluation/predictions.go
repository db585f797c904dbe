// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"io"
	"math"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ColPred is the column of a predictions file holding the predicted rank, in the same scale as pairs.ColRank.
const ColPred = "pred"

// Prediction of the rank of a pair.
type Prediction struct {
	pairs.Record
	Pred float64
}

// Key identifies the group a prediction is evaluated in: all pairs of the same base ion in the same dataset.
type Key struct {
	DatasetID, BaseSF, BaseAdduct string
}

// KeyOf returns the group key of a prediction.
func KeyOf(p Prediction) Key {
	return Key{DatasetID: p.DatasetID, BaseSF: p.BaseSF, BaseAdduct: p.BaseAdduct}
}

var predictionTypes = map[string]series.Type{
	pairs.ColDatasetID:   series.String,
	pairs.ColBaseSF:      series.String,
	pairs.ColBaseAdduct:  series.String,
	pairs.ColOtherSF:     series.String,
	pairs.ColOtherAdduct: series.String,
	pairs.ColRank:        series.Float,
	ColPred:              series.Float,
}

// LoadPredictions reads a predictions CSV file. See ReadPredictions.
func LoadPredictions(path string) ([]Prediction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open predictions %q", path)
	}
	defer func() { _ = f.Close() }()
	preds, err := ReadPredictions(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading predictions %q", path)
	}
	return preds, nil
}

// ReadPredictions parses a CSV with the manifest columns plus a ColPred column. Rows without a
// prediction or without a rank are dropped.
func ReadPredictions(r io.Reader) ([]Prediction, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.WithTypes(predictionTypes))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse predictions CSV")
	}
	columns := append(slices.Clone(pairs.ManifestColumns), ColPred)
	for _, name := range columns {
		if col := df.Col(name); col.Err != nil {
			return nil, errs.MalformedRecordf("predictions are missing column %q (found %q)", name, df.Names())
		}
	}
	ids := df.Col(pairs.ColDatasetID).Records()
	baseSFs := df.Col(pairs.ColBaseSF).Records()
	baseAdducts := df.Col(pairs.ColBaseAdduct).Records()
	otherSFs := df.Col(pairs.ColOtherSF).Records()
	otherAdducts := df.Col(pairs.ColOtherAdduct).Records()
	ranks := df.Col(pairs.ColRank).Float()
	predValues := df.Col(ColPred).Float()

	preds := make([]Prediction, 0, df.Nrow())
	var dropped int
	for ii := range df.Nrow() {
		if math.IsNaN(ranks[ii]) || math.IsNaN(predValues[ii]) {
			dropped++
			continue
		}
		preds = append(preds, Prediction{
			Record: pairs.Record{
				DatasetID:   ids[ii],
				BaseSF:      baseSFs[ii],
				BaseAdduct:  baseAdducts[ii],
				OtherSF:     otherSFs[ii],
				OtherAdduct: otherAdducts[ii],
				Rank:        ranks[ii],
			},
			Pred: predValues[ii],
		})
	}
	if dropped > 0 {
		klog.V(1).Infof("dropped %d predictions with missing values", dropped)
	}
	return preds, nil
}

// Round returns a copy of the predictions with Pred rounded to the nearest integer rank.
func Round(preds []Prediction) []Prediction {
	rounded := slices.Clone(preds)
	for i := range rounded {
		rounded[i].Pred = math.Round(rounded[i].Pred)
	}
	return rounded
}

// Group splits predictions by Key, returning the keys in order of first appearance.
func Group(preds []Prediction) (keys []Key, groups map[Key][]Prediction) {
	groups = make(map[Key][]Prediction)
	for _, p := range preds {
		key := KeyOf(p)
		if _, found := groups[key]; !found {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], p)
	}
	return keys, groups
}

// columns returns the annotated and the predicted ranks.
func columns(preds []Prediction) (ranks, predicted []float64) {
	ranks = make([]float64, len(preds))
	predicted = make([]float64, len(preds))
	for i, p := range preds {
		ranks[i] = p.Rank
		predicted[i] = p.Pred
	}
	return
}
