// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, rank([]float64{1, 5, 5, 9}))
	assert.Equal(t, []float64{3, 1, 2}, rank([]float64{30, 10, 20}))
}

func TestCorrelations(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, Spearman(x, []float64{10, 20, 30, 40, 50}), 1e-9)
	assert.InDelta(t, -1.0, Spearman(x, []float64{5, 4, 3, 2, 1}), 1e-9)
	assert.InDelta(t, 1.0, Spearman(x, []float64{1, 4, 9, 16, 25}), 1e-9, "monotonic transform")
	assert.Less(t, Pearson(x, []float64{1, 4, 9, 16, 100}), 1.0)

	assert.InDelta(t, 1.0, Kendall(x, x), 1e-9)
	assert.InDelta(t, -1.0, Kendall(x, []float64{5, 4, 3, 2, 1}), 1e-9)

	// With ties: x=[1,2,2,3], y=[1,2,3,3]. Pairs: (0,1)c (0,2)c (0,3)c (1,2)tx (1,3)c (2,3)ty.
	// tau-b = (4-0)/sqrt((4+1)*(4+1)) = 0.8.
	assert.InDelta(t, 0.8, Kendall([]float64{1, 2, 2, 3}, []float64{1, 2, 3, 3}), 1e-9)

	assert.True(t, math.IsNaN(Spearman([]float64{1}, []float64{1})))
	assert.True(t, math.IsNaN(Spearman(x, []float64{3, 3, 3, 3, 3})))
	assert.True(t, math.IsNaN(Kendall(x, []float64{3, 3, 3, 3, 3})))

	for _, name := range []string{"spearman", "kendall", "pearson"} {
		_, found := ByName(name)
		assert.True(t, found, name)
	}
	_, found := ByName("cosine")
	assert.False(t, found)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 2.5, percentile(sorted, 50), 1e-9)
	assert.InDelta(t, 1.075, percentile(sorted, 2.5), 1e-9)
	assert.InDelta(t, 4.0, percentile(sorted, 100), 1e-9)
	assert.InDelta(t, 7.0, percentile([]float64{7}, 97.5), 1e-9)
	assert.InDelta(t, 2.0, median([]float64{3, 1, 2}), 1e-9)
}

func prediction(dataset, baseSF string, rank, pred float64) Prediction {
	return Prediction{
		Record: pairs.Record{DatasetID: dataset, BaseSF: baseSF, BaseAdduct: "+H", OtherSF: "C2", OtherAdduct: "+H", Rank: rank},
		Pred:   pred,
	}
}

func testPredictions() []Prediction {
	return []Prediction{
		// Perfect agreement.
		prediction("ds1", "C1", 1, 1), prediction("ds1", "C1", 5, 4), prediction("ds1", "C1", 9, 8),
		// Inverted.
		prediction("ds1", "C3", 1, 9), prediction("ds1", "C3", 5, 5), prediction("ds1", "C3", 9, 1),
		// Single pair: undefined.
		prediction("ds2", "C1", 3, 3),
	}
}

func TestDatasetWise(t *testing.T) {
	s := DatasetWise(testPredictions(), Spearman)
	assert.Equal(t, 3, s.Groups)
	require.Len(t, s.Values, 2)
	assert.InDelta(t, 1.0, s.Values[0], 1e-9)
	assert.InDelta(t, -1.0, s.Values[1], 1e-9)
	assert.InDelta(t, 0.0, s.Mean, 1e-9)
	assert.InDelta(t, 0.0, s.Median, 1e-9)
	assert.Equal(t, 1, s.Undefined())
	assert.Contains(t, s.String(), "2 of 3 groups, 1 undefined")

	empty := DatasetWise(nil, Kendall)
	assert.True(t, math.IsNaN(empty.Mean))
}

func TestBootstrap(t *testing.T) {
	preds := testPredictions()
	ci, err := Bootstrap(preds, Spearman, 200, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Positive(t, ci.Samples)
	assert.LessOrEqual(t, ci.Low, ci.Median)
	assert.LessOrEqual(t, ci.Median, ci.High)
	assert.GreaterOrEqual(t, ci.Low, -1.0)
	assert.LessOrEqual(t, ci.High, 1.0)
	assert.Contains(t, ci.String(), "95% CI")

	ci2, err := Bootstrap(preds, Spearman, 200, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, ci, ci2, "same seed, same interval")

	_, err = Bootstrap(preds, Spearman, 0, nil)
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)
	_, err = Bootstrap(nil, Spearman, 10, nil)
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)
	_, err = Bootstrap(preds[6:], Spearman, 10, nil)
	require.Error(t, err, "single pair never defines a correlation")
}

func TestReadPredictions(t *testing.T) {
	csv := strings.Join([]string{
		"datasetId,baseSf,baseAdduct,otherSf,otherAdduct,rank,pred",
		"ds1,C1,+H,C2,+Na,3,2.6",
		"ds1,C1,+H,C3,+H,7,",
		"ds2,C5,+K,C6,+H,10,9.4",
	}, "\n")
	preds, err := ReadPredictions(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, preds, 2, "row with missing prediction dropped")
	assert.Equal(t, "ds2", preds[1].DatasetID)
	assert.Equal(t, "+K", preds[1].BaseAdduct)
	assert.Equal(t, 10.0, preds[1].Rank)
	assert.InDelta(t, 9.4, preds[1].Pred, 1e-9)

	rounded := Round(preds)
	assert.Equal(t, 3.0, rounded[0].Pred)
	assert.InDelta(t, 2.6, preds[0].Pred, 1e-9, "Round doesn't modify its input")

	_, err = ReadPredictions(strings.NewReader("datasetId,baseSf,baseAdduct,otherSf,otherAdduct,rank\nds1,C1,+H,C2,+H,1\n"))
	require.ErrorIs(t, err, errs.ErrMalformedRecord)

	path := filepath.Join(t.TempDir(), "preds.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	preds, err = LoadPredictions(path)
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

func TestPlotHistogram(t *testing.T) {
	s := DatasetWise(testPredictions(), Spearman)
	path := filepath.Join(t.TempDir(), "plots", "hist.png")
	require.NoError(t, PlotHistogram(s, "Spearman", 10, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	require.Error(t, PlotHistogram(Summary{}, "empty", 10, path))
}
