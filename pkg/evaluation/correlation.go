// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation measures how well predicted co-localization ranks agree with the annotated ones.
//
// Agreement is measured per group of pairs sharing the same base ion in the same dataset, with a rank
// correlation (Spearman or Kendall), and then summarized across groups. Bootstrap gives confidence
// intervals for the summary.
package evaluation

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Correlation between two equal length samples. It returns NaN when undefined, e.g. for constant samples.
type Correlation func(x, y []float64) float64

// Spearman rank correlation: the Pearson correlation of the ranks, with ties given their average rank.
func Spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(rank(x), rank(y), nil)
}

// Pearson correlation coefficient.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// Kendall tau-b rank correlation, which accounts for ties in either sample.
// Unlike stat.Kendall (tau-a), pairs tied in one sample are excluded from that sample's normalization term.
func Kendall(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return math.NaN()
	}
	var concordant, discordant, tiesX, tiesY float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := sign(x[j] - x[i])
			dy := sign(y[j] - y[i])
			switch {
			case dx == 0 && dy == 0:
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case dx == dy:
				concordant++
			default:
				discordant++
			}
		}
	}
	denominator := math.Sqrt((concordant + discordant + tiesX) * (concordant + discordant + tiesY))
	if denominator == 0 {
		return math.NaN()
	}
	return (concordant - discordant) / denominator
}

// ByName returns the Correlation named "spearman", "kendall" or "pearson".
func ByName(name string) (Correlation, bool) {
	switch name {
	case "spearman":
		return Spearman, true
	case "kendall":
		return Kendall, true
	case "pearson":
		return Pearson, true
	}
	return nil, false
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// rank returns the 1-based ranks of the values, ties getting the average of the ranks they span.
func rank(values []float64) []float64 {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
	ranks := make([]float64, len(values))
	for start := 0; start < len(order); {
		end := start + 1
		for end < len(order) && values[order[end]] == values[order[start]] {
			end++
		}
		// Ranks start+1 .. end, averaged.
		avg := float64(start+1+end) / 2
		for _, idx := range order[start:end] {
			ranks[idx] = avg
		}
		start = end
	}
	return ranks
}

// percentile with linear interpolation between the closest ranks, p in [0, 100]. sorted must be sorted and
// not empty.
//
// This is the common "(n-1)*p" definition, which differs from stat.Quantile's LinInterp.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// median of the values, which are not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return percentile(sorted, 50)
}
