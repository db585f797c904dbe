// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/coloc/pkg/evaluation"
	"github.com/pkg/errors"
)

func runStats(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	predsPath := fs.String("preds", "", "Predictions CSV file, with the manifest columns plus \"pred\". Required.")
	metrics := fs.String("metrics", "spearman,kendall", "Comma-separated correlations: spearman, kendall or pearson.")
	round := fs.Bool("round", true, "Round the predictions to integer ranks.")
	numResamples := fs.Int("bootstrap", 100, "Number of bootstrap resamples for the confidence intervals. 0 disables them.")
	seed := fs.Int64("seed", -1, "Seed for the bootstrap resamples. Negative for a random one.")
	histDir := fs.String("hist", "", "If set, directory where to save the histograms of the per-group correlations.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *predsPath == "" {
		return errors.New("-preds is required")
	}
	preds, err := evaluation.LoadPredictions(*predsPath)
	if err != nil {
		return err
	}
	if *round {
		preds = evaluation.Round(preds)
	}
	var rng *rand.Rand
	if *seed >= 0 {
		rng = rand.New(rand.NewPCG(uint64(*seed), 0))
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %s predictions", filepath.Base(*predsPath),
		humanize.Comma(int64(len(preds))))))
	t := newTable([]string{"Correlation", "Overall", "Mean", "Median", "Groups", "Undefined", "Bootstrap (95% CI)"},
		lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for _, name := range strings.Split(*metrics, ",") {
		name = strings.TrimSpace(name)
		corr, found := evaluation.ByName(name)
		if !found {
			return errors.Errorf("unknown correlation %q", name)
		}
		ranks, predicted := make([]float64, len(preds)), make([]float64, len(preds))
		for ii, p := range preds {
			ranks[ii], predicted[ii] = p.Rank, p.Pred
		}
		summary := evaluation.DatasetWise(preds, corr)
		ci := "-"
		if *numResamples > 0 {
			interval, err := evaluation.Bootstrap(preds, corr, *numResamples, rng)
			if err != nil {
				return err
			}
			ci = interval.String()
		}
		t.add(false, name,
			fmt.Sprintf("%.3f", corr(ranks, predicted)),
			fmt.Sprintf("%.3f", summary.Mean),
			fmt.Sprintf("%.3f", summary.Median),
			strconv.Itoa(len(summary.Values))+"/"+strconv.Itoa(summary.Groups),
			strconv.Itoa(summary.Undefined()),
			ci)
		if *histDir != "" && len(summary.Values) > 0 {
			path := filepath.Join(*histDir, name+".png")
			if err := evaluation.PlotHistogram(summary, name+" per group", 20, path); err != nil {
				return err
			}
		}
	}
	fmt.Println(t.Render())
	return nil
}
