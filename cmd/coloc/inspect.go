// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/disintegration/imaging"
	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/sampling"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	numBatches := fs.Int("batches", 3, "Number of batches to pull.")
	validation := fs.Bool("validation", false, "Inspect the validation iterator instead of the training one.")
	coverage := fs.Bool("coverage", false, "Audit the rows sampled in each epoch.")
	previewDir := fs.String("preview", "", "If set, directory where to save PNG previews of the samples.")
	previewSamples := fs.Int("preview_samples", 4, "Number of samples of each batch to preview.")
	cfg, err := parseConfig(fs, args)
	if err != nil {
		return err
	}

	trainIt, valIt, err := buildIterators(ctx, cfg, true)
	if err != nil {
		return err
	}
	it := trainIt
	if *validation {
		it = valIt
	}
	it.WithFilenames(true)
	var audit *sampling.Coverage
	if *coverage {
		audit = sampling.NewCoverage(it.Len())
		it.WithCoverage(audit)
	}
	if *previewDir != "" {
		must.M(os.MkdirAll(*previewDir, 0o755))
	}

	summary, err := runSummary(cfg)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	fmt.Println(titleStyle.Render(fmt.Sprintf("Iterator %q: %d rows, %d batches per epoch",
		it.Name(), it.Len(), it.BatchesPerEpoch())))
	t := newTable([]string{"Batch", "Epoch", "Inputs", "Targets (min/mean/max)", "Weights", "First sample"},
		lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for ii := range *numBatches {
		batch, err := it.NextContext(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.WithMessagef(err, "batch %d", ii)
		}
		first := ""
		if len(batch.Filenames) > 0 {
			first = batch.Filenames[0].String()
		}
		t.add(false, strconv.Itoa(ii), strconv.Itoa(batch.Epoch), inputShapes(batch), targetStats(batch),
			weightSums(batch), first)
		if *previewDir != "" {
			if err := savePreviews(batch, ii, *previewSamples, *previewDir); err != nil {
				return err
			}
		}
	}
	fmt.Println(t.Render())

	if audit != nil {
		fmt.Println(titleStyle.Render("Coverage"))
		ct := newTable([]string{"Epoch", "Visited", "Missing", "Repeated"}, lipgloss.Right)
		for _, epoch := range audit.Report() {
			ct.add(epoch.Repeats > 0, strconv.Itoa(epoch.Epoch), strconv.Itoa(epoch.Visited),
				strconv.Itoa(epoch.Missing), strconv.Itoa(epoch.Repeats))
		}
		fmt.Println(ct.Render())
		if err := audit.Verify(); err != nil {
			return err
		}
	}
	return nil
}

func inputShapes(batch *batches.Batch) string {
	parts := make([]string, len(batch.Inputs))
	for ii, input := range batch.Inputs {
		parts[ii] = fmt.Sprint(input.Shape())
	}
	return strings.Join(parts, " ")
}

func targetStats(batch *batches.Batch) string {
	parts := make([]string, len(batch.Targets))
	for ii, targets := range batch.Targets {
		if len(targets) == 0 {
			continue
		}
		var sum float32
		for _, v := range targets {
			sum += v
		}
		parts[ii] = fmt.Sprintf("%.2f/%.2f/%.2f", slices.Min(targets), sum/float32(len(targets)), slices.Max(targets))
	}
	return strings.Join(parts, " ")
}

func weightSums(batch *batches.Batch) string {
	if len(batch.Weights) == 0 {
		return "-"
	}
	parts := make([]string, len(batch.Weights))
	for ii, weights := range batch.Weights {
		var sum float32
		for _, v := range weights {
			sum += v
		}
		parts[ii] = fmt.Sprintf("%g", sum)
	}
	return strings.Join(parts, " ")
}

// savePreviews writes the previews of the first samples of the batch as PNG files.
func savePreviews(batch *batches.Batch, batchIdx, numSamples int, dir string) error {
	for ii := range min(numSamples, batch.Size()) {
		img, err := batches.PreviewImage(batch, ii)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("batch%03d-sample%02d.png", batchIdx, ii))
		if err := imaging.Save(img, path); err != nil {
			return errors.Wrapf(err, "failed to save preview %q", path)
		}
	}
	return nil
}
