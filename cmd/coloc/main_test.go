// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/coloc/pkg/config"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pregen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestFlagValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("quiet", false, "")
	args := []string{"-batch=3", "--config", "run.yaml", "-quiet", "-variant=mu", "extra", "-fold=2"}
	v, found := flagValue(fs, args, "config")
	assert.True(t, found)
	assert.Equal(t, "run.yaml", v)
	v, found = flagValue(fs, args, "variant")
	assert.True(t, found)
	assert.Equal(t, "mu", v)
	_, found = flagValue(fs, args, "fold")
	assert.False(t, found, "parsing stops at the first non-flag argument")

	// The values of other flags are not taken for flag names.
	v, found = flagValue(fs, []string{"-data", "DIR", "-quiet", "-variant", "mu"}, "variant")
	assert.True(t, found)
	assert.Equal(t, "mu", v)
	_, found = flagValue(fs, []string{"-data", "-variant"}, "variant")
	assert.False(t, found)
}

// writeDataDir creates a data directory with a manifest of numDatasets datasets, each with 3 pairs, and
// all their images.
func writeDataDir(t *testing.T, numDatasets int) string {
	dir := t.TempDir()
	var records []pairs.Record
	for ds := range numDatasets {
		for ii := range 3 {
			records = append(records, pairs.Record{
				DatasetID: fmt.Sprintf("ds%d", ds), BaseSF: "C6H12O6", BaseAdduct: "+H",
				OtherSF: fmt.Sprintf("C%dH4", ii+1), OtherAdduct: "+Na", Rank: float64(3 * ii),
			})
		}
	}
	for _, r := range records {
		base, other, err := r.ImageNames(pairs.DefaultImageExt)
		require.NoError(t, err)
		for _, name := range []string{base, other} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				continue
			}
			img := image.NewGray(image.Rect(0, 0, 8, 8))
			for ii := range img.Pix {
				img.Pix[ii] = uint8(ii * 4)
			}
			f, err := os.Create(path)
			require.NoError(t, err)
			require.NoError(t, tiff.Encode(f, img, nil))
			require.NoError(t, f.Close())
		}
	}
	f, err := os.Create(filepath.Join(dir, "coloc_gs.csv"))
	require.NoError(t, err)
	require.NoError(t, pairs.WriteManifest(f, pairs.NewManifest(records)))
	require.NoError(t, f.Close())
	return dir
}

func TestParseConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("variant: mu\nbatch_size: 4\n"), 0o644))

	cfg, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config", path, "-crop=32"})
	require.NoError(t, err)
	assert.Equal(t, config.VariantMu, cfg.Variant)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 32, cfg.CropSize)

	cfg, err = parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-variant=pi"})
	require.NoError(t, err)
	assert.Equal(t, config.ForVariant(config.VariantPi).LRSteps, cfg.LRSteps)

	// Presets follow -variant wherever it is on the command line.
	cfg, err = parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-data", dir, "-variant", "mu"})
	require.NoError(t, err)
	mu := config.ForVariant(config.VariantMu)
	assert.Equal(t, config.VariantMu, cfg.Variant)
	assert.Equal(t, mu.Epochs, cfg.Epochs)
	assert.Equal(t, mu.TargetNoise, cfg.TargetNoise)
	assert.Equal(t, mu.LRSteps, cfg.LRSteps)

	_, err = parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-fold=9"})
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func TestRunSummary(t *testing.T) {
	cfg := config.ForVariant(config.VariantMu)
	summary, err := runSummary(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mu model, 2200 epochs, learning rate 0.0001 from epoch 0, "+
		"checkpoints checkpoint.xception.embd512.sz128.fold5-5.<epoch>-<loss>", summary)

	cfg = config.Default()
	summary, err = runSummary(cfg)
	require.NoError(t, err)
	assert.Contains(t, summary, "0.001 from epoch 0, 0.0001 from epoch 10, 5e-05 from epoch 100")

	cfg.LRSteps = map[int]float64{3: 0.1}
	_, err = runSummary(cfg)
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func TestBuildIterators(t *testing.T) {
	dir := writeDataDir(t, 4)
	ctx := context.Background()
	for _, variant := range []string{config.VariantPair, config.VariantMu} {
		t.Run(variant, func(t *testing.T) {
			cfg := config.ForVariant(variant)
			cfg.DataDir = dir
			cfg.CropSize = 4
			cfg.BatchSize = 2
			cfg.Fold, cfg.Folds = 2, 2
			require.NoError(t, cfg.Validate())
			trainIt, valIt, err := buildIterators(ctx, cfg, false)
			require.NoError(t, err)
			assert.Equal(t, "train", trainIt.Name())
			assert.Equal(t, "validation", valIt.Name())

			batch, err := trainIt.Next()
			require.NoError(t, err)
			assert.Equal(t, 2, batch.Size())
			if variant == config.VariantMu {
				// Groups of the 2 training datasets.
				assert.Equal(t, 2, trainIt.Len())
			} else {
				assert.Equal(t, 6, trainIt.Len())
			}
			assert.Equal(t, 6, valIt.Len())
		})
	}
}

func TestCommands(t *testing.T) {
	dir := writeDataDir(t, 3)
	ctx := context.Background()
	common := []string{"-data", dir, "-crop=4", "-batch=2", "-fold=1", "-folds=3", "-workers=2"}

	require.NoError(t, runSplit(ctx, common))
	require.NoError(t, runSplit(ctx, append(common, "-checkpoint", "/models/checkpoint.xception.sz4.fold2-3.05-0.10.hdf5")))
	require.Error(t, runSplit(ctx, append(common, "-checkpoint", "model.bin")))
	require.ErrorIs(t, runSplit(ctx, append(common, "-checkpoint", "checkpoint.xception.sz4.fold4-3.05-0.10")),
		errs.ErrInvalidConfiguration)

	previews := filepath.Join(t.TempDir(), "previews")
	require.NoError(t, runInspect(ctx, append(common, "-batches=2", "-coverage", "-preview", previews, "-preview_samples=1")))
	entries, err := os.ReadDir(previews)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	out := filepath.Join(t.TempDir(), "train.pregen")
	require.NoError(t, runPregen(ctx, append(common, "-out", out, "-epochs=2", "-codec=lz4", "-quiet")))
	r, err := pregen.Open(out)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	var count int
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 6, count, "2 epochs of 6 training pairs in batches of 2")

	require.Error(t, runPregen(ctx, common), "-out is required")
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	preds := filepath.Join(dir, "preds.csv")
	require.NoError(t, os.WriteFile(preds, []byte(
		"datasetId,baseSf,baseAdduct,otherSf,otherAdduct,rank,pred\n"+
			"ds1,C1,+H,C2,+H,1,1.2\n"+
			"ds1,C1,+H,C3,+H,5,4.6\n"+
			"ds1,C1,+H,C4,+H,9,8.1\n"+
			"ds2,C1,+H,C2,+H,2,7\n"+
			"ds2,C1,+H,C3,+H,8,3\n"), 0o644))
	hist := filepath.Join(dir, "hist")
	require.NoError(t, runStats(context.Background(), []string{"-preds", preds, "-bootstrap=20", "-seed=3", "-hist", hist}))
	_, err := os.Stat(filepath.Join(hist, "spearman.png"))
	require.NoError(t, err)

	require.Error(t, runStats(context.Background(), []string{"-preds", preds, "-metrics=cosine"}))
	require.Error(t, runStats(context.Background(), nil))
}
