// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of a co-localization training or evaluation run: where the data
// is, how batches are generated, and the training hyperparameters.
//
// A Config is created with Default, optionally loaded from a YAML file with Load, and then overridden by
// command-line flags registered with Config.RegisterFlags.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/coloc/internal/fsutil"
	"github.com/gomlx/coloc/pkg/augment"
	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Variants of the batch iterators.
const (
	VariantPair = "pair"
	VariantPi   = "pi"
	VariantMu   = "mu"
)

// Config of a run.
type Config struct {
	// Variant of the model being trained, which defines the iterator used: "pair", "pi" or "mu".
	Variant string `yaml:"variant"`

	// DataDir is the location of the supervised images: a local directory, or a store location
	// like "s3://bucket/prefix" (see imagestore.New).
	DataDir string `yaml:"data_dir"`

	// Manifest is the CSV file with the supervised pairs. Relative paths are relative to DataDir,
	// if it is a local directory.
	Manifest string `yaml:"manifest"`

	// UnsupDir and UnsupManifest are the images and the pairs used for the unsupervised half of the
	// pi-model batches.
	UnsupDir      string `yaml:"unsup_dir"`
	UnsupManifest string `yaml:"unsup_manifest"`

	ImageExt string `yaml:"image_ext"`

	CropSize     int    `yaml:"crop_size"`
	EmbeddingDim int    `yaml:"embedding_dim"`
	Model        string `yaml:"model"`

	// Fold is the 1-based test fold out of Folds, see pairs.TrainTestSplit.
	Fold  int `yaml:"fold"`
	Folds int `yaml:"folds"`

	BatchSize    int             `yaml:"batch_size"`
	Epochs       int             `yaml:"epochs"`
	LearningRate float64         `yaml:"learning_rate"`
	LRSteps      map[int]float64 `yaml:"lr_steps"`
	LossWeights  []float64       `yaml:"loss_weights"`

	// TargetNoise and Augment are used for training batches only.
	TargetNoise float64 `yaml:"target_noise"`
	Augment     string  `yaml:"augment"`

	// Seed for the training batches. Nil means non-deterministic.
	Seed *int64 `yaml:"seed"`

	// Workers is the number of goroutines generating batches, and Precision the precision of the tensors.
	Workers   int    `yaml:"workers"`
	Precision string `yaml:"precision"`

	// RateLimit is the maximum number of images opened per second from a remote store. 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
}

// Default returns the default configuration, matching the settings used to train the reference models.
func Default() Config {
	return Config{
		Variant:       VariantPair,
		DataDir:       "Data",
		Manifest:      "coloc_gs.csv",
		UnsupDir:      "DataUnsupervised",
		UnsupManifest: "coloc_gs_unsup.csv",
		ImageExt:      pairs.DefaultImageExt,
		CropSize:      128,
		EmbeddingDim:  512,
		Model:         "xception",
		Fold:          5,
		Folds:         5,
		BatchSize:     16,
		Epochs:        320,
		LearningRate:  1e-4,
		LRSteps:       map[int]float64{0: 1e-3, 10: 1e-4, 100: 5e-5},
		LossWeights:   []float64{0.5, 10.0},
		TargetNoise:   0.05,
		Augment:       augment.TrainName,
		Workers:       3,
		Precision:     batches.Float32.String(),
	}
}

// ForVariant returns the Default configuration adjusted for the variant.
func ForVariant(variant string) Config {
	c := Default()
	c.Variant = variant
	switch variant {
	case VariantPi:
		c.Epochs = 200
		c.LRSteps = map[int]float64{0: 5e-5}
	case VariantMu:
		c.Epochs = 2200
		c.LRSteps = map[int]float64{0: 1e-4}
		c.TargetNoise = 0
	}
	return c
}

// Load reads the YAML file at path over the ForVariant configuration of the variant the file names (or
// Default if it names none). Unknown fields are an error, and lr_steps given in the file replace the preset
// steps instead of being merged with them.
func Load(path string) (Config, error) {
	c := Default()
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return c, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "failed to read configuration %q", path)
	}
	var preset struct {
		Variant string          `yaml:"variant"`
		LRSteps map[int]float64 `yaml:"lr_steps"`
	}
	if err := yaml.Unmarshal(contents, &preset); err != nil {
		return c, errors.Wrapf(errs.ErrInvalidConfiguration, "parsing %q: %v", path, err)
	}
	if preset.Variant != "" {
		c = ForVariant(preset.Variant)
	}
	if preset.LRSteps != nil {
		c.LRSteps = nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil && err != io.EOF {
		return c, errors.Wrapf(errs.ErrInvalidConfiguration, "parsing %q: %v", path, err)
	}
	return c, nil
}

// Save writes the configuration in YAML format.
func (c Config) Save(path string) error {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to serialize configuration")
	}
	if err := fsutil.EnsureParentDir(path); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, contents, 0o644), "failed to write configuration to %q", path)
}

// RegisterFlags registers command-line flags in fs that override the fields of c, with the current values
// of c as defaults. Call it before fs.Parse.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Variant, "variant", c.Variant, "Iterator variant: pair, pi or mu.")
	fs.StringVar(&c.DataDir, "data", c.DataDir, "Supervised images location: directory, s3://bucket/prefix or minio://host:port/bucket/prefix.")
	fs.StringVar(&c.Manifest, "manifest", c.Manifest, "CSV file with the supervised pairs.")
	fs.StringVar(&c.UnsupDir, "unsup_data", c.UnsupDir, "Unsupervised images location, for the pi variant.")
	fs.StringVar(&c.UnsupManifest, "unsup_manifest", c.UnsupManifest, "CSV file with the unsupervised pairs, for the pi variant.")
	fs.StringVar(&c.ImageExt, "ext", c.ImageExt, "Extension of the image files.")
	fs.IntVar(&c.CropSize, "crop", c.CropSize, "Size the images are resized to.")
	fs.IntVar(&c.Fold, "fold", c.Fold, "Test fold, from 1 to -folds.")
	fs.IntVar(&c.Folds, "folds", c.Folds, "Number of cross-validation folds.")
	fs.IntVar(&c.BatchSize, "batch", c.BatchSize, "Batch size.")
	fs.Float64Var(&c.TargetNoise, "noise", c.TargetNoise, "Noise added to the training targets.")
	fs.StringVar(&c.Augment, "augment", c.Augment, "Training augmentation: none or train.")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Goroutines generating batches.")
	fs.StringVar(&c.Precision, "precision", c.Precision, "Precision of the tensors: float32 or float16.")
	fs.Float64Var(&c.RateLimit, "rate_limit", c.RateLimit, "Maximum images opened per second from remote stores, 0 for unlimited.")
	fs.Func("seed", "Seed for the training batches. Unset means non-deterministic.", func(s string) error {
		var seed int64
		if _, err := fmt.Sscan(s, &seed); err != nil {
			return errors.Errorf("invalid seed %q", s)
		}
		c.Seed = &seed
		return nil
	})
}

// Validate checks the configuration, returning an error matching errs.ErrInvalidConfiguration.
func (c Config) Validate() error {
	switch c.Variant {
	case VariantPair, VariantPi, VariantMu:
	default:
		return errs.InvalidConfigf("unknown variant %q, valid values are %q", c.Variant,
			[]string{VariantPair, VariantPi, VariantMu})
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errs.InvalidConfigf("data directory not set")
	}
	if c.Variant != VariantMu && c.Manifest == "" {
		return errs.InvalidConfigf("manifest not set")
	}
	if c.Variant == VariantPi && (c.UnsupDir == "" || c.UnsupManifest == "") {
		return errs.InvalidConfigf("pi variant requires the unsupervised data and manifest")
	}
	if c.CropSize <= 0 {
		return errs.InvalidConfigf("crop size must be positive, got %d", c.CropSize)
	}
	if c.BatchSize <= 0 {
		return errs.InvalidConfigf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Folds < 1 || c.Fold < 1 || c.Fold > c.Folds {
		return errs.InvalidConfigf("fold %d out of %d folds", c.Fold, c.Folds)
	}
	if c.TargetNoise < 0 {
		return errs.InvalidConfigf("target noise must be >= 0, got %g", c.TargetNoise)
	}
	if _, err := augment.ByName(c.Augment); err != nil {
		return err
	}
	if _, err := batches.ParsePrecision(c.Precision); err != nil {
		return errors.Wrap(errs.ErrInvalidConfiguration, err.Error())
	}
	if _, err := NewSchedule(c.LRSteps); err != nil {
		return err
	}
	return nil
}

// TrainIteratorConfig returns the configuration of the training iterator: shuffled, infinite, augmented and
// with target noise.
func (c Config) TrainIteratorConfig() (batches.Config, error) {
	transform, err := augment.ByName(c.Augment)
	if err != nil {
		return batches.Config{}, err
	}
	return batches.Config{
		BatchSize:    c.BatchSize,
		CropSize:     c.CropSize,
		Augment:      transform,
		TargetNoise:  c.TargetNoise,
		Shuffle:      true,
		Seed:         c.Seed,
		InfiniteLoop: true,
		ImageExt:     c.ImageExt,
		Workers:      c.Workers,
	}, nil
}

// ValidationIteratorConfig returns the configuration of the validation iterator: one pass in manifest order,
// without augmentation nor noise.
func (c Config) ValidationIteratorConfig() batches.Config {
	return batches.Config{
		BatchSize: c.BatchSize,
		CropSize:  c.CropSize,
		ImageExt:  c.ImageExt,
		Workers:   c.Workers,
	}
}

// ManifestPath resolves the path of a manifest relative to a local data directory.
func ManifestPath(dataDir, manifest string) (string, error) {
	if strings.Contains(dataDir, "://") {
		return fsutil.ExpandHome(manifest)
	}
	return fsutil.Resolve(dataDir, manifest)
}
