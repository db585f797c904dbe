// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package batches generates the batches used to train and evaluate the co-localization models,
// from a manifest of image pairs (or, for the mu-model, from the images grouped by dataset).
//
// Three iterators are provided, all of the same Iterator type:
//
//   - NewPairIterator: each sample is a pair of ion images of the same dataset, stacked as a two-channel
//     image, with its normalized co-localization rank as target.
//   - NewPiIterator: semi-supervised pi-model batches. The first half of the batch holds supervised
//     pairs (target and weight 1), the second half unsupervised pairs (weight 0). Each sample is given
//     twice, with two independent augmentations.
//   - NewMuIterator and NewMuValidationIterator: the two images of the pair are given as separate
//     single-channel inputs. For training, pairs are drawn from the images of each dataset and the
//     second image is blended toward the first by a random target.
//
// Iterators are safe for concurrent use: Iterator.Next only holds a lock while taking the next window of
// rows from its sampling.Sequencer, and loads and augments the images outside of it, so several goroutines
// (see package parallel) can produce batches at the same time.
//
// Iterators implement train.Dataset, so they can be used directly by a GoMLX train.Loop.
package batches

import (
	"context"
	"math/rand/v2"

	"github.com/gomlx/coloc/pkg/augment"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/sampling"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrExhausted is returned by Iterator.Next once a finite iterator has yielded its whole epoch. It is io.EOF.
var ErrExhausted = errs.ErrExhausted

// RankNormalization is the factor that maps ranks to targets in [0, 1].
const RankNormalization = pairs.MaxRank

// Config of an Iterator. The zero value is not valid: at least BatchSize and CropSize must be set.
type Config struct {
	// BatchSize is the number of samples per batch. The last batch of an epoch may be smaller.
	// For the pi iterator, ceil(BatchSize/2) samples are supervised and the rest unsupervised.
	BatchSize int

	// CropSize is the side, in pixels, of the square the images are resized to.
	CropSize int

	// Augment is applied to each sample. Nil means no augmentation.
	Augment augment.Transform

	// TargetNoise adds uniform noise in [-TargetNoise, TargetNoise]*10 to the ranks, before clipping to
	// [0, 10] and normalizing. Zero means no noise.
	TargetNoise float64

	// Shuffle, Seed and InfiniteLoop configure the sampling.Sequencer, see sampling.Config.
	Shuffle      bool
	Seed         *int64
	InfiniteLoop bool

	// ImageExt is the extension of the image files. Defaults to pairs.DefaultImageExt.
	ImageExt string

	// Workers is the number of samples of a batch loaded in parallel. Values < 1 mean 1.
	Workers int

	// MixCategories is the number of mixing levels of the mu iterator in training mode: targets are drawn
	// from {0, 1/(k-1), ..., 1}. Defaults to 2, that is, targets in {0, 1}.
	MixCategories int

	// MixContinuous makes the mu iterator draw its targets uniformly from [0, 1] instead.
	MixContinuous bool
}

func (c Config) validate() error {
	if c.BatchSize <= 0 {
		return errs.InvalidConfigf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.CropSize <= 0 {
		return errs.InvalidConfigf("crop size must be positive, got %d", c.CropSize)
	}
	if c.MixCategories == 1 || c.MixCategories < 0 {
		return errs.InvalidConfigf("mix categories must be >= 2, got %d", c.MixCategories)
	}
	if c.TargetNoise < 0 {
		return errs.InvalidConfigf("target noise must be >= 0, got %g", c.TargetNoise)
	}
	return nil
}

func (c Config) imageExt() string {
	if c.ImageExt == "" {
		return pairs.DefaultImageExt
	}
	return c.ImageExt
}

func (c Config) augmentation() augment.Transform {
	if c.Augment == nil {
		return augment.Identity
	}
	return c.Augment
}

// materializer builds the batch for a window of rows. Implementations must be safe for concurrent use.
type materializer interface {
	materialize(ctx context.Context, it *Iterator, w sampling.Window) (*Batch, error)
}

// Iterator yields batches. See the package documentation for the available variants.
type Iterator struct {
	name          string
	config        Config
	seq           *sampling.Sequencer
	m             materializer
	withFilenames bool
	precision     Precision
	coverage      *sampling.Coverage
}

var (
	_ train.Dataset      = (*Iterator)(nil)
	_ train.HasShortName = (*Iterator)(nil)
)

func newIterator(kind string, length int, seqConfig sampling.Config, config Config, m materializer) (*Iterator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	seq, err := sampling.New(length, seqConfig)
	if err != nil {
		return nil, err
	}
	name := kind + "-" + uuid.NewString()[:8]
	seq.WithName(name)
	return &Iterator{
		name:   name,
		config: config,
		seq:    seq,
		m:      m,
	}, nil
}

// sequencerConfig of the Iterator's sampling.Sequencer, with the given window size.
func (c Config) sequencerConfig(windowSize int) sampling.Config {
	return sampling.Config{
		BatchSize:    windowSize,
		Shuffle:      c.Shuffle,
		Seed:         c.Seed,
		InfiniteLoop: c.InfiniteLoop,
	}
}

// WithName sets the name of the iterator, used by train.Loop to name the metrics and in logs.
// It returns the iterator itself, to allow chaining calls.
func (it *Iterator) WithName(name string) *Iterator {
	it.name = name
	it.seq.WithName(name)
	return it
}

// WithFilenames configures whether batches include the file names of their samples.
// It returns the iterator itself, to allow chaining calls.
func (it *Iterator) WithFilenames(withFilenames bool) *Iterator {
	it.withFilenames = withFilenames
	return it
}

// WithPrecision sets the precision of the tensors returned by Yield. Default is Float32.
// It returns the iterator itself, to allow chaining calls.
func (it *Iterator) WithPrecision(precision Precision) *Iterator {
	it.precision = precision
	return it
}

// WithCoverage makes the iterator record every window of rows it takes in coverage.
// It returns the iterator itself, to allow chaining calls.
func (it *Iterator) WithCoverage(coverage *sampling.Coverage) *Iterator {
	it.coverage = coverage
	return it
}

// Config returns the configuration of the iterator.
func (it *Iterator) Config() Config { return it.config }

// Len returns the number of rows the iterator samples from: records, or datasets for the mu iterator.
func (it *Iterator) Len() int { return it.seq.Len() }

// BatchesPerEpoch returns the number of batches in each epoch.
func (it *Iterator) BatchesPerEpoch() int { return it.seq.WindowsPerEpoch() }

// Next returns the next batch, or ErrExhausted (io.EOF) once a finite iterator is done.
// It is equivalent to NextContext with a background context.
func (it *Iterator) Next() (*Batch, error) {
	return it.NextContext(context.Background())
}

// NextContext returns the next batch, or ErrExhausted (io.EOF) once a finite iterator is done.
//
// A failure to load any of the images of the batch fails the whole batch: the error matches
// errs.ErrMissingOrCorruptImage and names the image. The window of rows of a failed batch is not retried.
func (it *Iterator) NextContext(ctx context.Context) (*Batch, error) {
	w, err := it.seq.Next()
	if err != nil {
		return nil, err
	}
	if it.coverage != nil {
		it.coverage.Observe(w)
	}
	batch, err := it.m.materialize(ctx, it, w)
	if err != nil {
		return nil, err
	}
	batch.Epoch = w.Epoch
	if !it.withFilenames {
		batch.Filenames = nil
	}
	return batch, nil
}

// Name implements train.Dataset.
func (it *Iterator) Name() string { return it.name }

// ShortName implements train.HasShortName.
func (it *Iterator) ShortName() string {
	if len(it.name) <= 5 {
		return it.name
	}
	return it.name[:5]
}

// Reset implements train.Dataset. It restarts the iterator from the beginning of an epoch.
func (it *Iterator) Reset() { it.seq.Reset() }

// Yield implements train.Dataset. It returns the next batch converted to tensors with Batch.ToTensors.
// At the end of a finite iterator it returns io.EOF.
func (it *Iterator) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	var batch *Batch
	batch, err = it.Next()
	if err != nil {
		return
	}
	spec = it
	inputs, labels = batch.ToTensors(it.precision)
	return
}

// sampleRands returns one random number generator per sample, seeded from rng, so samples can be
// materialized in parallel and still be reproducible for seeded iterators.
func sampleRands(rng *rand.Rand, n int) []*rand.Rand {
	rands := make([]*rand.Rand, n)
	for ii := range rands {
		rands[ii] = rand.New(rand.NewPCG(rng.Uint64(), uint64(ii)))
	}
	return rands
}

// forEachSample calls fn for every sample index in [0, n), using up to config.Workers goroutines.
// It returns the first error.
func (it *Iterator) forEachSample(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(it.config.Workers, 1))
	for ii := range n {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			return fn(gCtx, ii)
		})
	}
	return g.Wait()
}

// normalizedTarget returns clip(rank + U(-noise, noise)*10, 0, 10)/10. It draws from rng only if noise > 0.
func normalizedTarget(rank, noise float64, rng *rand.Rand) float32 {
	if noise > 0 {
		rank += (rng.Float64()*2 - 1) * noise * RankNormalization
	}
	rank = min(max(rank, 0), RankNormalization)
	return float32(rank / RankNormalization)
}
