// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batches

import (
	"context"
	"image"
	"math/rand/v2"

	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/imagestore"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/gomlx/coloc/pkg/sampling"
	"github.com/pkg/errors"
)

// DefaultMixCategories is the default number of mixing levels of the mu iterator: targets are 0 or 1.
const DefaultMixCategories = 2

// muMaterializer builds mu-model training batches from pairs of images of the same dataset.
type muMaterializer struct {
	loader  *imagestore.Loader
	groups  *pairs.Groups
	shuffle bool
}

// NewMuIterator creates an Iterator for mu-model training. Each sample is drawn from one dataset group:
// the iterator loops over the groups (in the sequencer order), and for each one picks 2 distinct images,
// at random if Config.Shuffle is set, otherwise the first two.
//
// A target t is drawn for each sample (see Config.MixCategories and Config.MixContinuous), and the second
// image is replaced by the blend img1*(1-t) + img2*t. The pair is then augmented, and the batch has two
// inputs with the first and second images [batch, crop, crop, 1], and one target t.
func NewMuIterator(store imagestore.Store, groups *pairs.Groups, config Config) (*Iterator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if groups == nil || groups.Len() == 0 {
		return nil, errs.InvalidConfigf("no dataset with at least 2 images")
	}
	loader, err := imagestore.NewLoader(store, config.CropSize)
	if err != nil {
		return nil, err
	}
	m := &muMaterializer{loader: loader, groups: groups, shuffle: config.Shuffle}
	return newIterator("mu", groups.Len(), config.sequencerConfig(config.BatchSize), config, m)
}

func (m *muMaterializer) materialize(ctx context.Context, it *Iterator, w sampling.Window) (*Batch, error) {
	n := w.Size
	batch := newMuBatch(n, it.config.CropSize)
	rands := sampleRands(w.Rand(), n)
	transform := it.config.augmentation()
	err := it.forEachSample(ctx, n, func(ctx context.Context, i int) error {
		group := m.groups.At(w.Rows[i])
		rng := rands[i]
		first, second := 0, 1
		if m.shuffle {
			first, second = pickTwo(rng, len(group.Images))
		}
		name1, name2 := group.Images[first], group.Images[second]
		img1, err := m.loader.Load(ctx, name1)
		if err != nil {
			return err
		}
		img2, err := m.loader.Load(ctx, name2)
		if err != nil {
			return err
		}
		target := mixTarget(it.config, rng)
		pair, err := pixels.Stack(img1, pixels.Blend(img1, img2, target))
		if err != nil {
			return err
		}
		if err := batch.setMu(i, transform(pair, rng), float32(target)); err != nil {
			return err
		}
		batch.Filenames[i], err = filenameOf(name1, name2)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// muValidationMaterializer builds mu-model batches from the records of a manifest, with their ranks as targets.
type muValidationMaterializer struct {
	source *pairSource
}

// NewMuValidationIterator creates an Iterator to evaluate a mu-model on the records of a manifest.
//
// It always goes once over the records in the manifest order: Config.Shuffle and Config.InfiniteLoop
// are ignored. Images are not blended, and the target is rank/10. The batches have the same layout as
// those of NewMuIterator.
func NewMuValidationIterator(store imagestore.Store, manifest *pairs.Manifest, config Config) (*Iterator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	source, err := newPairSource(store, manifest, config)
	if err != nil {
		return nil, err
	}
	config.Shuffle = false
	config.InfiniteLoop = false
	return newIterator("mu-val", manifest.Len(), config.sequencerConfig(config.BatchSize), config,
		&muValidationMaterializer{source: source})
}

func (m *muValidationMaterializer) materialize(ctx context.Context, it *Iterator, w sampling.Window) (*Batch, error) {
	n := w.Size
	batch := newMuBatch(n, it.config.CropSize)
	rands := sampleRands(w.Rand(), n)
	transform := it.config.augmentation()
	err := it.forEachSample(ctx, n, func(ctx context.Context, i int) error {
		record, pair, filename, err := m.source.load(ctx, w.Rows[i])
		if err != nil {
			return err
		}
		if err := batch.setMu(i, transform(pair, rands[i]), float32(record.Rank/RankNormalization)); err != nil {
			return err
		}
		batch.Filenames[i] = filename
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func newMuBatch(n, crop int) *Batch {
	return &Batch{
		Inputs:    []*Images{NewImages(n, crop, 1), NewImages(n, crop, 1)},
		Targets:   [][]float32{make([]float32, n)},
		Filenames: make([]pairs.Filename, n),
	}
}

// setMu splits the augmented pair into the two inputs of sample i, and sets its target.
func (b *Batch) setMu(i int, pair *image.NRGBA, target float32) error {
	if err := b.Inputs[0].Set(i, pair, 0); err != nil {
		return err
	}
	if err := b.Inputs[1].Set(i, pair, 1); err != nil {
		return err
	}
	b.Targets[0][i] = target
	return nil
}

// pickTwo returns two distinct random indices in [0, n), n >= 2.
func pickTwo(rng *rand.Rand, n int) (int, int) {
	first := rng.IntN(n)
	second := rng.IntN(n - 1)
	if second >= first {
		second++
	}
	return first, second
}

// mixTarget draws the blending target of a mu training sample.
func mixTarget(config Config, rng *rand.Rand) float64 {
	if config.MixContinuous {
		return rng.Float64()
	}
	categories := config.MixCategories
	if categories == 0 {
		categories = DefaultMixCategories
	}
	return float64(rng.IntN(categories)) / float64(categories-1)
}

// filenameOf returns the Filename of a pair of images of the same dataset.
func filenameOf(name1, name2 string) (pairs.Filename, error) {
	datasetID, baseIon, err := pairs.ParseImageName(name1)
	if err != nil {
		return pairs.Filename{}, err
	}
	otherDatasetID, otherIon, err := pairs.ParseImageName(name2)
	if err != nil {
		return pairs.Filename{}, err
	}
	if otherDatasetID != datasetID {
		return pairs.Filename{}, errors.Errorf("images %q and %q are from different datasets", name1, name2)
	}
	return pairs.Filename{DatasetID: datasetID, BaseIon: baseIon, OtherIon: otherIon}, nil
}
