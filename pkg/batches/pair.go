// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batches

import (
	"context"
	"image"

	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/imagestore"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/gomlx/coloc/pkg/sampling"
	"github.com/pkg/errors"
)

// pairSource loads the pairs of a manifest from an image store.
type pairSource struct {
	loader   *imagestore.Loader
	manifest *pairs.Manifest
	ext      string
}

func newPairSource(store imagestore.Store, manifest *pairs.Manifest, config Config) (*pairSource, error) {
	if manifest == nil || manifest.Len() == 0 {
		return nil, errs.InvalidConfigf("empty manifest")
	}
	loader, err := imagestore.NewLoader(store, config.CropSize)
	if err != nil {
		return nil, err
	}
	return &pairSource{loader: loader, manifest: manifest, ext: config.imageExt()}, nil
}

// load returns the record at row, its two images stacked as a pair, and its file names.
func (s *pairSource) load(ctx context.Context, row int) (pairs.Record, *image.NRGBA, pairs.Filename, error) {
	record := s.manifest.At(row)
	baseIon, otherIon, err := record.Ions()
	if err != nil {
		return record, nil, pairs.Filename{}, errors.WithMessagef(err, "manifest row %d", row)
	}
	pair, err := s.loader.LoadPair(ctx,
		pairs.ImageName(record.DatasetID, baseIon, s.ext),
		pairs.ImageName(record.DatasetID, otherIon, s.ext))
	if err != nil {
		return record, nil, pairs.Filename{}, err
	}
	return record, pair, pairs.Filename{DatasetID: record.DatasetID, BaseIon: baseIon, OtherIon: otherIon}, nil
}

// pairMaterializer builds batches of pairs with their normalized ranks as targets.
type pairMaterializer struct {
	source *pairSource
}

// NewPairIterator creates an Iterator over the manifest records, with images read from store.
//
// Each batch has one input, the pairs [batch, crop, crop, 2], and one target, the normalized rank
// clip(rank + U(-noise, noise)*10, 0, 10)/10 of each pair.
func NewPairIterator(store imagestore.Store, manifest *pairs.Manifest, config Config) (*Iterator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	source, err := newPairSource(store, manifest, config)
	if err != nil {
		return nil, err
	}
	return newIterator("pairs", manifest.Len(), config.sequencerConfig(config.BatchSize), config,
		&pairMaterializer{source: source})
}

func (m *pairMaterializer) materialize(ctx context.Context, it *Iterator, w sampling.Window) (*Batch, error) {
	n := w.Size
	batch := &Batch{
		Inputs:    []*Images{NewImages(n, it.config.CropSize, pixels.NumPairChannels)},
		Targets:   [][]float32{make([]float32, n)},
		Filenames: make([]pairs.Filename, n),
	}
	rands := sampleRands(w.Rand(), n)
	transform := it.config.augmentation()
	err := it.forEachSample(ctx, n, func(ctx context.Context, i int) error {
		record, pair, filename, err := m.source.load(ctx, w.Rows[i])
		if err != nil {
			return err
		}
		rng := rands[i]
		if err := batch.Inputs[0].Set(i, transform(pair, rng), 0, 1); err != nil {
			return err
		}
		batch.Targets[0][i] = normalizedTarget(record.Rank, it.config.TargetNoise, rng)
		batch.Filenames[i] = filename
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}
