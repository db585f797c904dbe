// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batches

import (
	"context"
	"math/rand/v2"

	"github.com/gomlx/coloc/pkg/imagestore"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/gomlx/coloc/pkg/sampling"
)

// UnsupervisedTarget is the placeholder target of unsupervised samples. Their weight is 0, so it is
// never used by a loss.
const UnsupervisedTarget = -100

// piMaterializer builds semi-supervised batches: supervised rows come from the sequencer, unsupervised
// rows are sampled anew for every batch.
type piMaterializer struct {
	sup, unsup *pairSource
	numUnsup   int

	// unsupLen is the number of unsupervised records, sampled with replacement if fewer than numUnsup.
	unsupLen             int
	unsupWithReplacement bool
}

// NewPiIterator creates an Iterator for pi-model (semi-supervised) training.
//
// Each batch has ceil(BatchSize/2) supervised samples, from supManifest in the sequencer order (the last
// batch of an epoch may have fewer), followed by BatchSize/2 unsupervised samples drawn uniformly from
// unsupManifest on each batch (without repetition within a batch, if unsupManifest is large enough).
// The epoch is defined by the supervised manifest only.
//
// Batches have two inputs, two independent augmentations of the same pairs, and two heads:
//
//   - Head 1: target is the normalized rank (with noise, see Config.TargetNoise) and weight 1 for supervised
//     samples; target UnsupervisedTarget and weight 0 for unsupervised samples.
//   - Head 2: target 0 and weight 1 for every sample.
func NewPiIterator(supStore imagestore.Store, supManifest *pairs.Manifest,
	unsupStore imagestore.Store, unsupManifest *pairs.Manifest, config Config) (*Iterator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	sup, err := newPairSource(supStore, supManifest, config)
	if err != nil {
		return nil, err
	}
	numSup := (config.BatchSize + 1) / 2
	m := &piMaterializer{sup: sup, numUnsup: config.BatchSize - numSup}
	if m.numUnsup > 0 {
		m.unsup, err = newPairSource(unsupStore, unsupManifest, config)
		if err != nil {
			return nil, err
		}
		m.unsupLen = unsupManifest.Len()
		m.unsupWithReplacement = m.unsupLen < m.numUnsup
	}
	return newIterator("pi", supManifest.Len(), config.sequencerConfig(numSup), config, m)
}

func (m *piMaterializer) materialize(ctx context.Context, it *Iterator, w sampling.Window) (*Batch, error) {
	rng := w.Rand()
	var unsupRows []int
	if m.numUnsup > 0 {
		unsupRows = sampleRows(rng, m.unsupLen, m.numUnsup, m.unsupWithReplacement)
	}
	numSup := w.Size
	n := numSup + len(unsupRows)

	crop := it.config.CropSize
	batch := &Batch{
		Inputs:    []*Images{NewImages(n, crop, pixels.NumPairChannels), NewImages(n, crop, pixels.NumPairChannels)},
		Targets:   [][]float32{make([]float32, n), make([]float32, n)},
		Weights:   [][]float32{make([]float32, n), make([]float32, n)},
		Filenames: make([]pairs.Filename, n),
	}
	rands := sampleRands(rng, n)
	transform := it.config.augmentation()
	err := it.forEachSample(ctx, n, func(ctx context.Context, i int) error {
		supervised := i < numSup
		source, row := m.sup, 0
		if supervised {
			row = w.Rows[i]
		} else {
			source, row = m.unsup, unsupRows[i-numSup]
		}
		record, pair, filename, err := source.load(ctx, row)
		if err != nil {
			return err
		}
		rng := rands[i]
		if err := batch.Inputs[0].Set(i, transform(pair, rng), 0, 1); err != nil {
			return err
		}
		if err := batch.Inputs[1].Set(i, transform(pair, rng), 0, 1); err != nil {
			return err
		}
		if supervised {
			batch.Targets[0][i] = normalizedTarget(record.Rank, it.config.TargetNoise, rng)
			batch.Weights[0][i] = 1
		} else {
			batch.Targets[0][i] = UnsupervisedTarget
		}
		batch.Weights[1][i] = 1
		batch.Filenames[i] = filename
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// sampleRows draws k row indices in [0, n). Without replacement, k must be <= n.
func sampleRows(rng *rand.Rand, n, k int, withReplacement bool) []int {
	rows := make([]int, k)
	if withReplacement {
		for ii := range rows {
			rows[ii] = rng.IntN(n)
		}
		return rows
	}
	// Partial Fisher-Yates shuffle, with the swapped positions kept in a map.
	swapped := make(map[int]int, 2*k)
	at := func(i int) int {
		if v, found := swapped[i]; found {
			return v
		}
		return i
	}
	for ii := range rows {
		jj := ii + rng.IntN(n-ii)
		rows[ii] = at(jj)
		swapped[jj] = at(ii)
	}
	return rows
}
