// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pregen

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/imagestore"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource yields numBatches batches per epoch. Batch i has a pair input whose pixels are all
// Preprocess(i), target i/10, weight 1, and a filename with dataset id "ds".
type fakeSource struct {
	numBatches int

	mu   sync.Mutex
	next int
}

func (s *fakeSource) Name() string         { return "fake" }
func (s *fakeSource) BatchesPerEpoch() int { return s.numBatches }

func (s *fakeSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}

func (s *fakeSource) NextContext(_ context.Context) (*batches.Batch, error) {
	s.mu.Lock()
	i := s.next
	s.next++
	s.mu.Unlock()
	if i >= s.numBatches {
		return nil, io.EOF
	}
	return fakeBatch(i), nil
}

func fakeBatch(i int) *batches.Batch {
	const size = 3
	images := batches.NewImages(size, 4, 2)
	for j := range images.Data {
		images.Data[j] = pixels.Preprocess(uint8(i))
	}
	targets := make([]float32, size)
	weights := make([]float32, size)
	filenames := make([]pairs.Filename, size)
	for j := range targets {
		targets[j] = float32(i) / 10
		weights[j] = 1
		filenames[j] = pairs.Filename{DatasetID: "ds", BaseIon: "C6H12O6+H", OtherIon: "C2H6O-H"}
	}
	return &batches.Batch{
		Inputs:    []*batches.Images{images},
		Targets:   [][]float32{targets},
		Weights:   [][]float32{weights},
		Filenames: filenames,
	}
}

func TestCodec(t *testing.T) {
	for _, c := range []Codec{None, Zstd, LZ4} {
		parsed, err := ParseCodec(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseCodec("gzip")
	require.Error(t, err)
}

func TestQuantize(t *testing.T) {
	for v := range 256 {
		require.Equal(t, uint8(v), quantize(pixels.Preprocess(uint8(v))))
		require.Equal(t, pixels.Preprocess(uint8(v)), dequantize(uint8(v)))
	}
	assert.Equal(t, uint8(0), quantize(-3))
	assert.Equal(t, uint8(255), quantize(3))
}

func TestSaveAndRead(t *testing.T) {
	for _, codec := range []Codec{None, Zstd, LZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "train.pregen")
			var progress bytes.Buffer
			stats, err := SaveFile(context.Background(), &fakeSource{numBatches: 5}, path,
				Options{Epochs: 2, Parallelism: 2, Codec: codec, Progress: &progress})
			require.NoError(t, err)
			assert.Equal(t, 2, stats.Epochs)
			assert.Equal(t, 10, stats.Batches)
			assert.Equal(t, 30, stats.Samples)
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), stats.Bytes)
			assert.Contains(t, stats.String(), "10 batches")

			r, err := Open(path)
			require.NoError(t, err)
			defer func() { require.NoError(t, r.Close()) }()
			assert.Equal(t, codec, r.Codec())
			assert.Equal(t, "train.pregen", r.Name())

			var ids []int
			for {
				batch, err := r.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				id := int(quantize(batch.Inputs[0].Data[0]))
				ids = append(ids, id)
				assert.Equal(t, fakeBatch(id), batch)
			}
			sort.Ints(ids)
			assert.Equal(t, []int{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}, ids)

			_, err = r.Next()
			require.ErrorIs(t, err, io.EOF)
			r.Reset()
			_, err = r.Next()
			require.NoError(t, err)
		})
	}
}

func TestReaderInfiniteAndMaxBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.pregen")
	_, err := SaveFile(context.Background(), &fakeSource{numBatches: 2}, path, Options{Epochs: 1, Codec: Zstd})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	r.WithInfinite(true).WithMaxBatches(5).WithPrecision(batches.Float16)
	for range 5 {
		spec, inputs, labels, err := r.Yield()
		require.NoError(t, err)
		assert.Equal(t, r, spec)
		require.Len(t, inputs, 1)
		assert.Equal(t, []int{3, 4, 4, 2}, inputs[0].Shape().Dimensions)
		require.Len(t, labels, 2)
	}
	_, _, _, err = r.Yield()
	require.ErrorIs(t, err, io.EOF)
	r.Reset()
	_, err = r.Next()
	require.NoError(t, err)
}

func TestReaderErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing"))
	require.Error(t, err)

	bogus := filepath.Join(dir, "bogus")
	require.NoError(t, os.WriteFile(bogus, []byte("not batches at all"), 0o644))
	_, err = Open(bogus)
	require.Error(t, err)

	// Truncated in the middle of a record.
	var buf bytes.Buffer
	_, err = Save(context.Background(), &fakeSource{numBatches: 1}, &buf, Options{Epochs: 1, Codec: None})
	require.NoError(t, err)
	truncated := filepath.Join(dir, "truncated")
	require.NoError(t, os.WriteFile(truncated, buf.Bytes()[:buf.Len()-5], 0o644))
	r, err := Open(truncated)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	_, err = r.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Record headers with impossible dimensions are errors, not panics or huge allocations.
	for name, dims := range map[string][3]int{
		"huge":        {0xFFFFFFFF, 0xFFFF, 0xFF},
		"channels":    {3, 4, 3},
		"empty-image": {3, 0, 2},
		"too-large":   {1 << 20, 0xFFFF, 2},
		"zero-size":   {0, 4, 2},
	} {
		var corrupt bytes.Buffer
		require.NoError(t, writeHeader(&corrupt, None))
		record := byteOrder.AppendUint32(nil, 0)
		record = byteOrder.AppendUint32(record, uint32(dims[0]))
		record = append(record, 1, 1, 0, 0)
		record = byteOrder.AppendUint16(record, uint16(dims[1]))
		record = append(record, byte(dims[2]))
		corrupt.Write(record)
		path := filepath.Join(dir, "corrupt-"+name)
		require.NoError(t, os.WriteFile(path, corrupt.Bytes(), 0o644))
		r, err := Open(path)
		require.NoError(t, err)
		require.NotPanics(t, func() { _, err = r.Next() }, name)
		require.ErrorIs(t, err, ErrCorruptRecord, name)
		require.NoError(t, r.Close())
	}

	// Empty file, read infinitely.
	empty := filepath.Join(dir, "empty")
	_, err = SaveFile(context.Background(), &fakeSource{}, empty, Options{Epochs: 1, Codec: LZ4})
	require.NoError(t, err)
	r2, err := Open(empty)
	require.NoError(t, err)
	defer func() { _ = r2.Close() }()
	_, err = r2.WithInfinite(true).Next()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestSaveValidation(t *testing.T) {
	var buf bytes.Buffer
	_, err := Save(context.Background(), &fakeSource{numBatches: 1}, &buf, Options{Epochs: 0})
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)

	records := []pairs.Record{{DatasetID: "ds", BaseSF: "C1", BaseAdduct: "+H", OtherSF: "C2", OtherAdduct: "+H", Rank: 1}}
	it, err := batches.NewPairIterator(imagestore.NewMemory(), pairs.NewManifest(records),
		batches.Config{BatchSize: 1, CropSize: 4, InfiniteLoop: true})
	require.NoError(t, err)
	_, err = Save(context.Background(), it, &buf, Options{Epochs: 1})
	require.ErrorIs(t, err, errs.ErrInvalidConfiguration)

	// Errors from the source, like a missing image, abort the generation.
	it, err = batches.NewPairIterator(imagestore.NewMemory(), pairs.NewManifest(records),
		batches.Config{BatchSize: 1, CropSize: 4})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "failed.pregen")
	_, err = SaveFile(context.Background(), it, path, Options{Epochs: 1, Codec: Zstd})
	require.ErrorIs(t, err, errs.ErrMissingOrCorruptImage)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "partial file removed")
}
