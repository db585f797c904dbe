// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pregen

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomlx/coloc/internal/fsutil"
	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/parallel"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Reader yields the batches of a pre-generated file, in the order they were saved.
//
// It implements train.Dataset and parallel.Source, and it is safe for concurrent use.
type Reader struct {
	name, path string
	precision  batches.Precision
	infinite   bool
	maxBatches int

	mu           sync.Mutex
	file         *os.File
	codec        Codec
	dec          *decoder
	closeDecoder func()
	count        int // Batches read since the last Reset.
	passCount    int // Batches read since the file was (re-)opened.
	err          error
}

var (
	_ train.Dataset   = (*Reader)(nil)
	_ parallel.Source = (*Reader)(nil)
)

// Open a pre-generated file. Close it when done.
func Open(path string) (*Reader, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{name: filepath.Base(path), path: path}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// open (or re-open) the file. It must be called with mu locked or before the Reader is shared.
func (r *Reader) open() error {
	r.closeFile()
	f, err := os.Open(r.path)
	if err != nil {
		return errors.Wrapf(err, "failed to open pre-generated file %q", r.path)
	}
	codec, err := readHeader(f)
	if err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "file %q", r.path)
	}
	decompressed, closeDecoder, err := codec.decompressor(f)
	if err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "file %q", r.path)
	}
	r.file, r.codec, r.closeDecoder = f, codec, closeDecoder
	r.dec = newDecoder(decompressed)
	r.passCount = 0
	return nil
}

func (r *Reader) closeFile() {
	if r.closeDecoder != nil {
		r.closeDecoder()
		r.closeDecoder = nil
	}
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	r.dec = nil
}

// WithName sets the name returned by Name. It defaults to the file name.
func (r *Reader) WithName(name string) *Reader {
	r.name = name
	return r
}

// WithInfinite makes the Reader restart from the beginning of the file when it reaches its end.
func (r *Reader) WithInfinite(infinite bool) *Reader {
	r.infinite = infinite
	return r
}

// WithMaxBatches makes the Reader return io.EOF after n batches since the last Reset. 0 means no limit.
func (r *Reader) WithMaxBatches(n int) *Reader {
	r.maxBatches = n
	return r
}

// WithPrecision sets the precision of the tensors returned by Yield.
func (r *Reader) WithPrecision(precision batches.Precision) *Reader {
	r.precision = precision
	return r
}

// Codec returns the compression codec of the file.
func (r *Reader) Codec() Codec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codec
}

// Name implements train.Dataset.
func (r *Reader) Name() string { return r.name }

// Next returns the next batch, or io.EOF at the end of the file.
func (r *Reader) Next() (*batches.Batch, error) {
	return r.NextContext(context.Background())
}

// NextContext implements parallel.Source.
func (r *Reader) NextContext(ctx context.Context) (*batches.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.maxBatches > 0 && r.count >= r.maxBatches {
		return nil, io.EOF
	}
	if r.dec == nil {
		return nil, errors.Errorf("pre-generated file %q is closed", r.path)
	}
	for {
		batch, err := r.dec.decodeBatch()
		if err == nil {
			r.count++
			r.passCount++
			return batch, nil
		}
		if err != io.EOF {
			r.err = errors.WithMessagef(err, "reading pre-generated file %q", r.path)
			return nil, r.err
		}
		if !r.infinite {
			return nil, io.EOF
		}
		if r.passCount == 0 {
			r.err = errors.Errorf("pre-generated file %q has no batches", r.path)
			return nil, r.err
		}
		if err := r.open(); err != nil {
			r.err = err
			return nil, err
		}
	}
}

// Reset implements train.Dataset, restarting from the beginning of the file.
func (r *Reader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = 0
	r.err = r.open()
}

// Yield implements train.Dataset, converting the batches with Batch.ToTensors.
func (r *Reader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	var batch *batches.Batch
	batch, err = r.Next()
	if err != nil {
		return
	}
	spec = r
	inputs, labels = batch.ToTensors(r.precision)
	return
}

// Close the underlying file.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
	return nil
}
