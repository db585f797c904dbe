// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package parallel runs several goroutines pulling batches from one thread-safe batch source (typically a
// *batches.Iterator), and hands the batches out through a buffered channel.
//
// The order of the batches is not preserved: faster batches to generate may come out first.
package parallel

import (
	"context"
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Source of batches. Implementations must be safe for concurrent calls to NextContext, and must return
// io.EOF when there are no more batches.
type Source interface {
	Name() string
	NextContext(ctx context.Context) (*batches.Batch, error)
	Reset()
}

var _ Source = (*batches.Iterator)(nil)

// Supplier generates batches from a Source with several goroutines.
//
// Create it with New, configure it, and call Start. Call Stop when done, to release the goroutines.
// It implements train.Dataset, so it can be used to feed a train.Loop.
type Supplier struct {
	source      Source
	name        string
	parallelism int
	bufferSize  int
	precision   batches.Precision

	ctx context.Context

	// run is the state of the current run of goroutines, nil before Start or after Stop.
	run *run
}

var _ train.Dataset = (*Supplier)(nil)

// run holds the goroutines of one epoch (or until the end of an infinite source).
type run struct {
	cancel context.CancelFunc
	out    chan *batches.Batch
	done   chan struct{}

	muErr sync.Mutex
	err   error
}

// New creates a Supplier for the source. It still needs to be started with Start.
// By default, it uses as many goroutines as there are cores plus 1, and a buffer of the same size.
func New(source Source) *Supplier {
	s := &Supplier{source: source, name: source.Name()}
	s.Parallelism(0)
	s.bufferSize = s.parallelism
	return s
}

// Parallelism sets the number of goroutines generating batches. If n <= 0, it uses the number of cores plus 1.
// It returns the Supplier, so calls can be cascaded.
func (s *Supplier) Parallelism(n int) *Supplier {
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	s.parallelism = n
	return s
}

// Buffer sets the number of batches generated ahead of time.
// It returns the Supplier, so calls can be cascaded.
func (s *Supplier) Buffer(n int) *Supplier {
	s.bufferSize = max(n, 0)
	return s
}

// WithPrecision sets the precision of the tensors returned by Yield.
// It returns the Supplier, so calls can be cascaded.
func (s *Supplier) WithPrecision(precision batches.Precision) *Supplier {
	s.precision = precision
	return s
}

// Start the goroutines generating batches. Configuration changes after Start are not taken into account
// until the next Reset.
// It returns the Supplier, so calls can be cascaded.
func (s *Supplier) Start(ctx context.Context) *Supplier {
	if s.run != nil {
		klog.Warningf("parallel.Supplier %q started more than once", s.name)
		return s
	}
	s.ctx = ctx
	s.run = s.startRun(ctx)
	return s
}

func (s *Supplier) startRun(ctx context.Context) *run {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel: cancel,
		out:    make(chan *batches.Batch, s.bufferSize),
		done:   make(chan struct{}),
	}
	g, gCtx := errgroup.WithContext(ctx)
	for range s.parallelism {
		g.Go(func() error {
			for {
				batch, err := nextBatch(gCtx, s.source)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					if gCtx.Err() == nil {
						klog.Errorf("parallel.Supplier %q: %+v", s.name, err)
					}
					r.setErr(err)
					return err
				}
				select {
				case r.out <- batch:
				case <-gCtx.Done():
					return nil
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(r.out)
		close(r.done)
	}()
	return r
}

// nextBatch calls source.NextContext, converting panics to errors.
func nextBatch(ctx context.Context, source Source) (batch *batches.Batch, err error) {
	exception := exceptions.Try(func() {
		batch, err = source.NextContext(ctx)
	})
	if exception != nil {
		if e, ok := exception.(error); ok {
			return nil, errors.Wrap(e, "panic while generating batch")
		}
		return nil, errors.Errorf("panic while generating batch: %v", exception)
	}
	return
}

func (r *run) setErr(err error) {
	r.muErr.Lock()
	defer r.muErr.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) getErr() error {
	r.muErr.Lock()
	defer r.muErr.Unlock()
	return r.err
}

// Next returns the next batch generated by any of the goroutines.
//
// It returns io.EOF once the source is exhausted and all batches generated were returned.
// If any goroutine fails, all are stopped and the first error is returned, by this and all following calls.
func (s *Supplier) Next() (*batches.Batch, error) {
	r := s.run
	if r == nil {
		return nil, errors.Errorf("parallel.Supplier %q used before Start or after Stop", s.name)
	}
	if err := r.getErr(); err != nil {
		return nil, err
	}
	batch, ok := <-r.out
	if !ok {
		if err := r.getErr(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return batch, nil
}

// Stop all goroutines and wait for them to finish. Batches still buffered are discarded.
func (s *Supplier) Stop() {
	r := s.run
	if r == nil {
		return
	}
	s.run = nil
	r.cancel()
	for range r.out {
		// Drain, so blocked goroutines can finish.
	}
	<-r.done
}

// Name implements train.Dataset.
func (s *Supplier) Name() string { return s.name }

// Reset implements train.Dataset: it stops the goroutines, resets the source and starts again.
func (s *Supplier) Reset() {
	s.Stop()
	s.source.Reset()
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	s.run = s.startRun(s.ctx)
}

// Yield implements train.Dataset, converting the batches with Batch.ToTensors.
func (s *Supplier) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	var batch *batches.Batch
	batch, err = s.Next()
	if err != nil {
		return
	}
	spec = s
	inputs, labels = batch.ToTensors(s.precision)
	return
}
