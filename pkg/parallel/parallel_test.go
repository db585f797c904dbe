// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/gomlx/coloc/pkg/batches"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource yields batches with a single target counting from 0 to total-1.
type countingSource struct {
	mu      sync.Mutex
	next    int
	total   int
	failAt  int // Fails (returns an error) at this count, if >= 0.
	panicAt int // Panics at this count, if >= 0.
}

func newCountingSource(total int) *countingSource {
	return &countingSource{total: total, failAt: -1, panicAt: -1}
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}

func (s *countingSource) NextContext(_ context.Context) (*batches.Batch, error) {
	s.mu.Lock()
	count := s.next
	if count >= s.total {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.next++
	s.mu.Unlock()
	if count == s.failAt {
		return nil, errors.New("failed to generate")
	}
	if count == s.panicAt {
		panic(errors.New("kaboom"))
	}
	return &batches.Batch{Targets: [][]float32{{float32(count)}}}, nil
}

func drain(t *testing.T, s *Supplier) (counts []int, err error) {
	for {
		batch, err := s.Next()
		if err != nil {
			sort.Ints(counts)
			return counts, err
		}
		counts = append(counts, int(batch.Targets[0][0]))
	}
}

func TestSupplierYieldsEverything(t *testing.T) {
	source := newCountingSource(50)
	s := New(source).Parallelism(4).Buffer(2).Start(context.Background())
	defer s.Stop()
	counts, err := drain(t, s)
	require.Equal(t, io.EOF, err)
	require.Len(t, counts, 50)
	for ii, count := range counts {
		require.Equal(t, ii, count)
	}

	// Still exhausted.
	_, err = s.Next()
	require.Equal(t, io.EOF, err)

	// Reset starts over.
	s.Reset()
	counts, err = drain(t, s)
	require.Equal(t, io.EOF, err)
	require.Len(t, counts, 50)
}

func TestSupplierError(t *testing.T) {
	source := newCountingSource(1000)
	source.failAt = 10
	s := New(source).Parallelism(3).Start(context.Background())
	defer s.Stop()
	_, err := drain(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to generate")
	_, err = s.Next()
	assert.Contains(t, err.Error(), "failed to generate")
}

func TestSupplierPanic(t *testing.T) {
	source := newCountingSource(1000)
	source.panicAt = 3
	s := New(source).Parallelism(2).Start(context.Background())
	defer s.Stop()
	_, err := drain(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestSupplierStop(t *testing.T) {
	source := newCountingSource(1 << 30)
	s := New(source).Parallelism(4).Buffer(1).Start(context.Background())
	for range 10 {
		_, err := s.Next()
		require.NoError(t, err)
	}
	s.Stop()
	_, err := s.Next()
	require.Error(t, err)
	s.Stop() // Second Stop is a no-op.
}

func TestSupplierYield(t *testing.T) {
	s := New(newCountingSource(3)).Parallelism(2).Start(context.Background())
	defer s.Stop()
	assert.Equal(t, "counting", s.Name())
	for range 3 {
		spec, inputs, labels, err := s.Yield()
		require.NoError(t, err)
		assert.Same(t, s, spec)
		assert.Empty(t, inputs)
		require.Len(t, labels, 1)
		assert.Equal(t, []int{1, 1}, labels[0].Shape().Dimensions)
	}
	_, _, _, err := s.Yield()
	require.Equal(t, io.EOF, err)
}
