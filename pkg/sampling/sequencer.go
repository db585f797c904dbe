// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sampling generates the order in which the rows of a manifest are visited: a sequence of
// windows (batches of row indices) over successive epochs, shuffled or not, finite or looping forever.
//
// A Sequencer is safe for concurrent use: each call to Sequencer.Next hands a distinct window to its
// caller, so several workers can share one Sequencer and do the expensive work (loading and augmenting
// images) in parallel.
package sampling

import (
	"math/rand/v2"
	"sync"

	"github.com/gomlx/coloc/pkg/errs"
	"k8s.io/klog/v2"
)

// ErrExhausted is returned by Sequencer.Next after a finite sequence was fully consumed.
// It is io.EOF.
var ErrExhausted = errs.ErrExhausted

// Config for a Sequencer.
type Config struct {
	// BatchSize is the maximum number of rows per window. The last window of an epoch may be smaller.
	BatchSize int

	// Shuffle the rows at the start of every epoch.
	Shuffle bool

	// Seed makes the sequence reproducible, if set. The permutation of an epoch is generated with
	// Seed + (number of windows emitted before the epoch started), so every epoch gets a different order.
	// If nil, permutations are drawn from a non-deterministic source.
	Seed *int64

	// InfiniteLoop makes the Sequencer loop over epochs forever. Otherwise it yields one epoch only.
	InfiniteLoop bool
}

// Window is the slice of an epoch handed out by one call to Sequencer.Next.
type Window struct {
	// Epoch counts from 0 since the Sequencer was created or reset.
	Epoch int

	// Seq is the global index of the window: the number of windows emitted before it.
	Seq int64

	// Start is the position of the first row of the window within the epoch order, and Size the number of rows.
	Start, Size int

	// Rows are the manifest row indices of the window. They must not be modified.
	Rows []int

	// Seed for any randomness consumed while materializing this window. See Window.Rand.
	Seed uint64
}

// Rand returns a new random number generator for the window.
//
// For seeded sequencers it is a function of the seed and the window position only, so the same window is
// materialized the same way regardless of which worker (or how many workers) processed it.
func (w Window) Rand() *rand.Rand {
	return rand.New(rand.NewPCG(w.Seed, uint64(w.Seq)))
}

// Sequencer yields windows of row indices over a collection of fixed length.
type Sequencer struct {
	name   string
	length int
	config Config

	// mu protects all fields below.
	mu sync.Mutex

	// order of the current epoch. A new slice is built for every shuffled epoch, so slices handed
	// out in windows are never modified afterward.
	order []int

	epoch       int // Number of epochs started, 0 before the first window.
	pos         int // Start of the next window within order.
	exhausted   bool
	windowsSeen int64 // Total windows emitted, not reset by Reset.
}

// New creates a Sequencer over length rows.
//
// It returns an error matching errs.ErrInvalidConfiguration if length or the batch size are not positive.
func New(length int, config Config) (*Sequencer, error) {
	if length <= 0 {
		return nil, errs.InvalidConfigf("sampling.New: nothing to sample from, length=%d", length)
	}
	if config.BatchSize <= 0 {
		return nil, errs.InvalidConfigf("sampling.New: batch size must be positive, got %d", config.BatchSize)
	}
	s := &Sequencer{
		name:   "sequencer",
		length: length,
		config: config,
	}
	if !config.Shuffle {
		s.order = make([]int, length)
		for ii := range s.order {
			s.order[ii] = ii
		}
	}
	return s, nil
}

// WithName sets the name used in log messages. It returns the Sequencer itself, to allow chaining calls.
func (s *Sequencer) WithName(name string) *Sequencer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return s
}

// Len returns the number of rows sampled from.
func (s *Sequencer) Len() int { return s.length }

// Config returns the configuration the Sequencer was created with.
func (s *Sequencer) Config() Config { return s.config }

// WindowsPerEpoch returns the number of windows of each epoch: ceil(Len / BatchSize).
func (s *Sequencer) WindowsPerEpoch() int {
	return (s.length + s.config.BatchSize - 1) / s.config.BatchSize
}

// Next returns the next window.
//
// For a finite Sequencer, after WindowsPerEpoch windows, it returns ErrExhausted (io.EOF) on every call,
// until Reset is called.
//
// It is safe for concurrent use, and concurrent callers always receive distinct windows.
// The only non-constant work done while holding the lock is building the permutation at the start of
// a shuffled epoch.
func (s *Sequencer) Next() (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exhausted {
		return Window{}, ErrExhausted
	}
	if s.pos == 0 {
		if s.epoch > 0 && !s.config.InfiniteLoop {
			s.exhausted = true
			return Window{}, ErrExhausted
		}
		s.startEpochLocked()
	}

	w := Window{
		Epoch: s.epoch - 1,
		Seq:   s.windowsSeen,
		Start: s.pos,
		Size:  min(s.config.BatchSize, s.length-s.pos),
	}
	w.Rows = s.order[w.Start : w.Start+w.Size : w.Start+w.Size]
	if s.config.Seed != nil {
		w.Seed = uint64(*s.config.Seed)
	} else {
		w.Seed = rand.Uint64()
	}

	s.pos += w.Size
	if s.pos >= s.length {
		s.pos = 0
	}
	s.windowsSeen++
	return w, nil
}

// startEpochLocked starts a new epoch, generating a new permutation if shuffling.
// It must be called with mu locked.
func (s *Sequencer) startEpochLocked() {
	s.epoch++
	klog.V(1).Infof("%s: starting epoch %d (%d windows emitted so far)", s.name, s.epoch, s.windowsSeen)
	if !s.config.Shuffle {
		return
	}
	var rng *rand.Rand
	if s.config.Seed != nil {
		seed := *s.config.Seed + s.windowsSeen
		rng = rand.New(rand.NewPCG(uint64(seed), 0))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	// Build the new order fully before publishing it.
	order := rng.Perm(s.length)
	s.order = order
}

// Reset restarts the sequence at the beginning of a new epoch (epoch 0), also for exhausted finite sequencers.
//
// The count of windows emitted is not reset, so a shuffled seeded Sequencer does not repeat the order
// of its previous epochs after a Reset.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = 0
	s.pos = 0
	s.exhausted = false
}
