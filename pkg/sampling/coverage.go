// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sampling

import (
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// Coverage audits a sequence of windows: it records which rows were visited in each epoch, to check that
// every row is visited exactly once per epoch.
//
// It is safe for concurrent use, so it can observe windows as they are handed out to several workers.
type Coverage struct {
	length int

	mu         sync.Mutex
	epochs     map[int]*roaring.Bitmap
	duplicates map[int]int
}

// EpochCoverage summarizes the rows visited during one epoch.
type EpochCoverage struct {
	Epoch                     int
	Visited, Missing, Repeats int
}

// String implements fmt.Stringer.
func (c EpochCoverage) String() string {
	return fmt.Sprintf("epoch %d: %d visited, %d missing, %d repeated", c.Epoch, c.Visited, c.Missing, c.Repeats)
}

// NewCoverage creates a Coverage audit for a collection with length rows.
func NewCoverage(length int) *Coverage {
	return &Coverage{
		length:     length,
		epochs:     make(map[int]*roaring.Bitmap),
		duplicates: make(map[int]int),
	}
}

// Observe records the rows of the window.
func (c *Coverage) Observe(w Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bm, found := c.epochs[w.Epoch]
	if !found {
		bm = roaring.New()
		c.epochs[w.Epoch] = bm
	}
	for _, row := range w.Rows {
		if !bm.CheckedAdd(uint32(row)) {
			c.duplicates[w.Epoch]++
		}
	}
}

// Report returns the coverage of every epoch observed so far, in epoch order.
func (c *Coverage) Report() []EpochCoverage {
	c.mu.Lock()
	defer c.mu.Unlock()
	epochs := make([]int, 0, len(c.epochs))
	for epoch := range c.epochs {
		epochs = append(epochs, epoch)
	}
	slices.Sort(epochs)
	report := make([]EpochCoverage, 0, len(epochs))
	for _, epoch := range epochs {
		visited := int(c.epochs[epoch].GetCardinality())
		report = append(report, EpochCoverage{
			Epoch:   epoch,
			Visited: visited,
			Missing: c.length - visited,
			Repeats: c.duplicates[epoch],
		})
	}
	return report
}

// Verify returns an error if any row was visited more than once in an epoch, or if any epoch but the
// last observed one missed rows. The last epoch may still be in progress.
func (c *Coverage) Verify() error {
	report := c.Report()
	for ii, epoch := range report {
		if epoch.Repeats > 0 {
			return errors.Errorf("coverage: %s", epoch)
		}
		if epoch.Missing > 0 && ii < len(report)-1 {
			return errors.Errorf("coverage: %s", epoch)
		}
	}
	return nil
}
