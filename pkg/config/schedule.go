// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/gomlx/coloc/pkg/errs"
	"github.com/pkg/errors"
)

// Schedule is a piecewise constant learning rate schedule: the learning rate at an epoch is the one of the
// latest step starting at or before it.
type Schedule struct {
	starts []int
	rates  []float64
}

// NewSchedule creates a Schedule from a map of starting epoch to learning rate. It must have a step
// starting at epoch 0, and all rates must be positive.
func NewSchedule(steps map[int]float64) (Schedule, error) {
	var s Schedule
	if len(steps) == 0 {
		return s, errs.InvalidConfigf("empty learning rate schedule")
	}
	if _, found := steps[0]; !found {
		return s, errs.InvalidConfigf("learning rate schedule must start at epoch 0, got %v", steps)
	}
	for start := range steps {
		if start < 0 {
			return s, errs.InvalidConfigf("negative epoch %d in learning rate schedule", start)
		}
		s.starts = append(s.starts, start)
	}
	slices.Sort(s.starts)
	s.rates = make([]float64, len(s.starts))
	for i, start := range s.starts {
		s.rates[i] = steps[start]
		if s.rates[i] <= 0 {
			return s, errs.InvalidConfigf("learning rate at epoch %d must be positive, got %g", start, s.rates[i])
		}
	}
	return s, nil
}

// At returns the learning rate for the epoch.
func (s Schedule) At(epoch int) float64 {
	idx, found := slices.BinarySearch(s.starts, epoch)
	if !found {
		idx--
	}
	if idx < 0 {
		return s.rates[0]
	}
	return s.rates[idx]
}

// Steps returns the number of steps in the schedule.
func (s Schedule) Steps() int { return len(s.starts) }

// Checkpoint identifies a saved model.
type Checkpoint struct {
	Model        string
	EmbeddingDim int // 0 for models without embedding, like the pair and pi models.
	CropSize     int
	Fold, Folds  int
	Epoch        int
	Loss         float64
}

// Name of the checkpoint, in the format
// "checkpoint.<model>[.embd<dim>].sz<crop>.fold<fold>-<folds>.<epoch>-<loss>".
func (c Checkpoint) Name() string {
	return fmt.Sprintf("%s.%02d-%.2f", c.Prefix(), c.Epoch, c.Loss)
}

// Prefix is the part of the name shared by all the checkpoints of a run: the name without epoch and loss.
func (c Checkpoint) Prefix() string {
	embd := ""
	if c.EmbeddingDim > 0 {
		embd = fmt.Sprintf(".embd%d", c.EmbeddingDim)
	}
	return fmt.Sprintf("checkpoint.%s%s.sz%d.fold%d-%d", c.Model, embd, c.CropSize, c.Fold, c.Folds)
}

var checkpointRegexp = regexp.MustCompile(
	`^checkpoint\.(.+?)(?:\.embd([0-9]+))?\.sz([0-9]+)\.fold([0-9]+)-([0-9]+)\.([0-9]+)-([0-9]+\.[0-9]+)(?:\.[a-z][a-z0-9]*)?$`)

// ParseCheckpoint parses a checkpoint name created by Checkpoint.Name. An extra file extension is accepted.
func ParseCheckpoint(name string) (Checkpoint, error) {
	var c Checkpoint
	m := checkpointRegexp.FindStringSubmatch(name)
	if m == nil {
		return c, errors.Errorf("invalid checkpoint name %q", name)
	}
	c.Model = m[1]
	ints := []*int{&c.EmbeddingDim, &c.CropSize, &c.Fold, &c.Folds, &c.Epoch}
	for i, ptr := range ints {
		if m[i+2] == "" {
			continue
		}
		v, err := strconv.Atoi(m[i+2])
		if err != nil {
			return c, errors.Wrapf(err, "invalid checkpoint name %q", name)
		}
		*ptr = v
	}
	loss, err := strconv.ParseFloat(m[7], 64)
	if err != nil {
		return c, errors.Wrapf(err, "invalid loss in checkpoint name %q", name)
	}
	c.Loss = loss
	return c, nil
}

// Checkpoint returns the checkpoint identification for the configuration, at the given epoch and
// validation loss. The embedding dimension is only part of the mu model checkpoints.
func (c Config) Checkpoint(epoch int, loss float64) Checkpoint {
	ckpt := Checkpoint{
		Model:    c.Model,
		CropSize: c.CropSize,
		Fold:     c.Fold,
		Folds:    c.Folds,
		Epoch:    epoch,
		Loss:     loss,
	}
	if c.Variant == VariantMu {
		ckpt.EmbeddingDim = c.EmbeddingDim
	}
	return ckpt
}

// ApplyCheckpoint sets the model, crop size, embedding dimension and fold of the configuration to the
// ones the checkpoint was trained with, e.g. to evaluate it on its test fold.
func (c *Config) ApplyCheckpoint(ckpt Checkpoint) {
	c.Model = ckpt.Model
	c.CropSize = ckpt.CropSize
	c.Fold, c.Folds = ckpt.Fold, ckpt.Folds
	if ckpt.EmbeddingDim > 0 {
		c.EmbeddingDim = ckpt.EmbeddingDim
	}
}
