// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the random data augmentation applied to image pairs during training.
//
// A pair is an *image.NRGBA as built by pixels.Stack: the base ion image in the red channel and the
// other ion image in the green channel. Every Transform acts on both channels at once, so geometric
// transformations keep the two images aligned. Areas uncovered by a geometric transformation are filled
// with zeros.
//
// Transforms are pure functions of their input and of the random number generator given: the same
// generator state always produces the same output, and the input image is never modified.
package augment

import (
	"image"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/coloc/pkg/errs"
)

// Transform is one augmentation step. It must not modify img, and it must draw all its randomness from rng.
type Transform func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA

// Names of the augmentation chains accepted by ByName.
const (
	NoneName  = "none"
	TrainName = "train"
)

// DefaultProbability is the probability with which each step of the training chain is applied.
const DefaultProbability = 1.0

// Identity returns the image unchanged.
func Identity(img *image.NRGBA, _ *rand.Rand) *image.NRGBA { return img }

// Compose returns a Transform that applies the given transforms in order.
func Compose(transforms ...Transform) Transform {
	return func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
		for _, t := range transforms {
			img = t(img, rng)
		}
		return img
	}
}

// Maybe returns a Transform that applies t with probability p, and otherwise returns the image unchanged.
func Maybe(p float64, t Transform) Transform {
	if p <= 0 {
		return Identity
	}
	return func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
		if p >= 1 || rng.Float64() < p {
			return t(img, rng)
		}
		return img
	}
}

// Train returns the training augmentation chain. Every step is gated by the probability p, and so is the
// chain as a whole:
//
//   - FlipChannels (with probability 1/2, independent of p).
//   - VerticalFlip, HorizontalFlip and RandomRotate90.
//   - RandomGamma, with gamma in [0.9, 3.5].
//   - OpticalDistortion and GridDistortion.
//   - ShiftScaleRotate, with shift up to 6.25% of the size, scale in [0.8, 1.2] and rotation up to 45 degrees.
func Train(p float64) Transform {
	return Maybe(p, Compose(
		Maybe(0.5, FlipChannels),
		Maybe(p, VerticalFlip),
		Maybe(p, HorizontalFlip),
		Maybe(p, RandomRotate90),
		Maybe(p, RandomGamma(DefaultGammaMin, DefaultGammaMax)),
		Maybe(p, OpticalDistortion(DefaultOpticalDistortLimit, DefaultOpticalShiftLimit)),
		Maybe(p, GridDistortion(DefaultGridSteps, DefaultGridDistortLimit)),
		Maybe(p, ShiftScaleRotate(DefaultShiftLimit, DefaultScaleLimit, DefaultRotateLimit)),
	))
}

// ByName returns the augmentation chain with the given name: "none" (Identity) or "train" (Train with
// DefaultProbability). Other names fail with errs.ErrInvalidConfiguration.
func ByName(name string) (Transform, error) {
	switch strings.ToLower(name) {
	case NoneName, "":
		return Identity, nil
	case TrainName:
		return Train(DefaultProbability), nil
	}
	return nil, errs.InvalidConfigf("unknown augmentation %q, valid values are %q and %q", name, NoneName, TrainName)
}
