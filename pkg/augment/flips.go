// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"
)

// Default gamma range of RandomGamma in the training chain.
const (
	DefaultGammaMin = 0.9
	DefaultGammaMax = 3.5
)

// FlipChannels randomly permutes the two channels of the pair: with probability 1/2 the base and
// other images are swapped.
func FlipChannels(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
	if rng.IntN(2) == 0 {
		return img
	}
	return SwapChannels(img)
}

// SwapChannels returns a copy of the pair with the base and other images swapped.
func SwapChannels(img *image.NRGBA) *image.NRGBA {
	out := imaging.Clone(img)
	for ii := 0; ii < len(out.Pix); ii += 4 {
		out.Pix[ii], out.Pix[ii+1] = out.Pix[ii+1], out.Pix[ii]
	}
	return out
}

// VerticalFlip flips the pair upside down.
func VerticalFlip(img *image.NRGBA, _ *rand.Rand) *image.NRGBA {
	return imaging.FlipV(img)
}

// HorizontalFlip mirrors the pair left to right.
func HorizontalFlip(img *image.NRGBA, _ *rand.Rand) *image.NRGBA {
	return imaging.FlipH(img)
}

// RandomRotate90 rotates the pair by a random multiple of 90 degrees (possibly 0).
func RandomRotate90(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
	switch rng.IntN(4) {
	case 1:
		return imaging.Rotate90(img)
	case 2:
		return imaging.Rotate180(img)
	case 3:
		return imaging.Rotate270(img)
	}
	return img
}

// RandomGamma returns a Transform that raises normalized intensities to a power gamma drawn uniformly
// from [minGamma, maxGamma]: v' = 255 * (v/255)^gamma, for both channels.
func RandomGamma(minGamma, maxGamma float64) Transform {
	return func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
		gamma := minGamma + rng.Float64()*(maxGamma-minGamma)
		return Gamma(img, gamma)
	}
}

// Gamma applies v' = 255 * (v/255)^gamma to both channels of the pair.
func Gamma(img *image.NRGBA, gamma float64) *image.NRGBA {
	if gamma <= 0 || math.Abs(gamma-1) < 1e-9 {
		return img
	}
	// imaging.AdjustGamma uses the exponent 1/gamma.
	return imaging.AdjustGamma(img, 1/gamma)
}
