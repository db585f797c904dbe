// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPair returns a pair of size x size with a blob in the base image and a gradient in the other.
func testPair(t *testing.T, size int) *image.NRGBA {
	base := image.NewGray(image.Rect(0, 0, size, size))
	other := image.NewGray(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			dx, dy := float64(x-size/3), float64(y-size/2)
			base.SetGray(x, y, color.Gray{Y: uint8(255 * math.Exp(-(dx*dx+dy*dy)/float64(size)))})
			other.SetGray(x, y, color.Gray{Y: uint8((x * 255) / size)})
		}
	}
	pair, err := pixels.Stack(base, other)
	require.NoError(t, err)
	return pair
}

// samePair returns a pair whose two channels hold the same image.
func samePair(t *testing.T, size int) *image.NRGBA {
	base, _ := pixels.Split(testPair(t, size))
	pair, err := pixels.Stack(base, base)
	require.NoError(t, err)
	return pair
}

func requireValidPair(t *testing.T, img *image.NRGBA, size int) {
	require.Equal(t, image.Rect(0, 0, size, size), img.Bounds())
	for ii := 0; ii < len(img.Pix); ii += 4 {
		require.Equal(t, uint8(0), img.Pix[ii+2], "blue channel must stay empty")
		require.Equal(t, uint8(0xFF), img.Pix[ii+3], "alpha channel must stay opaque")
	}
}

func TestByName(t *testing.T) {
	none, err := ByName("none")
	require.NoError(t, err)
	img := testPair(t, 8)
	assert.Same(t, img, none(img, rand.New(rand.NewPCG(1, 2))))

	_, err = ByName("train")
	require.NoError(t, err)

	_, err = ByName("heavy")
	require.True(t, errors.Is(err, errs.ErrInvalidConfiguration))
}

func TestTrainDeterministicAndPure(t *testing.T) {
	const size = 24
	train := Train(1.0)
	img := testPair(t, size)
	original := append([]uint8(nil), img.Pix...)

	out1 := train(img, rand.New(rand.NewPCG(3, 5)))
	out2 := train(img, rand.New(rand.NewPCG(3, 5)))
	assert.Equal(t, original, img.Pix, "input must not be modified")
	assert.Equal(t, out1.Pix, out2.Pix, "same generator state must give the same result")
	requireValidPair(t, out1, size)
}

func TestTransformsKeepChannelsAligned(t *testing.T) {
	const size = 20
	transforms := map[string]Transform{
		"vflip":      VerticalFlip,
		"hflip":      HorizontalFlip,
		"rot90":      RandomRotate90,
		"gamma":      RandomGamma(DefaultGammaMin, DefaultGammaMax),
		"optical":    OpticalDistortion(0.5, DefaultOpticalShiftLimit),
		"grid":       GridDistortion(DefaultGridSteps, DefaultGridDistortLimit),
		"affine":     ShiftScaleRotate(DefaultShiftLimit, DefaultScaleLimit, DefaultRotateLimit),
		"train":      Train(1.0),
		"flip-chans": FlipChannels,
	}
	for name, transform := range transforms {
		rng := rand.New(rand.NewPCG(11, 13))
		for range 5 {
			out := transform(samePair(t, size), rng)
			requireValidPair(t, out, size)
			base, other := pixels.Split(out)
			require.Equal(t, base.Pix, other.Pix, "transform %q broke the channels alignment", name)
		}
	}
}

func TestFlipChannels(t *testing.T) {
	img := testPair(t, 6)
	swapped := SwapChannels(img)
	base, other := pixels.Split(img)
	swappedBase, swappedOther := pixels.Split(swapped)
	assert.Equal(t, base.Pix, swappedOther.Pix)
	assert.Equal(t, other.Pix, swappedBase.Pix)

	rng := rand.New(rand.NewPCG(0, 1))
	var numSwapped int
	for range 200 {
		out := FlipChannels(img, rng)
		if out != img {
			numSwapped++
		}
	}
	assert.InDelta(t, 100, numSwapped, 40)
}

func TestMaybe(t *testing.T) {
	img := testPair(t, 4)
	assert.Same(t, img, Maybe(0, VerticalFlip)(img, rand.New(rand.NewPCG(1, 1))))
	assert.NotSame(t, img, Maybe(1, VerticalFlip)(img, rand.New(rand.NewPCG(1, 1))))
}

func TestGamma(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 128, G: 128, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{R: 255, G: 0, A: 255})
	out := Gamma(img, 2)
	assert.Equal(t, color.NRGBA{R: 0, G: 255, A: 255}, out.NRGBAAt(0, 0))
	assert.InDelta(t, 255*math.Pow(128.0/255, 2), float64(out.NRGBAAt(1, 0).R), 1)
	assert.Equal(t, color.NRGBA{R: 255, G: 0, A: 255}, out.NRGBAAt(2, 0))
	assert.Same(t, img, Gamma(img, 1))
}

func TestIdentityGeometry(t *testing.T) {
	const size = 16
	img := testPair(t, size)
	for name, out := range map[string]*image.NRGBA{
		"affine": Affine(img, 0, 1, 0, 0),
		"lens":   LensDistortion(img, 0, 0, 0),
	} {
		requireValidPair(t, out, size)
		for ii := range img.Pix {
			require.InDelta(t, float64(img.Pix[ii]), float64(out.Pix[ii]), 1, "%s: pixel byte %d", name, ii)
		}
	}
}

func TestAffineBorder(t *testing.T) {
	const size = 16
	img := samePair(t, size)
	for ii := range img.Pix {
		if ii%4 < 2 {
			img.Pix[ii] = 200
		}
	}
	// Shifting by half the width leaves the left half uncovered, filled with zeros.
	out := Affine(img, 0, 1, 0.5, 0)
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(2, 8))
	assert.Equal(t, color.NRGBA{R: 200, G: 200, A: 255}, out.NRGBAAt(12, 8))
}

func TestGridCoordinates(t *testing.T) {
	coords := gridCoordinates(10, 5, []float64{1, 1, 1, 1, 1, 1})
	require.Len(t, coords, 10)
	assert.Equal(t, 0.0, coords[0])
	assert.InDelta(t, 10.0, coords[9], 1e-9)
	for ii := 1; ii < len(coords); ii++ {
		require.GreaterOrEqual(t, coords[ii], coords[ii-1])
	}
}
