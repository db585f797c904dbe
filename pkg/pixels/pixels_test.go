// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pixels

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient returns a width x height grayscale image with pixel values x*step+y.
func gradient(width, height, step int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetGray(x, y, color.Gray{Y: uint8((x*step + y) % 256)})
		}
	}
	return img
}

func TestPreprocessReprocess(t *testing.T) {
	assert.Equal(t, float32(-1), Preprocess(0))
	assert.Equal(t, float32(1), Preprocess(255))
	for v := range 256 {
		x := Preprocess(uint8(v))
		require.True(t, x >= -1 && x <= 1)
		back := int(Reprocess(x))
		require.InDelta(t, v, back, 1, "value %d", v)
	}
	assert.Equal(t, uint8(0), Reprocess(-3))
	assert.Equal(t, uint8(255), Reprocess(2))
}

func TestStackSplit(t *testing.T) {
	base := gradient(5, 4, 3)
	other := gradient(5, 4, 7)
	pair, err := Stack(base, other)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 4), pair.Bounds())
	c := pair.NRGBAAt(2, 3)
	assert.Equal(t, color.NRGBA{R: base.GrayAt(2, 3).Y, G: other.GrayAt(2, 3).Y, B: 0, A: 255}, c)

	gotBase, gotOther := Split(pair)
	assert.Equal(t, base.Pix, gotBase.Pix)
	assert.Equal(t, other.Pix, gotOther.Pix)

	_, err = Stack(base, gradient(4, 4, 1))
	require.Error(t, err)
}

func TestResize(t *testing.T) {
	img := gradient(31, 17, 5)
	resized := Resize(img, 8)
	assert.Equal(t, image.Rect(0, 0, 8, 8), resized.Bounds())

	// A constant image stays constant.
	flat := image.NewGray(image.Rect(0, 0, 13, 9))
	for ii := range flat.Pix {
		flat.Pix[ii] = 77
	}
	for _, v := range Resize(flat, 4).Pix {
		require.Equal(t, uint8(77), v)
	}
}

func TestToGray(t *testing.T) {
	rgba := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	rgba.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	rgba.SetNRGBA(1, 0, color.NRGBA{A: 255})
	gray := ToGray(rgba)
	assert.Equal(t, []uint8{255, 0}, gray.Pix)
}

func TestBlend(t *testing.T) {
	img1 := gradient(6, 6, 11)
	img2 := gradient(6, 6, 29)
	assert.Equal(t, img1.Pix, Blend(img1, img2, 0).Pix)
	assert.Equal(t, img2.Pix, Blend(img1, img2, 1).Pix)

	half := Blend(img1, img2, 0.5)
	for ii := range half.Pix {
		want := (float64(img1.Pix[ii]) + float64(img2.Pix[ii])) / 2
		require.InDelta(t, want, float64(half.Pix[ii]), 1)
	}
}

func TestSideBySide(t *testing.T) {
	pair, err := Stack(gradient(4, 3, 1), gradient(4, 3, 2))
	require.NoError(t, err)
	strip := SideBySide(pair)
	assert.Equal(t, image.Rect(0, 0, 9, 3), strip.Bounds())
	assert.Equal(t, uint8(255), strip.NRGBAAt(4, 1).R)
}
