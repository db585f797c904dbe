// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Defaults of ShiftScaleRotate in the training chain.
const (
	DefaultShiftLimit  = 0.0625
	DefaultScaleLimit  = 0.2
	DefaultRotateLimit = 45.0
)

// ShiftScaleRotate returns a Transform that applies a random affine transformation: a rotation around the
// image center by up to rotateLimit degrees, a scaling by a factor in [1-scaleLimit, 1+scaleLimit] and a
// translation by up to shiftLimit times the image size in each direction.
func ShiftScaleRotate(shiftLimit, scaleLimit, rotateLimit float64) Transform {
	return func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
		angle := uniform(rng, -rotateLimit, rotateLimit)
		scale := uniform(rng, 1-scaleLimit, 1+scaleLimit)
		dx := uniform(rng, -shiftLimit, shiftLimit)
		dy := uniform(rng, -shiftLimit, shiftLimit)
		return Affine(img, angle, scale, dx, dy)
	}
}

// Affine rotates the pair by angle degrees (counter-clockwise) around its center, scales it by scale and
// shifts it by (dx, dy), given as fractions of the image width and height.
func Affine(img *image.NRGBA, angle, scale, dx, dy float64) *image.NRGBA {
	b := img.Bounds()
	width, height := float64(b.Dx()), float64(b.Dy())
	cx, cy := width/2, height/2
	theta := angle * math.Pi / 180
	alpha, beta := scale*math.Cos(theta), scale*math.Sin(theta)

	// Source to destination transform, in the image coordinates (y pointing down).
	s2d := f64.Aff3{
		alpha, beta, (1-alpha)*cx - beta*cy + dx*width,
		-beta, alpha, beta*cx + (1-alpha)*cy + dy*height,
	}
	src := img
	if b.Min != (image.Point{}) {
		src = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Copy(src, image.Point{}, img, b, draw.Src, nil)
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.BiLinear.Transform(out, s2d, src, src.Bounds(), draw.Src, nil)
	opaque(out)
	return out
}

// opaque sets the alpha channel to fully opaque. Pixels left untouched by a transformation become black.
func opaque(img *image.NRGBA) {
	for ii := 3; ii < len(img.Pix); ii += 4 {
		if img.Pix[ii] != 0xFF {
			if img.Pix[ii] == 0 {
				img.Pix[ii-3], img.Pix[ii-2], img.Pix[ii-1] = 0, 0, 0
			}
			img.Pix[ii] = 0xFF
		}
	}
}
