// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"math"
	"math/rand/v2"
)

// Defaults of the distortions in the training chain.
const (
	DefaultOpticalDistortLimit = 0.05
	DefaultOpticalShiftLimit   = 0.05
	DefaultGridSteps           = 5
	DefaultGridDistortLimit    = 0.3
)

// OpticalDistortion returns a Transform that applies a barrel or pincushion lens distortion with a
// coefficient drawn from [-distortLimit, distortLimit], around a center shifted by up to shiftLimit
// times the image size.
func OpticalDistortion(distortLimit, shiftLimit float64) Transform {
	return func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
		b := img.Bounds()
		width, height := b.Dx(), b.Dy()
		k := uniform(rng, -distortLimit, distortLimit)
		dx := math.Round(uniform(rng, -shiftLimit, shiftLimit) * float64(width))
		dy := math.Round(uniform(rng, -shiftLimit, shiftLimit) * float64(height))
		return LensDistortion(img, k, dx, dy)
	}
}

// LensDistortion applies the radial distortion r' = r * (1 + k*r^2 + k*r^4), with coordinates normalized
// by the image size and centered at the image center shifted by (dx, dy) pixels.
func LensDistortion(img *image.NRGBA, k, dx, dy float64) *image.NRGBA {
	b := img.Bounds()
	fx, fy := float64(b.Dx()), float64(b.Dy())
	cx, cy := fx*0.5+dx, fy*0.5+dy
	return remap(img, func(u, v float64) (float64, float64) {
		x, y := (u-cx)/fx, (v-cy)/fy
		r2 := x*x + y*y
		radial := 1 + k*r2 + k*r2*r2
		return x*radial*fx + cx, y*radial*fy + cy
	})
}

// GridDistortion returns a Transform that splits the image in a grid of numSteps x numSteps cells and
// stretches or shrinks each column and row of cells by a random factor in [1-distortLimit, 1+distortLimit].
func GridDistortion(numSteps int, distortLimit float64) Transform {
	return func(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
		xSteps := make([]float64, numSteps+1)
		for ii := range xSteps {
			xSteps[ii] = 1 + uniform(rng, -distortLimit, distortLimit)
		}
		ySteps := make([]float64, numSteps+1)
		for ii := range ySteps {
			ySteps[ii] = 1 + uniform(rng, -distortLimit, distortLimit)
		}
		return GridWarp(img, numSteps, xSteps, ySteps)
	}
}

// GridWarp stretches the cells of a numSteps x numSteps grid by the given factors: cell i along x samples a
// source span of xSteps[i] times its width (and similarly along y). xSteps and ySteps must have
// numSteps+1 elements, the last one is used for the leftover cells when the size is not a multiple of numSteps.
func GridWarp(img *image.NRGBA, numSteps int, xSteps, ySteps []float64) *image.NRGBA {
	b := img.Bounds()
	xs := gridCoordinates(b.Dx(), numSteps, xSteps)
	ys := gridCoordinates(b.Dy(), numSteps, ySteps)
	return remap(img, func(u, v float64) (float64, float64) {
		return xs[int(u)], ys[int(v)]
	})
}

// gridCoordinates returns, for each of the size destination positions, the source coordinate to sample.
func gridCoordinates(size, numSteps int, steps []float64) []float64 {
	coords := make([]float64, size)
	step := max(size/numSteps, 1)
	prev := 0.0
	for start := 0; start < size; start += step {
		end := start + step
		var cur float64
		if end > size {
			end = size
			cur = float64(size)
		} else {
			cur = prev + float64(step)*steps[min(start/step, len(steps)-1)]
		}
		// Linear spacing from prev to cur, both ends included.
		n := end - start
		for ii := range n {
			if n == 1 {
				coords[start] = prev
				break
			}
			coords[start+ii] = prev + (cur-prev)*float64(ii)/float64(n-1)
		}
		prev = cur
	}
	return coords
}

// remap builds a new image where the pixel (u, v) is the bilinear interpolation of img at the source position
// returned by sourceAt(u, v). Samples outside the image read as zero (transparent black is written as
// opaque black).
func remap(img *image.NRGBA, sourceAt func(u, v float64) (x, y float64)) *image.NRGBA {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	var rgb [3]float64
	for v := range height {
		for u := range width {
			x, y := sourceAt(float64(u), float64(v))
			bilinear(img, x, y, &rgb)
			idx := out.PixOffset(u, v)
			for c := range rgb {
				out.Pix[idx+c] = clampUint8(rgb[c])
			}
			out.Pix[idx+3] = 0xFF
		}
	}
	return out
}

// bilinear interpolates the RGB channels of img at the position (x, y), relative to the image origin.
// Neighbors outside the image contribute zeros.
func bilinear(img *image.NRGBA, x, y float64, rgb *[3]float64) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	rgb[0], rgb[1], rgb[2] = 0, 0, 0
	if x <= -1 || y <= -1 || x >= float64(width) || y >= float64(height) || math.IsNaN(x) || math.IsNaN(y) {
		return
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	for dy := range 2 {
		py := y0 + dy
		if py < 0 || py >= height {
			continue
		}
		wy := fy
		if dy == 0 {
			wy = 1 - fy
		}
		for dx := range 2 {
			px := x0 + dx
			if px < 0 || px >= width {
				continue
			}
			wx := fx
			if dx == 0 {
				wx = 1 - fx
			}
			weight := wx * wy
			if weight == 0 {
				continue
			}
			idx := img.PixOffset(b.Min.X+px, b.Min.Y+py)
			for c := range rgb {
				rgb[c] += weight * float64(img.Pix[idx+c])
			}
		}
	}
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

func uniform(rng *rand.Rand, low, high float64) float64 {
	return low + rng.Float64()*(high-low)
}
