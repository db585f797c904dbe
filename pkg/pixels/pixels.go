// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pixels converts ion images between their 8-bit form and the [-1, 1] float form fed to the models,
// and provides the few image operations needed to build the model inputs: conversion to grayscale,
// square cubic resizing, stacking two grayscale images into a two-channel pair, and blending.
//
// A pair is represented as an *image.NRGBA where the red channel holds the base ion image, the green
// channel holds the other ion image, blue is 0 and alpha is opaque. This way any geometric transformation
// of github.com/disintegration/imaging keeps both channels co-registered.
package pixels

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// NumPairChannels is the number of channels of a pair.
const NumPairChannels = 2

// Preprocess maps an 8-bit pixel value to the model's [-1, 1] range: v/255*2-1.
func Preprocess(v uint8) float32 {
	return float32(v)/255*2 - 1
}

// Reprocess is the inverse of Preprocess, mapping x in [-1, 1] back to [0, 255].
// Fractions are truncated, and out-of-range values are clamped.
func Reprocess(x float32) uint8 {
	v := (x + 1) / 2 * 255
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// ToGray converts any image to 8-bit grayscale, using the ITU-R 601 luma weights.
// The result bounds start at (0, 0).
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}
	return RedChannel(imaging.Grayscale(img))
}

// Resize resizes a grayscale image to size x size using cubic (Catmull-Rom) interpolation.
// The aspect ratio is not preserved.
func Resize(img *image.Gray, size int) *image.Gray {
	if img.Bounds().Dx() == size && img.Bounds().Dy() == size && img.Bounds().Min == (image.Point{}) {
		return img
	}
	return RedChannel(imaging.Resize(img, size, size, imaging.CatmullRom))
}

// RedChannel extracts the red channel of img. Used to convert grayscale images in NRGBA form back to *image.Gray.
func RedChannel(img *image.NRGBA) *image.Gray {
	return Channel(img, 0)
}

// Channel extracts channel c (0 for red up to 3 for alpha) of img into a grayscale image.
// For a pair, channel 0 is the base ion image and channel 1 the other ion image.
func Channel(img *image.NRGBA, c int) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+4*b.Dx()]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[4*x+c]
		}
	}
	return gray
}

// Stack creates a pair with base in the red channel and other in the green channel.
// Both images must have the same size.
func Stack(base, other *image.Gray) (*image.NRGBA, error) {
	bb, ob := base.Bounds(), other.Bounds()
	if bb.Size() != ob.Size() {
		return nil, errors.Errorf("pixels.Stack: images of different sizes %v and %v", bb.Size(), ob.Size())
	}
	width, height := bb.Dx(), bb.Dy()
	pair := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := pair.PixOffset(x, y)
			pair.Pix[idx] = base.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y
			pair.Pix[idx+1] = other.GrayAt(ob.Min.X+x, ob.Min.Y+y).Y
			pair.Pix[idx+3] = 0xFF
		}
	}
	return pair, nil
}

// Split returns the base and other images of a pair. It is the inverse of Stack.
func Split(pair *image.NRGBA) (base, other *image.Gray) {
	return Channel(pair, 0), Channel(pair, 1)
}

// Blend returns img1*(1-t) + img2*t, with t clamped to [0, 1]. Both images must have the same size.
func Blend(img1, img2 *image.Gray, t float64) *image.Gray {
	return RedChannel(imaging.Overlay(img1, img2, img1.Bounds().Min, t))
}

// SideBySide renders a pair as a grayscale strip: base image on the left, other on the right, with a
// one pixel white separator. Used for previews.
func SideBySide(pair *image.NRGBA) *image.NRGBA {
	b := pair.Bounds()
	base, other := Split(pair)
	strip := imaging.New(2*b.Dx()+1, b.Dy(), color.White)
	strip = imaging.Paste(strip, base, image.Pt(0, 0))
	strip = imaging.Paste(strip, other, image.Pt(b.Dx()+1, 0))
	return strip
}
