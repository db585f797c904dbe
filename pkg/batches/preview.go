// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batches

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/pkg/errors"
)

// previewGap is the width of the separator between the images of a preview.
const previewGap = 3

// PreviewImage renders sample i of the batch as an 8-bit image for visual inspection: all the images of the
// sample (both images of each pair input, or the single image of each mu input) side by side, left to right.
func PreviewImage(batch *Batch, i int) (*image.NRGBA, error) {
	if i < 0 || i >= batch.Size() {
		return nil, errors.Errorf("PreviewImage: sample %d out of range for batch of size %d", i, batch.Size())
	}
	var parts []*image.NRGBA
	for _, input := range batch.Inputs {
		img := input.Image(i)
		if input.Channels == pixels.NumPairChannels {
			img = pixels.SideBySide(img)
		}
		parts = append(parts, img)
	}
	width, height := 0, 0
	for ii, part := range parts {
		if ii > 0 {
			width += previewGap
		}
		width += part.Bounds().Dx()
		height = max(height, part.Bounds().Dy())
	}
	preview := imaging.New(width, height, color.NRGBA{R: 0x80, G: 0x80, B: 0xFF, A: 0xFF})
	x := 0
	for _, part := range parts {
		preview = imaging.Paste(preview, part, image.Pt(x, 0))
		x += part.Bounds().Dx() + previewGap
	}
	return preview, nil
}
