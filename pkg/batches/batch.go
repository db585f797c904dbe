// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batches

import (
	"fmt"
	"image"

	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Images holds a batch of preprocessed square images, with values in [-1, 1], in "channels last"
// layout: [batch, size, size, channels].
type Images struct {
	Size, Channels int
	Data           []float32
}

// NewImages allocates a batch of n images of size x size with the given number of channels.
func NewImages(n, size, channels int) *Images {
	return &Images{Size: size, Channels: channels, Data: make([]float32, n*size*size*channels)}
}

// Len returns the number of images.
func (im *Images) Len() int {
	sampleLen := im.Size * im.Size * im.Channels
	if sampleLen == 0 {
		return 0
	}
	return len(im.Data) / sampleLen
}

// Shape returns the dimensions of the batch: [batch, size, size, channels].
func (im *Images) Shape() []int {
	return []int{im.Len(), im.Size, im.Size, im.Channels}
}

// Sample returns the flat data of image i. It shares the batch storage.
func (im *Images) Sample(i int) []float32 {
	sampleLen := im.Size * im.Size * im.Channels
	return im.Data[i*sampleLen : (i+1)*sampleLen]
}

// Set preprocesses the given channels of img (0 for the base image, 1 for the other image of a pair)
// into the slot of image i.
func (im *Images) Set(i int, img *image.NRGBA, channels ...int) error {
	if len(channels) != im.Channels {
		return errors.Errorf("Images.Set: %d channels given for images with %d channels", len(channels), im.Channels)
	}
	b := img.Bounds()
	if b.Dx() != im.Size || b.Dy() != im.Size {
		return errors.Errorf("Images.Set: image of size %v given for images of size %dx%d", b.Size(), im.Size, im.Size)
	}
	dst := im.Sample(i)
	idx := 0
	for y := range im.Size {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := range im.Size {
			px := row[4*x : 4*x+4 : 4*x+4]
			for _, c := range channels {
				dst[idx] = pixels.Preprocess(px[c])
				idx++
			}
		}
	}
	return nil
}

// Image reprocesses image i back to 8-bit: a pair for 2 channels (base in red, other in green), or
// a gray image (stored in red, green and blue) for 1 channel.
func (im *Images) Image(i int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, im.Size, im.Size))
	src := im.Sample(i)
	for p := range im.Size * im.Size {
		px := img.Pix[4*p : 4*p+4 : 4*p+4]
		if im.Channels == 1 {
			v := pixels.Reprocess(src[p])
			px[0], px[1], px[2] = v, v, v
		} else {
			for c := range min(im.Channels, 3) {
				px[c] = pixels.Reprocess(src[p*im.Channels+c])
			}
		}
		px[3] = 0xFF
	}
	return img
}

// Batch is one batch of model inputs and targets.
//
// The layout depends on the iterator that generated it:
//
//   - Pair iterator: one input of pairs [batch, crop, crop, 2], one target.
//   - Pi iterator: two inputs of pairs [batch, crop, crop, 2] (two augmentations of the same samples),
//     two targets and two sample weights.
//   - Mu iterator: two inputs of single images [batch, crop, crop, 1], one target.
//
// Targets and weights hold one value per sample.
type Batch struct {
	// Epoch of the sequence the batch belongs to.
	Epoch int

	Inputs  []*Images
	Targets [][]float32
	Weights [][]float32

	// Filenames of the samples, only filled if requested with Iterator.WithFilenames.
	Filenames []pairs.Filename
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	if len(b.Targets) == 0 {
		return 0
	}
	return len(b.Targets[0])
}

// String implements fmt.Stringer, with a summary of the batch shapes.
func (b *Batch) String() string {
	s := fmt.Sprintf("Batch(epoch=%d, size=%d, inputs=[", b.Epoch, b.Size())
	for ii, input := range b.Inputs {
		if ii > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%v", input.Shape())
	}
	return s + fmt.Sprintf("], %d targets, %d weights)", len(b.Targets), len(b.Weights))
}

// Precision of the tensors generated by Batch.ToTensors.
type Precision int

const (
	Float32 Precision = iota
	Float16
)

// String implements fmt.Stringer.
func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	}
	return fmt.Sprintf("Precision(%d)", int(p))
}

// ParsePrecision converts "float32" or "float16" to a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "float32", "f32":
		return Float32, nil
	case "float16", "f16":
		return Float16, nil
	}
	return Float32, errors.Errorf("unknown precision %q, valid values are \"float32\" and \"float16\"", s)
}

// ToTensors converts the batch to tensors, in the format expected by a GoMLX training loop.
//
// Inputs are the image batches. Labels are the targets, shaped [batch, 1], followed by the sample weights
// (if any) with the same shape, so losses can use them as weights.
func (b *Batch) ToTensors(precision Precision) (inputs, labels []*tensors.Tensor) {
	n := b.Size()
	inputs = make([]*tensors.Tensor, len(b.Inputs))
	for ii, images := range b.Inputs {
		inputs[ii] = toTensor(images.Data, precision, images.Shape()...)
	}
	labels = make([]*tensors.Tensor, 0, len(b.Targets)+len(b.Weights))
	for _, targets := range b.Targets {
		labels = append(labels, toTensor(targets, precision, n, 1))
	}
	for _, weights := range b.Weights {
		labels = append(labels, toTensor(weights, precision, n, 1))
	}
	return
}

func toTensor(data []float32, precision Precision, dimensions ...int) *tensors.Tensor {
	if precision == Float16 {
		half := make([]float16.Float16, len(data))
		for ii, v := range data {
			half[ii] = float16.Fromfloat32(v)
		}
		return tensors.FromFlatDataAndDimensions(half, dimensions...)
	}
	return tensors.FromFlatDataAndDimensions(data, dimensions...)
}
