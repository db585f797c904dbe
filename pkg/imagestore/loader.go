// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagestore

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pixels"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	// TIFF is the format of the ion images.
	_ "golang.org/x/image/tiff"
)

// Loader reads images from a Store as grayscale, resized to a fixed square size.
type Loader struct {
	store Store
	size  int
}

// NewLoader creates a Loader for the store, resizing images to size x size.
func NewLoader(store Store, size int) (*Loader, error) {
	if store == nil {
		return nil, errs.InvalidConfigf("imagestore.NewLoader: nil store")
	}
	if size <= 0 {
		return nil, errs.InvalidConfigf("imagestore.NewLoader: image size must be positive, got %d", size)
	}
	return &Loader{store: store, size: size}, nil
}

// Store returns the underlying Store.
func (l *Loader) Store() Store { return l.store }

// Size returns the side of the square images returned.
func (l *Loader) Size() int { return l.size }

// Load reads, decodes, converts to grayscale and resizes (with cubic interpolation) the named image.
//
// Any failure to read or decode the image is returned as an error matching errs.ErrMissingOrCorruptImage,
// except for the cancellation of ctx.
func (l *Loader) Load(ctx context.Context, name string) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	r, err := l.store.Open(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		return nil, errs.MissingImage(err, name)
	}
	defer func() { _ = r.Close() }()

	var img image.Image
	exception := exceptions.Try(func() {
		img, err = imaging.Decode(r)
	})
	if exception != nil {
		if e, ok := exception.(error); ok {
			err = errors.Wrap(e, "decoder panicked")
		} else {
			err = errors.Errorf("decoder panicked: %v", exception)
		}
	}
	if err != nil {
		return nil, errs.MissingImage(err, name)
	}
	return pixels.Resize(pixels.ToGray(img), l.size), nil
}

// LoadPair loads the base and other images and stacks them into a pair (see pixels.Stack).
func (l *Loader) LoadPair(ctx context.Context, baseName, otherName string) (*image.NRGBA, error) {
	base, err := l.Load(ctx, baseName)
	if err != nil {
		return nil, err
	}
	other, err := l.Load(ctx, otherName)
	if err != nil {
		return nil, err
	}
	return pixels.Stack(base, other)
}
