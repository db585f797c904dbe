// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package errs defines the error taxonomy shared by the sampling, loading and batching packages.
//
// Errors returned by this module wrap one of these sentinels (with github.com/pkg/errors, so a stack
// trace is printed with "%+v"), and callers should test for them with errors.Is.
package errs

import (
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrExhausted is returned by finite iterators once their single epoch was fully consumed.
	// It is io.EOF, which is what train.Loop and the other GoMLX dataset consumers expect at the end of data.
	ErrExhausted = io.EOF

	// ErrMissingOrCorruptImage is returned when an image referenced by a record can't be read or decoded.
	ErrMissingOrCorruptImage = errors.New("missing or corrupt image")

	// ErrMalformedRecord is returned when a manifest row can't be turned into image names.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrInvalidConfiguration is returned at construction time for invalid parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// InvalidConfigf returns an error wrapping ErrInvalidConfiguration with the formatted message.
func InvalidConfigf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}

// MalformedRecordf returns an error wrapping ErrMalformedRecord with the formatted message.
func MalformedRecordf(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedRecord, format, args...)
}

// MissingImage wraps cause so that it matches ErrMissingOrCorruptImage, naming the offending image.
func MissingImage(cause error, name string) error {
	return &imageError{name: name, cause: cause}
}

type imageError struct {
	name  string
	cause error
}

func (e *imageError) Error() string {
	return "image " + e.name + ": " + ErrMissingOrCorruptImage.Error() + ": " + e.cause.Error()
}

// Is makes errors.Is(err, ErrMissingOrCorruptImage) true.
func (e *imageError) Is(target error) bool { return target == ErrMissingOrCorruptImage }

// Unwrap gives access to the underlying I/O or decoding error.
func (e *imageError) Unwrap() error { return e.cause }
