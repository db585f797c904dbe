// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pregen

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Codec used to compress the batches in a pre-generated file.
type Codec uint8

const (
	// None stores the batches uncompressed.
	None Codec = iota

	// Zstd compresses with Zstandard. It is the default.
	Zstd

	// LZ4 compresses with LZ4.
	LZ4
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	}
	return "unknown"
}

// ParseCodec converts "none", "zstd" or "lz4" to a Codec.
func ParseCodec(name string) (Codec, error) {
	for _, c := range []Codec{None, Zstd, LZ4} {
		if c.String() == name {
			return c, nil
		}
	}
	return None, errors.Errorf("unknown codec %q, valid values are \"none\", \"zstd\" and \"lz4\"", name)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w. Closing the returned writer flushes it, but doesn't close w.
func (c Codec) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd encoder")
		}
		return enc, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	}
	return nil, errors.Errorf("unknown codec %d", c)
}

// decompressor wraps r. The returned closer releases the decoder resources, but doesn't close r.
func (c Codec) decompressor(r io.Reader) (io.Reader, func(), error) {
	switch c {
	case None:
		return r, func() {}, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create zstd decoder")
		}
		return dec, dec.Close, nil
	case LZ4:
		return lz4.NewReader(r), func() {}, nil
	}
	return nil, nil, errors.Errorf("unknown codec %d in file header", c)
}
