// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pregen pre-generates batches (decoded, resized and augmented) into a compressed file, and reads
// them back much faster than generating them. The file holds the given number of epochs of batches.
//
// Use Save or SaveFile to write the batches of a finite source (a *batches.Iterator configured without
// InfiniteLoop), and Open to read them back with a Reader, which can be used as a train.Dataset.
package pregen

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/coloc/internal/fsutil"
	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/parallel"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Options for Save.
type Options struct {
	// Epochs to generate. Each epoch is a full pass over the source, which is reset in between.
	Epochs int

	// Parallelism is the number of goroutines generating batches. If <= 0, the number of cores plus 1.
	Parallelism int

	Codec Codec

	// Progress is where to display a progress bar. If nil, no progress bar is displayed.
	Progress io.Writer
}

// Stats of a Save.
type Stats struct {
	Epochs, Batches, Samples int

	// Bytes written, after compression.
	Bytes   int64
	Elapsed time.Duration
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%d epochs, %s batches (%s samples), %s written in %s",
		s.Epochs, humanize.Comma(int64(s.Batches)), humanize.Comma(int64(s.Samples)),
		humanize.Bytes(uint64(s.Bytes)), s.Elapsed.Round(time.Millisecond))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Save generates opts.Epochs epochs of batches from source, with parallel goroutines, and writes them to w.
// The order of the batches within an epoch is not preserved.
//
// The source must be finite: a *batches.Iterator configured with InfiniteLoop is rejected with
// errs.ErrInvalidConfiguration.
func Save(ctx context.Context, source parallel.Source, w io.Writer, opts Options) (Stats, error) {
	var stats Stats
	if opts.Epochs < 1 {
		return stats, errs.InvalidConfigf("pre-generation requires at least 1 epoch, got %d", opts.Epochs)
	}
	if it, ok := source.(interface{ Config() batches.Config }); ok && it.Config().InfiniteLoop {
		return stats, errs.InvalidConfigf("cannot pre-generate %d epochs of %q, it is configured to loop infinitely",
			opts.Epochs, source.Name())
	}
	start := time.Now()
	counter := &countingWriter{w: w}
	if err := writeHeader(counter, opts.Codec); err != nil {
		return stats, err
	}
	compressed, err := opts.Codec.compressor(counter)
	if err != nil {
		return stats, err
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		total := -1
		if it, ok := source.(interface{ BatchesPerEpoch() int }); ok {
			total = opts.Epochs * it.BatchesPerEpoch()
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("Pre-generating"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}

	supplier := parallel.New(source).Parallelism(opts.Parallelism).Start(ctx)
	defer supplier.Stop()
	var buf []byte
	for epoch := range opts.Epochs {
		if epoch > 0 {
			supplier.Reset()
		}
		for {
			batch, err := supplier.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return stats, errors.WithMessagef(err, "pre-generating epoch %d", epoch)
			}
			buf, err = encodeBatch(buf[:0], batch)
			if err != nil {
				return stats, err
			}
			if _, err = compressed.Write(buf); err != nil {
				return stats, errors.Wrap(err, "failed to write pre-generated batch")
			}
			stats.Batches++
			stats.Samples += batch.Size()
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		stats.Epochs++
		klog.V(1).Infof("pregen %q: epoch %d done, %d batches so far", source.Name(), epoch, stats.Batches)
	}
	if err := compressed.Close(); err != nil {
		return stats, errors.Wrap(err, "failed to flush pre-generated batches")
	}
	if bar != nil {
		_ = bar.Finish()
	}
	stats.Bytes = counter.n
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// SaveFile is like Save, but writes to the file at path, creating its directory if needed.
// The file is removed if the generation fails.
func SaveFile(ctx context.Context, source parallel.Source, path string, opts Options) (stats Stats, err error) {
	path, err = fsutil.ExpandHome(path)
	if err != nil {
		return
	}
	if err = fsutil.EnsureParentDir(path); err != nil {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		return stats, errors.Wrapf(err, "failed to create %q", path)
	}
	stats, err = Save(ctx, source, f, opts)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close %q", path)
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return
}
