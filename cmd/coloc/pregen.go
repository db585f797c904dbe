// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/coloc/pkg/pregen"
	"github.com/pkg/errors"
)

func runPregen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pregen", flag.ContinueOnError)
	out := fs.String("out", "", "File where to write the pre-generated batches. Required.")
	epochs := fs.Int("epochs", 1, "Number of epochs to pre-generate.")
	codecName := fs.String("codec", pregen.Zstd.String(), "Compression: zstd, lz4 or none.")
	validation := fs.Bool("validation", false, "Pre-generate the validation iterator instead of the training one.")
	quiet := fs.Bool("quiet", false, "Don't display a progress bar.")
	cfg, err := parseConfig(fs, args)
	if err != nil {
		return err
	}
	if *out == "" {
		return errors.New("-out is required")
	}
	codec, err := pregen.ParseCodec(*codecName)
	if err != nil {
		return err
	}

	trainIt, valIt, err := buildIterators(ctx, cfg, false)
	if err != nil {
		return err
	}
	it := trainIt
	if *validation {
		it = valIt
	}
	opts := pregen.Options{
		Epochs:      *epochs,
		Parallelism: cfg.Workers,
		Codec:       codec,
	}
	if !*quiet {
		opts.Progress = os.Stderr
	}
	fmt.Printf("Pre-generating %d epochs of %q (%d batches each) into %q\n", *epochs, it.Name(), it.BatchesPerEpoch(), *out)
	stats, err := pregen.SaveFile(ctx, it, *out, opts)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", stats)
	return nil
}
