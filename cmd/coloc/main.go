// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// coloc inspects and pre-generates the training batches of the ion-image co-localization models, and
// evaluates their predictions.
//
// Usage:
//
//	coloc [-v=1] <command> [flags]
//
// Commands:
//
//	split    Print the cross-validation folds of a manifest.
//	inspect  Pull a few batches from an iterator, print them and optionally save previews.
//	pregen   Pre-generate epochs of batches into a compressed file.
//	stats    Evaluate a predictions file with dataset-wise rank correlations.
//
// Run "coloc <command> -help" for the flags of each command. Commands that read data accept a
// -config YAML file, whose values are overridden by the command-line flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"

	"k8s.io/klog/v2"
)

type command struct {
	name, help string
	run        func(ctx context.Context, args []string) error
}

var commands = []command{
	{"split", "Print the cross-validation folds of a manifest.", runSplit},
	{"inspect", "Pull a few batches from an iterator, print them and optionally save previews.", runInspect},
	{"pregen", "Pre-generate epochs of batches into a compressed file.", runPregen},
	{"stats", "Evaluate a predictions file with dataset-wise rank correlations.", runStats},
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", os.Args[0])
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(out, "  %-8s %s\n", cmd.name, cmd.help)
	}
	_, _ = fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	idx := slices.IndexFunc(commands, func(c command) bool { return c.name == args[0] })
	if idx < 0 {
		klog.Errorf("Unknown command %q. See '%s -help'.", args[0], os.Args[0])
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := commands[idx].run(ctx, args[1:]); err != nil {
		klog.Errorf("%s failed: %+v", args[0], err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
