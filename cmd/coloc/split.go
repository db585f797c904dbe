// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/coloc/pkg/config"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func runSplit(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	checkpoint := fs.String("checkpoint", "", "If set, highlight the fold the checkpoint (a file or name) was trained with.")
	cfg, err := parseConfig(fs, args)
	if err != nil {
		return err
	}
	if *checkpoint != "" {
		ckpt, err := config.ParseCheckpoint(filepath.Base(*checkpoint))
		if err != nil {
			return err
		}
		cfg.ApplyCheckpoint(ckpt)
		if err := cfg.Validate(); err != nil {
			return errors.WithMessagef(err, "checkpoint %q", *checkpoint)
		}
		klog.V(1).Infof("using fold %d of %d from %s", cfg.Fold, cfg.Folds, ckpt.Prefix())
	}
	m, err := loadManifest(cfg.DataDir, cfg.Manifest)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %s pairs in %d datasets",
		cfg.Manifest, humanize.Comma(int64(m.Len())), len(m.DatasetIDs()))))
	t := newTable([]string{"Fold", "Test datasets", "Test pairs", "Train pairs"}, lipgloss.Right)
	for fold := 1; fold <= cfg.Folds; fold++ {
		train, test, err := pairs.TrainTestSplit(m, fold, cfg.Folds)
		if err != nil {
			return err
		}
		t.add(fold == cfg.Fold,
			strconv.Itoa(fold),
			strconv.Itoa(len(test.DatasetIDs())),
			humanize.Comma(int64(test.Len())),
			humanize.Comma(int64(train.Len())))
	}
	fmt.Println(t.Render())
	return nil
}
