// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/coloc/pkg/batches"
	"github.com/gomlx/coloc/pkg/config"
	"github.com/gomlx/coloc/pkg/imagestore"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// flagValue returns the value of flag name in args, in any of the forms "-name=v", "--name=v",
// "-name v" or "--name v". Parsing stops at the first non-flag argument or "--".
//
// Flags written as "-other v" consume the next argument, except boolean flags already defined in fs.
func flagValue(fs *flag.FlagSet, args []string, name string) (string, bool) {
	for ii := 0; ii < len(args); ii++ {
		arg := args[ii]
		if arg == "--" || !strings.HasPrefix(arg, "-") {
			break
		}
		arg = strings.TrimLeft(arg, "-")
		key, value, hasValue := strings.Cut(arg, "=")
		if key != name {
			if !hasValue && !isBoolFlag(fs, key) {
				ii++
			}
			continue
		}
		if hasValue {
			return value, true
		}
		if ii+1 < len(args) {
			return args[ii+1], true
		}
		return "", true
	}
	return "", false
}

func isBoolFlag(fs *flag.FlagSet, name string) bool {
	if fs == nil {
		return false
	}
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// parseConfig builds the configuration of a command: it starts from the -config file if given (or the
// defaults of the -variant), overrides it with the command-line flags in fs, and validates it.
func parseConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	var cfg config.Config
	fs.String("config", "", "YAML configuration file. Command-line flags override its values.")
	if path, found := flagValue(fs, args, "config"); found && path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	} else {
		variant := config.VariantPair
		if v, found := flagValue(fs, args, "variant"); found {
			variant = v
		}
		cfg = config.ForVariant(variant)
	}
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runSummary describes the training run of the configuration: its learning rate schedule and the names
// of its checkpoints.
func runSummary(cfg config.Config) (string, error) {
	schedule, err := config.NewSchedule(cfg.LRSteps)
	if err != nil {
		return "", err
	}
	rates := make([]string, 0, schedule.Steps())
	for _, epoch := range slices.Sorted(maps.Keys(cfg.LRSteps)) {
		rates = append(rates, fmt.Sprintf("%g from epoch %d", schedule.At(epoch), epoch))
	}
	return fmt.Sprintf("%s model, %d epochs, learning rate %s, checkpoints %s.<epoch>-<loss>",
		cfg.Variant, cfg.Epochs, strings.Join(rates, ", "), cfg.Checkpoint(0, 0).Prefix()), nil
}

// openStore opens the image store at location, rate limited if it is remote and rateLimit > 0.
func openStore(ctx context.Context, location string, rateLimit float64) (imagestore.Store, error) {
	store, err := imagestore.New(ctx, location)
	if err != nil {
		return nil, err
	}
	if rateLimit > 0 && strings.Contains(location, "://") {
		klog.V(1).Infof("rate limiting %q to %g images/s", location, rateLimit)
		store = imagestore.NewRateLimited(store, rateLimit, max(1, int(rateLimit)))
	}
	return store, nil
}

// loadManifest loads the manifest, relative to the data location if it is a local directory.
func loadManifest(dataDir, manifest string) (*pairs.Manifest, error) {
	path, err := config.ManifestPath(dataDir, manifest)
	if err != nil {
		return nil, err
	}
	return pairs.LoadManifest(path)
}

// loadSplit loads the supervised manifest and splits it in the configured fold.
func loadSplit(cfg config.Config) (train, test *pairs.Manifest, err error) {
	m, err := loadManifest(cfg.DataDir, cfg.Manifest)
	if err != nil {
		return nil, nil, err
	}
	return pairs.TrainTestSplit(m, cfg.Fold, cfg.Folds)
}

// buildIterators creates the training and validation iterators of the configured variant.
// The training iterator loops infinitely only if infinite is set.
func buildIterators(ctx context.Context, cfg config.Config, infinite bool) (trainIt, valIt *batches.Iterator, err error) {
	trainCfg, err := cfg.TrainIteratorConfig()
	if err != nil {
		return nil, nil, err
	}
	trainCfg.InfiniteLoop = infinite
	valCfg := cfg.ValidationIteratorConfig()

	store, err := openStore(ctx, cfg.DataDir, cfg.RateLimit)
	if err != nil {
		return nil, nil, err
	}
	trainManifest, testManifest, err := loadSplit(cfg)
	if err != nil {
		return nil, nil, err
	}
	klog.V(1).Infof("fold %d/%d: %d training pairs, %d validation pairs",
		cfg.Fold, cfg.Folds, trainManifest.Len(), testManifest.Len())

	switch cfg.Variant {
	case config.VariantPair:
		trainIt, err = batches.NewPairIterator(store, trainManifest, trainCfg)
		if err == nil {
			valIt, err = batches.NewPairIterator(store, testManifest, valCfg)
		}

	case config.VariantPi:
		var unsupStore imagestore.Store
		var unsupManifest *pairs.Manifest
		unsupStore, err = openStore(ctx, cfg.UnsupDir, cfg.RateLimit)
		if err != nil {
			return nil, nil, err
		}
		unsupManifest, err = loadManifest(cfg.UnsupDir, cfg.UnsupManifest)
		if err != nil {
			return nil, nil, err
		}
		trainIt, err = batches.NewPiIterator(store, trainManifest, unsupStore, unsupManifest, trainCfg)
		if err == nil {
			valIt, err = batches.NewPairIterator(store, testManifest, valCfg)
		}

	case config.VariantMu:
		var groups *pairs.Groups
		groups, err = datasetGroups(ctx, store, cfg.ImageExt, trainManifest.DatasetIDs())
		if err != nil {
			return nil, nil, err
		}
		trainIt, err = batches.NewMuIterator(store, groups, trainCfg)
		if err == nil {
			valIt, err = batches.NewMuValidationIterator(store, testManifest, valCfg)
		}

	default:
		err = errors.Errorf("unknown variant %q", cfg.Variant)
	}
	if err != nil {
		return nil, nil, err
	}
	return trainIt.WithName("train"), valIt.WithName("validation"), nil
}

// datasetGroups lists the images in the store and groups the ones of the given datasets.
func datasetGroups(ctx context.Context, store imagestore.Store, ext string, datasetIDs []string) (*pairs.Groups, error) {
	names, err := imagestore.ScanImageNames(ctx, store, ext)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(datasetIDs))
	for _, id := range datasetIDs {
		wanted[id] = true
	}
	selected := names[:0:0]
	for _, name := range names {
		if id, _, err := pairs.ParseImageName(name); err == nil && wanted[id] {
			selected = append(selected, name)
		}
	}
	groups := pairs.GroupByDataset(selected)
	if groups.Len() == 0 {
		return nil, errors.Errorf("no dataset with at least 2 images among the %d images found", len(names))
	}
	return groups, nil
}
