// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pairs

import (
	"slices"
	"strings"

	"k8s.io/klog/v2"
)

// Group is the list of image file names of one dataset.
type Group struct {
	DatasetID string
	Images    []string
}

// Groups maps datasets to their images, for sampling pairs of images of the same dataset.
// It is immutable once built.
type Groups struct {
	groups []Group
	index  map[string]int
}

// GroupByDataset groups image file names (as given by ImageName) by their dataset id.
//
// Datasets with fewer than 2 images can't form a pair and are dropped. Names that don't
// parse are skipped with a warning. Groups are sorted by dataset id, and the images of each
// group keep the order they were given in.
func GroupByDataset(imageNames []string) *Groups {
	byDataset := make(map[string][]string)
	for _, name := range imageNames {
		datasetID, _, err := ParseImageName(name)
		if err != nil {
			klog.Warningf("skipping image %q: %v", name, err)
			continue
		}
		byDataset[datasetID] = append(byDataset[datasetID], name)
	}

	g := &Groups{index: make(map[string]int)}
	ids := make([]string, 0, len(byDataset))
	for id, images := range byDataset {
		if len(images) < 2 {
			klog.V(1).Infof("dropping dataset %q: only %d image", id, len(images))
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		g.index[id] = len(g.groups)
		g.groups = append(g.groups, Group{DatasetID: id, Images: byDataset[id]})
	}
	return g
}

// Len returns the number of datasets with at least 2 images.
func (g *Groups) Len() int { return len(g.groups) }

// At returns the i-th group, in dataset id order. Callers must not modify its Images.
func (g *Groups) At(i int) Group { return g.groups[i] }

// Lookup returns the group of the dataset, if it has at least 2 images.
func (g *Groups) Lookup(datasetID string) (Group, bool) {
	idx, found := g.index[datasetID]
	if !found {
		return Group{}, false
	}
	return g.groups[idx], true
}

// FilterImageNames keeps only the names with the given extension (without the dot).
func FilterImageNames(names []string, ext string) []string {
	suffix := "." + ext
	var kept []string
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			kept = append(kept, name)
		}
	}
	return kept
}
