// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pairs

import (
	"github.com/gomlx/coloc/pkg/errs"
)

// TrainTestSplit splits the manifest for cross-validation, keeping all the records of a dataset on the same side.
//
// Distinct dataset ids are sorted and cut into nFolds contiguous folds of ceil(numDatasets/nFolds) ids each
// (the last fold may be shorter, or empty). testFold is 1-based: fold testFold goes to test, all others to train.
// Both returned manifests keep the original record order.
func TrainTestSplit(m *Manifest, testFold, nFolds int) (train, test *Manifest, err error) {
	if nFolds < 1 || testFold < 1 || testFold > nFolds {
		return nil, nil, errs.InvalidConfigf("test fold %d must be in [1, %d]", testFold, nFolds)
	}
	datasets := m.DatasetIDs()
	foldLength := (len(datasets) + nFolds - 1) / nFolds
	testStart := min(len(datasets), foldLength*(testFold-1))
	testEnd := min(len(datasets), foldLength*testFold)
	isTest := make(map[string]bool, testEnd-testStart)
	for _, id := range datasets[testStart:testEnd] {
		isTest[id] = true
	}

	var trainRows, testRows []int
	for ii, r := range m.records {
		if isTest[r.DatasetID] {
			testRows = append(testRows, ii)
		} else {
			trainRows = append(trainRows, ii)
		}
	}
	return m.Subset(trainRows), m.Subset(testRows), nil
}
