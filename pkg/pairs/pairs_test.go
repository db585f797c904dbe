// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pairs

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/coloc/pkg/errs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifestCSV = `datasetId,baseSf,baseAdduct,otherSf,otherAdduct,rank
ds1,C6H12O6,+H,C5H5N5,-H,7
ds1,C6H12O6,+H,C16H32O2,+Na,3
ds2,C10H16N5O13P3,-H,C5H5N5,+K,10
ds3,C3H7NO2,+H,C4H9NO2,-H2O,0
`

func TestIonAndImageNames(t *testing.T) {
	ion, err := IonName("C6H12O6", "+H")
	require.NoError(t, err)
	assert.Equal(t, "C6H12O6.pH", ion)

	ion, err = IonName("C4H9NO2", "-H2O")
	require.NoError(t, err)
	assert.Equal(t, "C4H9NO2.mH2O", ion)

	_, err = IonName("C4H9NO2", "")
	require.True(t, errors.Is(err, errs.ErrMalformedRecord))

	r := Record{DatasetID: "2016-09-21_16h06m49s", BaseSF: "C6H12O6", BaseAdduct: "+H",
		OtherSF: "C5H5N5", OtherAdduct: "-H", Rank: 7}
	base, other, err := r.ImageNames(DefaultImageExt)
	require.NoError(t, err)
	assert.Equal(t, "2016-09-21_16h06m49s.C6H12O6.pH.tif", base)
	assert.Equal(t, "2016-09-21_16h06m49s.C5H5N5.mH.tif", other)

	datasetID, parsedIon, err := ParseImageName(base)
	require.NoError(t, err)
	assert.Equal(t, "2016-09-21_16h06m49s", datasetID)
	assert.Equal(t, "C6H12O6.pH", parsedIon)

	_, _, err = ParseImageName("no-dots")
	require.True(t, errors.Is(err, errs.ErrMalformedRecord))

	_, _, err = Record{BaseSF: "X", BaseAdduct: "+H", OtherSF: "Y", OtherAdduct: "+H"}.Ions()
	require.True(t, errors.Is(err, errs.ErrMalformedRecord))
}

func TestReadManifest(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(testManifestCSV))
	require.NoError(t, err)
	require.Equal(t, 4, m.Len())
	assert.Equal(t, Record{DatasetID: "ds1", BaseSF: "C6H12O6", BaseAdduct: "+H",
		OtherSF: "C5H5N5", OtherAdduct: "-H", Rank: 7}, m.At(0))
	assert.Equal(t, 10.0, m.At(2).Rank)
	assert.Equal(t, []string{"ds1", "ds2", "ds3"}, m.DatasetIDs())

	// Round trip through WriteManifest.
	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, m))
	m2, err := ReadManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Records(), m2.Records())
}

func TestReadManifestErrors(t *testing.T) {
	_, err := ReadManifest(strings.NewReader("datasetId,baseSf,baseAdduct,otherSf,rank\nds1,A,+H,B,3\n"))
	require.True(t, errors.Is(err, errs.ErrMalformedRecord), "missing column: %v", err)

	_, err = ReadManifest(strings.NewReader(
		"datasetId,baseSf,baseAdduct,otherSf,otherAdduct,rank\nds1,A,+H,B,+H,11\n"))
	require.True(t, errors.Is(err, errs.ErrMalformedRecord), "rank out of range: %v", err)

	_, err = ReadManifest(strings.NewReader(
		"datasetId,baseSf,baseAdduct,otherSf,otherAdduct,rank\nds1,A,,B,+H,3\n"))
	require.True(t, errors.Is(err, errs.ErrMalformedRecord), "missing adduct: %v", err)
}

func TestTrainTestSplit(t *testing.T) {
	var records []Record
	for ds := range 7 {
		for ii := range ds + 1 {
			records = append(records, Record{DatasetID: fmt.Sprintf("ds%d", ds),
				BaseSF: "A", BaseAdduct: "+H", OtherSF: "B", OtherAdduct: "+H", Rank: float64(ii % 11)})
		}
	}
	m := NewManifest(records)

	totalTest := 0
	for fold := 1; fold <= 3; fold++ {
		train, test, err := TrainTestSplit(m, fold, 3)
		require.NoError(t, err)
		require.Equal(t, m.Len(), train.Len()+test.Len())
		trainIDs := map[string]bool{}
		for _, id := range train.DatasetIDs() {
			trainIDs[id] = true
		}
		for _, id := range test.DatasetIDs() {
			require.False(t, trainIDs[id], "dataset %q in both train and test", id)
		}
		totalTest += test.Len()
	}
	assert.Equal(t, m.Len(), totalTest)

	// 7 datasets in 3 folds: fold length 3, so the first fold holds ds0, ds1, ds2.
	_, test, err := TrainTestSplit(m, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"ds0", "ds1", "ds2"}, test.DatasetIDs())

	_, _, err = TrainTestSplit(m, 0, 5)
	require.True(t, errors.Is(err, errs.ErrInvalidConfiguration))
	_, _, err = TrainTestSplit(m, 6, 5)
	require.True(t, errors.Is(err, errs.ErrInvalidConfiguration))
}

func TestGroupByDataset(t *testing.T) {
	g := GroupByDataset([]string{
		"dsB.C1.pH.tif", "dsA.C1.pH.tif", "dsA.C2.mH.tif", "dsC.C1.pH.tif", "dsB.C2.pNa.tif", "dsA.C3.pK.tif",
		"garbage",
	})
	require.Equal(t, 2, g.Len())
	assert.Equal(t, Group{DatasetID: "dsA", Images: []string{"dsA.C1.pH.tif", "dsA.C2.mH.tif", "dsA.C3.pK.tif"}}, g.At(0))
	assert.Equal(t, "dsB", g.At(1).DatasetID)
	_, found := g.Lookup("dsC")
	assert.False(t, found, "single image datasets must be dropped")

	assert.Equal(t, []string{"a.b.c.tif"}, FilterImageNames([]string{"a.b.c.tif", "a.b.c.png", "tif"}, "tif"))
}
