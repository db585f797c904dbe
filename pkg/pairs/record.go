// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pairs holds the manifest of ion-image pairs used to train and evaluate co-localization models:
// the pair records, how they name their image files, the cross-validation split by dataset and the
// grouping of image files by dataset used by the mu-model sampler.
package pairs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gomlx/coloc/pkg/errs"
)

// DefaultImageExt is the extension of the ion images exported by METASPACE.
const DefaultImageExt = "tif"

// MaxRank is the upper bound of the co-localization rank scale. Ranks are in [0, MaxRank].
const MaxRank = 10.0

// Record is one row of the manifest: two ions of the same dataset and their ground-truth
// co-localization rank.
type Record struct {
	DatasetID   string
	BaseSF      string
	BaseAdduct  string
	OtherSF     string
	OtherAdduct string
	Rank        float64
}

// adductReplacer sanitizes adducts for use in file names.
var adductReplacer = strings.NewReplacer("+", "p", "-", "m")

// IonName composes the file-name form of an ion: "{sf}.{adduct}" with "+" replaced by "p" and "-" by "m".
// It fails with errs.ErrMalformedRecord if either part is empty.
func IonName(sf, adduct string) (string, error) {
	if sf == "" || adduct == "" {
		return "", errs.MalformedRecordf("ion with formula %q and adduct %q", sf, adduct)
	}
	return sf + "." + adductReplacer.Replace(adduct), nil
}

// ImageName composes the name of the file holding the image of ion (as returned by IonName) in the dataset.
func ImageName(datasetID, ion, ext string) string {
	return fmt.Sprintf("%s.%s.%s", datasetID, ion, ext)
}

// Ions returns the sanitized names of the base and other ions of the record.
func (r Record) Ions() (baseIon, otherIon string, err error) {
	if r.DatasetID == "" {
		return "", "", errs.MalformedRecordf("record %v has no datasetId", r)
	}
	baseIon, err = IonName(r.BaseSF, r.BaseAdduct)
	if err != nil {
		return "", "", err
	}
	otherIon, err = IonName(r.OtherSF, r.OtherAdduct)
	if err != nil {
		return "", "", err
	}
	return
}

// ImageNames returns the file names of the base and other images of the record.
func (r Record) ImageNames(ext string) (base, other string, err error) {
	baseIon, otherIon, err := r.Ions()
	if err != nil {
		return "", "", err
	}
	return ImageName(r.DatasetID, baseIon, ext), ImageName(r.DatasetID, otherIon, ext), nil
}

// Filename identifies the images of one sample in a batch, for reports and debugging.
type Filename struct {
	DatasetID, BaseIon, OtherIon string
}

// String implements fmt.Stringer.
func (f Filename) String() string {
	return fmt.Sprintf("%s: %s, %s", f.DatasetID, f.BaseIon, f.OtherIon)
}

var imageNameRegexp = regexp.MustCompile(`^([^.]+)\.(.+)\.([^.]+)$`)

// ParseImageName splits an image file name into its dataset id and ion name. It is the inverse of ImageName.
func ParseImageName(name string) (datasetID, ion string, err error) {
	parts := imageNameRegexp.FindStringSubmatch(name)
	if parts == nil {
		return "", "", errs.MalformedRecordf("image name %q is not in the form {datasetId}.{sf}.{adduct}.{ext}", name)
	}
	return parts[1], parts[2], nil
}
