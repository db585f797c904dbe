// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pairs

import (
	"io"
	"math"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/pkg/errors"
)

// Manifest column names, in the order they appear in the CSV files.
const (
	ColDatasetID   = "datasetId"
	ColBaseSF      = "baseSf"
	ColBaseAdduct  = "baseAdduct"
	ColOtherSF     = "otherSf"
	ColOtherAdduct = "otherAdduct"
	ColRank        = "rank"
)

var (
	// ManifestColumns lists the columns a manifest must have.
	ManifestColumns = []string{ColDatasetID, ColBaseSF, ColBaseAdduct, ColOtherSF, ColOtherAdduct, ColRank}

	manifestTypes = map[string]series.Type{
		ColDatasetID:   series.String,
		ColBaseSF:      series.String,
		ColBaseAdduct:  series.String,
		ColOtherSF:     series.String,
		ColOtherAdduct: series.String,
		ColRank:        series.Float,
	}
)

// Manifest is an immutable, ordered list of pair records.
//
// Iterators never reorder a Manifest: they keep their own permutation of its row indices.
type Manifest struct {
	records []Record
}

// NewManifest creates a Manifest with a copy of records.
func NewManifest(records []Record) *Manifest {
	return &Manifest{records: slices.Clone(records)}
}

// Len returns the number of records.
func (m *Manifest) Len() int { return len(m.records) }

// At returns the record at row i.
func (m *Manifest) At(i int) Record { return m.records[i] }

// Records returns a copy of all records, in manifest order.
func (m *Manifest) Records() []Record { return slices.Clone(m.records) }

// Subset returns a new Manifest with the given rows, in the given order.
func (m *Manifest) Subset(rows []int) *Manifest {
	records := make([]Record, len(rows))
	for ii, row := range rows {
		records[ii] = m.records[row]
	}
	return &Manifest{records: records}
}

// DatasetIDs returns the distinct dataset ids, sorted.
func (m *Manifest) DatasetIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range m.records {
		if !seen[r.DatasetID] {
			seen[r.DatasetID] = true
			ids = append(ids, r.DatasetID)
		}
	}
	slices.Sort(ids)
	return ids
}

// LoadManifest reads a manifest CSV file. See ReadManifest.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %q", path)
	}
	defer func() { _ = f.Close() }()
	m, err := ReadManifest(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading manifest %q", path)
	}
	return m, nil
}

// ReadManifest parses a manifest in CSV format, with a header naming at least the ManifestColumns.
// Extra columns (e.g. a "pred" column of a predictions file) are ignored.
//
// Rows with an empty identifier or a rank that is missing or outside [0, MaxRank] fail with
// errs.ErrMalformedRecord.
func ReadManifest(r io.Reader) (*Manifest, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.WithTypes(manifestTypes))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse manifest CSV")
	}
	cols := make(map[string]series.Series, len(ManifestColumns))
	for _, name := range ManifestColumns {
		col := df.Col(name)
		if col.Err != nil {
			return nil, errs.MalformedRecordf("manifest is missing column %q (found %q)", name, df.Names())
		}
		cols[name] = col
	}
	ids := cols[ColDatasetID].Records()
	baseSFs := cols[ColBaseSF].Records()
	baseAdducts := cols[ColBaseAdduct].Records()
	otherSFs := cols[ColOtherSF].Records()
	otherAdducts := cols[ColOtherAdduct].Records()
	ranks := cols[ColRank].Float()

	records := make([]Record, df.Nrow())
	for ii := range records {
		rec := Record{
			DatasetID:   ids[ii],
			BaseSF:      baseSFs[ii],
			BaseAdduct:  baseAdducts[ii],
			OtherSF:     otherSFs[ii],
			OtherAdduct: otherAdducts[ii],
			Rank:        ranks[ii],
		}
		if math.IsNaN(rec.Rank) || rec.Rank < 0 || rec.Rank > MaxRank {
			return nil, errs.MalformedRecordf("row %d: rank %v out of [0, %g]", ii+1, ranks[ii], MaxRank)
		}
		if _, _, err := rec.Ions(); err != nil {
			return nil, errors.WithMessagef(err, "row %d", ii+1)
		}
		records[ii] = rec
	}
	return &Manifest{records: records}, nil
}

// WriteManifest writes the manifest in CSV format, with the ManifestColumns header.
func WriteManifest(w io.Writer, m *Manifest) error {
	df := dataframe.LoadStructs(m.csvRows())
	return df.WriteCSV(w)
}

// csvRow mirrors Record with the CSV column names, for dataframe.LoadStructs.
type csvRow struct {
	DatasetID   string  `dataframe:"datasetId,string"`
	BaseSF      string  `dataframe:"baseSf,string"`
	BaseAdduct  string  `dataframe:"baseAdduct,string"`
	OtherSF     string  `dataframe:"otherSf,string"`
	OtherAdduct string  `dataframe:"otherAdduct,string"`
	Rank        float64 `dataframe:"rank,float"`
}

func (m *Manifest) csvRows() []csvRow {
	rows := make([]csvRow, len(m.records))
	for ii, r := range m.records {
		rows[ii] = csvRow(r)
	}
	return rows
}
