package io

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Source is a record source with a fixed set of numeric features, such as a
// packet capture.
type Source interface {
	// Read returns every record as a feature vector.
	Read() ([][]float64, error)

	// FeatureNames returns the names of the features, in vector order.
	FeatureNames() []string

	// Close releases resources.
	Close() error
}

// WriteFeatureCSV reads src to the end and writes it as CSV with a header
// row. It returns the number of records written.
func WriteFeatureCSV(w io.Writer, src Source) (int, error) {
	rows, err := src.Read()
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}

	names := src.FeatureNames()
	cw := csv.NewWriter(w)
	if err := cw.Write(names); err != nil {
		return 0, err
	}

	rec := make([]string, len(names))
	for i, row := range rows {
		if len(row) != len(names) {
			return i, fmt.Errorf("record %d has %d features, want %d", i, len(row), len(names))
		}
		for j, v := range row {
			rec[j] = formatFloat(v)
		}
		if err := cw.Write(rec); err != nil {
			return i, err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(rows), err
	}
	return len(rows), nil
}
