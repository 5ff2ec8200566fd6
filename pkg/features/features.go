// Package features extracts the numeric feature matrix submitted to the scorer.
package features

import (
	"github.com/hed1ad/csvguard/pkg/errorutil"
	"github.com/hed1ad/csvguard/pkg/table"
)

// Matrix is a row-major numeric matrix with its feature names. Lines maps each
// row back to its source line in the upload.
type Matrix struct {
	Names []string
	Data  [][]float64
	Lines []int
}

// Rows returns the row count.
func (m *Matrix) Rows() int {
	return len(m.Data)
}

// Cols returns the feature count.
func (m *Matrix) Cols() int {
	return len(m.Names)
}

// Select builds a Matrix from the numeric columns of a cleaned table, in
// source order. It fails with NoNumericColumns when fewer than minNumeric
// columns qualify.
func Select(t *table.Table, minNumeric int) (*Matrix, error) {
	if minNumeric < 1 {
		minNumeric = 1
	}

	var cols []*table.Column
	for _, c := range t.Columns {
		if c.Kind == table.KindNumeric {
			cols = append(cols, c)
		}
	}
	if len(cols) < minNumeric {
		if len(cols) == 0 {
			return nil, errorutil.New(errorutil.NoNumericColumns,
				"no numeric columns with more than one distinct value, at least %d required", minNumeric)
		}
		return nil, errorutil.New(errorutil.NoNumericColumns,
			"found %d usable numeric column(s), at least %d required", len(cols), minNumeric)
	}
	if t.NumRows() == 0 {
		return nil, errorutil.New(errorutil.InsufficientData, "no rows to analyze")
	}

	m := &Matrix{
		Names: make([]string, len(cols)),
		Data:  make([][]float64, t.NumRows()),
		Lines: append([]int(nil), t.Lines...),
	}
	for j, c := range cols {
		m.Names[j] = c.Name
	}
	for i := range m.Data {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.Num[i]
		}
		m.Data[i] = row
	}
	return m, nil
}

// Row returns row i as a name → value map.
func (m *Matrix) Row(i int) map[string]float64 {
	out := make(map[string]float64, len(m.Names))
	for j, name := range m.Names {
		out[name] = m.Data[i][j]
	}
	return out
}
