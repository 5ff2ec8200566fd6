// Package clean removes the rows and columns that would break numeric modeling.
package clean

import (
	"math"

	"github.com/hed1ad/csvguard/pkg/errorutil"
	"github.com/hed1ad/csvguard/pkg/table"
)

// Stats reports what cleaning removed.
type Stats struct {
	OriginalRows   int      `json:"original_rows"`
	CleanedRows    int      `json:"cleaned_rows"`
	RowsRemoved    int      `json:"rows_removed"`
	InfReplaced    int      `json:"inf_replaced"`
	DroppedColumns []string `json:"dropped_columns,omitempty"`
}

// Table returns a cleaned copy of t:
//  1. ±Inf in numeric columns becomes missing,
//  2. rows with a missing numeric value are dropped,
//  3. numeric columns with fewer than two distinct surviving values are dropped.
//
// The order matters: infinities must count as missing before rows are dropped.
// It fails with InsufficientData when no row survives. Running out of numeric
// columns is left to feature selection.
func Table(t *table.Table) (*table.Table, Stats, error) {
	stats := Stats{OriginalRows: t.NumRows()}
	work := t.Clone()

	for _, c := range work.Columns {
		if c.Kind != table.KindNumeric {
			continue
		}
		for i, v := range c.Num {
			if math.IsInf(v, 0) {
				c.Num[i] = math.NaN()
				c.Null[i] = true
				stats.InfReplaced++
			}
		}
	}

	keep := make([]bool, work.NumRows())
	surviving := 0
	for i := range keep {
		keep[i] = true
		for _, c := range work.Columns {
			if c.Kind == table.KindNumeric && c.Null[i] {
				keep[i] = false
				break
			}
		}
		if keep[i] {
			surviving++
		}
	}
	stats.CleanedRows = surviving
	stats.RowsRemoved = stats.OriginalRows - surviving

	if surviving == 0 {
		return nil, stats, errorutil.New(errorutil.InsufficientData,
			"all %d rows were invalid after data cleaning", stats.OriginalRows)
	}

	out := &table.Table{}
	for i, ok := range keep {
		if ok {
			out.Lines = append(out.Lines, work.Lines[i])
		}
	}
	for _, c := range work.Columns {
		fc := c.Filter(keep)
		if fc.Kind == table.KindNumeric && !hasVariance(fc.Num) {
			stats.DroppedColumns = append(stats.DroppedColumns, fc.Name)
			continue
		}
		out.Columns = append(out.Columns, fc)
	}

	return out, stats, nil
}

func hasVariance(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return true
		}
	}
	return false
}
