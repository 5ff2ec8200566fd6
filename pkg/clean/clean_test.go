package clean

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/csvguard/pkg/errorutil"
	"github.com/hed1ad/csvguard/pkg/table"
)

func numeric(name string, values ...float64) *table.Column {
	c := &table.Column{Name: name, Kind: table.KindNumeric, Num: values, Null: make([]bool, len(values))}
	for i, v := range values {
		c.Null[i] = math.IsNaN(v)
	}
	return c
}

func text(name string, values ...string) *table.Column {
	return &table.Column{Name: name, Kind: table.KindText, Text: values, Null: make([]bool, len(values))}
}

func lines(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 2
	}
	return out
}

func TestTableNoDefects(t *testing.T) {
	tb := &table.Table{
		Columns: []*table.Column{
			numeric("a", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
			numeric("b", 10, 9, 8, 7, 6, 5, 4, 3, 2, 1),
			numeric("c", 1, 1, 2, 2, 3, 3, 4, 4, 5, 5),
		},
		Lines: lines(10),
	}

	out, stats, err := Table(tb)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.OriginalRows)
	assert.Equal(t, 10, stats.CleanedRows)
	assert.Equal(t, 0, stats.RowsRemoved)
	assert.Empty(t, stats.DroppedColumns)
	assert.Equal(t, []string{"a", "b", "c"}, out.Names())
}

func TestTableMissingRows(t *testing.T) {
	nan := math.NaN()
	tb := &table.Table{
		Columns: []*table.Column{
			numeric("a", 1, 2, nan, 4, 5, 6, 7, 8, 9, 10),
			numeric("b", 1, 2, 3, 4, 5, 6, nan, 8, 9, 10),
			text("note", "", "x", "y", "", "z", "", "", "", "", ""),
		},
		Lines: lines(10),
	}
	tb.Columns[2].Null[0] = true

	out, stats, err := Table(tb)
	require.NoError(t, err)

	assert.Equal(t, 8, stats.CleanedRows)
	assert.Equal(t, 2, stats.RowsRemoved)
	assert.Equal(t, stats.OriginalRows-stats.CleanedRows, stats.RowsRemoved)
	assert.Equal(t, []int{2, 3, 5, 6, 7, 9, 10, 11}, out.Lines)
	assert.Equal(t, 8, out.NumRows())
	require.NoError(t, out.Validate())
	assert.True(t, out.Column("note").Null[0], "missing text does not drop a row")
}

func TestTableInfinities(t *testing.T) {
	tb := &table.Table{
		Columns: []*table.Column{
			numeric("a", 1, math.Inf(1), 3, math.Inf(-1), 5),
			numeric("b", 5, 4, 3, 2, 1),
		},
		Lines: lines(5),
	}

	out, stats, err := Table(tb)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.InfReplaced)
	assert.Equal(t, 2, stats.RowsRemoved)
	assert.Equal(t, []float64{1, 3, 5}, out.Column("a").Num)
	for _, c := range out.Columns {
		for _, v := range c.Num {
			assert.False(t, math.IsInf(v, 0))
		}
	}
	assert.True(t, math.IsInf(tb.Columns[0].Num[1], 1), "input is not mutated")
}

func TestTableZeroVariance(t *testing.T) {
	tests := []struct {
		name        string
		columns     []*table.Column
		wantNames   []string
		wantDropped []string
	}{
		{
			name:        "constant column dropped",
			columns:     []*table.Column{numeric("five", 5, 5, 5, 5, 5), numeric("x", 1, 2, 3, 4, 5)},
			wantNames:   []string{"x"},
			wantDropped: []string{"five"},
		},
		{
			name:        "only numeric column dropped leaves no features",
			columns:     []*table.Column{numeric("five", 5, 5, 5, 5, 5), text("t", "a", "b", "c", "d", "e")},
			wantNames:   []string{"t"},
			wantDropped: []string{"five"},
		},
		{
			name:        "constant after row removal",
			columns:     []*table.Column{numeric("k", 1, 1, 9, 1, 1), numeric("m", 1, 2, math.NaN(), 4, 5)},
			wantNames:   []string{"m"},
			wantDropped: []string{"k"},
		},
		{
			name:        "text columns are never variance checked",
			columns:     []*table.Column{text("same", "a", "a", "a", "a", "a"), numeric("x", 1, 2, 3, 4, 5)},
			wantNames:   []string{"same", "x"},
			wantDropped: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, stats, err := Table(&table.Table{Columns: tt.columns, Lines: lines(5)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantNames, out.Names())
			assert.Equal(t, tt.wantDropped, stats.DroppedColumns)

			for _, c := range out.Columns {
				if c.Kind != table.KindNumeric {
					continue
				}
				distinct := map[float64]struct{}{}
				for _, v := range c.Num {
					distinct[v] = struct{}{}
				}
				assert.GreaterOrEqual(t, len(distinct), 2)
			}
		})
	}
}

func TestTableInsufficientData(t *testing.T) {
	nan := math.NaN()
	tb := &table.Table{
		Columns: []*table.Column{
			numeric("a", nan, 1),
			numeric("b", 2, math.Inf(1)),
		},
		Lines: lines(2),
	}

	_, stats, err := Table(tb)
	require.Error(t, err)
	kind, _ := errorutil.KindOf(err)
	assert.Equal(t, errorutil.InsufficientData, kind)
	assert.Equal(t, 0, stats.CleanedRows)
	assert.Equal(t, 2, stats.RowsRemoved)
}
