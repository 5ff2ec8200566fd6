package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTable() *Table {
	return &Table{
		Columns: []*Column{
			{Name: "x", Kind: KindNumeric, Num: []float64{1, math.NaN(), 3}, Null: []bool{false, true, false}},
			{Name: "label", Kind: KindText, Text: []string{"a", "", "c"}, Null: []bool{false, true, false}},
			{Name: "ok", Kind: KindBoolean, Bool: []bool{true, false, true}, Null: []bool{false, false, false}},
		},
		Lines: []int{2, 3, 4},
	}
}

func TestTableAccessors(t *testing.T) {
	tb := sampleTable()

	assert.Equal(t, 3, tb.NumRows())
	assert.Equal(t, 3, tb.NumCols())
	assert.Equal(t, []string{"x", "label", "ok"}, tb.Names())
	assert.Equal(t, []string{"x"}, tb.NumericNames())
	assert.Equal(t, "label", tb.Column("label").Name)
	assert.Nil(t, tb.Column("missing"))
	assert.NoError(t, tb.Validate())
}

func TestFormat(t *testing.T) {
	tb := sampleTable()

	assert.Equal(t, "1", tb.Columns[0].Format(0))
	assert.Equal(t, "", tb.Columns[0].Format(1))
	assert.Equal(t, "c", tb.Columns[1].Format(2))
	assert.Equal(t, "true", tb.Columns[2].Format(0))
	assert.Equal(t, "false", tb.Columns[2].Format(1))
}

func TestCloneIsDeep(t *testing.T) {
	tb := sampleTable()
	cp := tb.Clone()
	cp.Columns[1].Text[0] = "changed"
	cp.Lines[0] = 99

	assert.Equal(t, "a", tb.Columns[1].Text[0])
	assert.Equal(t, 2, tb.Lines[0])
}

func TestFilter(t *testing.T) {
	tb := sampleTable()
	keep := []bool{true, false, true}

	got := tb.Columns[0].Filter(keep)
	assert.Equal(t, []float64{1, 3}, got.Num)
	assert.Equal(t, []bool{false, false}, got.Null)

	got = tb.Columns[1].Filter(keep)
	assert.Equal(t, []string{"a", "c"}, got.Text)
}

func TestValidateMismatch(t *testing.T) {
	tb := sampleTable()
	tb.Columns[2].Bool = tb.Columns[2].Bool[:2]

	assert.Error(t, tb.Validate())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "numeric", KindNumeric.String())
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "boolean", KindBoolean.String())
}
