// Package table defines the typed, column-oriented table passed between pipeline stages.
package table

import "fmt"

// Kind is the closed set of column types resolved once at parse time.
type Kind int

const (
	KindNumeric Kind = iota
	KindText
	KindBoolean
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column is one named column. Only the slice matching Kind is populated;
// Null marks missing cells for every kind.
type Column struct {
	Name string
	Kind Kind
	Num  []float64
	Text []string
	Bool []bool
	Null []bool
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	return len(c.Null)
}

// Format renders row i as a string; missing cells render as "".
func (c *Column) Format(i int) string {
	if c.Null[i] {
		return ""
	}
	switch c.Kind {
	case KindNumeric:
		return fmt.Sprintf("%g", c.Num[i])
	case KindBoolean:
		if c.Bool[i] {
			return "true"
		}
		return "false"
	default:
		return c.Text[i]
	}
}

// Clone returns a deep copy.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Null: append([]bool(nil), c.Null...)}
	switch c.Kind {
	case KindNumeric:
		out.Num = append([]float64(nil), c.Num...)
	case KindBoolean:
		out.Bool = append([]bool(nil), c.Bool...)
	default:
		out.Text = append([]string(nil), c.Text...)
	}
	return out
}

// Filter returns a copy holding only the rows where keep[i] is true.
func (c *Column) Filter(keep []bool) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	for i, k := range keep {
		if !k {
			continue
		}
		out.Null = append(out.Null, c.Null[i])
		switch c.Kind {
		case KindNumeric:
			out.Num = append(out.Num, c.Num[i])
		case KindBoolean:
			out.Bool = append(out.Bool, c.Bool[i])
		default:
			out.Text = append(out.Text, c.Text[i])
		}
	}
	return out
}

// Table is an ordered set of equally long columns. Lines holds the 1-based
// source line of every row so results can be traced back to the upload.
type Table struct {
	Columns []*Column
	Lines   []int
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return len(t.Lines)
}

// NumCols returns the column count.
func (t *Table) NumCols() int {
	return len(t.Columns)
}

// Names returns column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// NumericNames returns the names of numeric columns in order.
func (t *Table) NumericNames() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Kind == KindNumeric {
			names = append(names, c.Name)
		}
	}
	return names
}

// Column returns the column called name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: make([]*Column, len(t.Columns)),
		Lines:   append([]int(nil), t.Lines...),
	}
	for i, c := range t.Columns {
		out.Columns[i] = c.Clone()
	}
	return out
}

// Validate checks that every column has one entry per row.
func (t *Table) Validate() error {
	n := len(t.Lines)
	for _, c := range t.Columns {
		if c.Len() != n {
			return fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), n)
		}
		var values int
		switch c.Kind {
		case KindNumeric:
			values = len(c.Num)
		case KindBoolean:
			values = len(c.Bool)
		default:
			values = len(c.Text)
		}
		if values != n {
			return fmt.Errorf("column %q has %d values, want %d", c.Name, values, n)
		}
	}
	return nil
}
