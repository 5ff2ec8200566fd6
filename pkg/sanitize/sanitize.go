// Package sanitize neutralizes formula-injection payloads and canonicalizes
// column names.
//
// Spreadsheet tools evaluate a cell that starts with '=', '+', '-' or '@'
// (and, in some tools, tab or carriage return). Text cells with such a
// prefix get a leading quote. Column names are reduced to ASCII letters,
// digits and underscores, which removes every trigger character; a name that
// began with one therefore begins with NameMarker.
package sanitize

import (
	"strconv"
	"strings"

	"github.com/hed1ad/csvguard/pkg/table"
)

const (
	// CellMarker is prepended to text cells that start with a trigger character.
	CellMarker = "'"
	// NameMarker replaces any disallowed character in a column name.
	NameMarker = "_"
	// MaxNameLength caps canonical column names.
	MaxNameLength = 100
)

// Rename records a column whose header text changed.
type Rename struct {
	Column int    `json:"column"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Stats summarizes what sanitization changed.
type Stats struct {
	Renamed []Rename `json:"renamed,omitempty"`
	// NeutralizedCells counts text cells that received CellMarker.
	NeutralizedCells int `json:"neutralized_cells"`
}

// Table returns a sanitized copy of t. It never fails and is idempotent.
func Table(t *table.Table) (*table.Table, Stats) {
	out := t.Clone()
	stats := Stats{}

	names := Names(t.Names())
	for i, c := range out.Columns {
		if names[i] != c.Name {
			stats.Renamed = append(stats.Renamed, Rename{Column: i, From: c.Name, To: names[i]})
		}
		c.Name = names[i]

		if c.Kind != table.KindText {
			continue
		}
		for j, v := range c.Text {
			if c.Null[j] {
				continue
			}
			if s := Value(v); s != v {
				c.Text[j] = s
				stats.NeutralizedCells++
			}
		}
	}
	return out, stats
}

// IsTrigger reports whether s starts with a formula trigger character.
func IsTrigger(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return true
	}
	return false
}

// Value neutralizes a single text cell.
func Value(s string) string {
	if IsTrigger(s) {
		return CellMarker + s
	}
	return s
}

// Name canonicalizes one column name without deduplication. index is the
// column position, used to generate a placeholder when nothing usable remains.
func Name(raw string, index int) string {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	lastMarker := false
	for _, r := range raw {
		if isIdentRune(r) && r != '_' {
			b.WriteRune(r)
			lastMarker = false
			continue
		}
		if !lastMarker {
			b.WriteString(NameMarker)
			lastMarker = true
		}
	}
	name := b.String()

	if strings.Trim(name, NameMarker) == "" {
		return "column_" + strconv.Itoa(index)
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = NameMarker + name
	}
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return name
}

// Names canonicalizes and deduplicates a header. The first occurrence keeps
// its name; later duplicates get _2, _3, ... using the first suffix not
// already taken, truncating the base so the result fits MaxNameLength.
func Names(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]struct{}, len(raw))
	for i, r := range raw {
		name := Name(r, i)
		if _, taken := used[name]; taken {
			for k := 2; ; k++ {
				suffix := NameMarker + strconv.Itoa(k)
				base := name
				if len(base)+len(suffix) > MaxNameLength {
					base = base[:MaxNameLength-len(suffix)]
				}
				// "a_" + "_2" would collapse to "a_2" when sanitized again.
				candidate := strings.TrimRight(base, NameMarker) + suffix
				if _, taken := used[candidate]; !taken {
					name = candidate
					break
				}
			}
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}

func isIdentRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_'
}
