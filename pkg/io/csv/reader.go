// Package csv parses uploaded CSV bytes into a typed table.
package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/hed1ad/csvguard/pkg/config"
	"github.com/hed1ad/csvguard/pkg/errorutil"
	"github.com/hed1ad/csvguard/pkg/table"
)

// Encodings reported in Stats.
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// naTokens are the cell values read as missing.
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// Stats describes what the parser did to get the table.
type Stats struct {
	Encoding    string `json:"encoding"`
	Delimiter   string `json:"delimiter"`
	Rows        int    `json:"rows"`
	Columns     int    `json:"columns"`
	SkippedRows int    `json:"skipped_rows"`
}

// Parse decodes data and reads it as CSV with a header row. name is the
// canonical upload name, used only to pick the delimiter.
//
// Rows with the wrong field count or broken quoting are skipped and counted,
// one per physical line consumed. A quoted field left open at the end of the
// input rejects the upload, since every row after it would be swallowed.
// Row and column limits are enforced while reading; exceeding them rejects
// the whole upload.
func Parse(data []byte, name string, limits config.Limits) (*table.Table, Stats, error) {
	text, encoding, err := decode(data)
	if err != nil {
		return nil, Stats{}, errorutil.Wrap(errorutil.MalformedInput, err, "could not decode file")
	}

	stats := Stats{Encoding: encoding}
	delim := sniffDelimiter(name, text)
	stats.Delimiter = string(delim)

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, errorutil.New(errorutil.MalformedInput, "file has no header row")
	}
	if err != nil {
		return nil, stats, errorutil.Wrap(errorutil.MalformedInput, err, "could not read header row")
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return nil, stats, errorutil.New(errorutil.MalformedInput, "header row is empty")
	}
	if limits.MaxColumns > 0 && len(header) > limits.MaxColumns {
		return nil, stats, errorutil.New(errorutil.TooManyColumns,
			"too many columns: %d, maximum: %d", len(header), limits.MaxColumns)
	}
	stats.Columns = len(header)

	var (
		records [][]string
		lines   []int
	)
	for {
		start := r.InputOffset()
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				if unterminatedQuote(pe, text, start, r.InputOffset()) {
					return nil, stats, errorutil.New(errorutil.MalformedInput,
						"unterminated quoted field starting on line %d", pe.StartLine)
				}
				stats.SkippedRows += pe.Line - pe.StartLine + 1
				continue
			}
			return nil, stats, errorutil.Wrap(errorutil.MalformedInput, err, "could not read file")
		}
		if len(record) != len(header) {
			stats.SkippedRows++
			continue
		}
		if limits.MaxRows > 0 && len(records) >= limits.MaxRows {
			return nil, stats, errorutil.New(errorutil.TooManyRows,
				"too many rows, maximum: %d", limits.MaxRows)
		}
		line, _ := r.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}

	if len(records) == 0 {
		if stats.SkippedRows > 0 {
			return nil, stats, errorutil.New(errorutil.MalformedInput,
				"no valid data rows, %d malformed rows skipped", stats.SkippedRows)
		}
		return nil, stats, errorutil.New(errorutil.MalformedInput, "file contains no data rows")
	}
	stats.Rows = len(records)

	t := &table.Table{Columns: make([]*table.Column, len(header)), Lines: lines}
	for j, name := range header {
		t.Columns[j] = buildColumn(name, records, j)
	}
	return t, stats, nil
}

// unterminatedQuote reports whether pe was raised because a quoted field ran
// to the end of the input. The reader has then consumed everything and the
// record holds an odd number of quote characters.
func unterminatedQuote(pe *csv.ParseError, text string, start, end int64) bool {
	if !errors.Is(pe.Err, csv.ErrQuote) || end < int64(len(text)) {
		return false
	}
	return strings.Count(text[start:], `"`)%2 == 1
}

// decode returns data as UTF-8 text. Invalid UTF-8 is reinterpreted as
// ISO-8859-1, which accepts every byte sequence.
func decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", err
	}
	return string(out), EncodingLatin1, nil
}

// sniffDelimiter picks tab for .tsv files, otherwise the most frequent of
// ',', ';' and tab on the header line.
func sniffDelimiter(name, text string) rune {
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		return '\t'
	}
	first := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		first = text[:i]
	}
	best, bestCount := ',', strings.Count(first, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func buildColumn(name string, records [][]string, j int) *table.Column {
	n := len(records)
	cells := make([]string, n)
	null := make([]bool, n)
	for i, rec := range records {
		cells[i] = rec[j]
		null[i] = isNA(rec[j])
	}

	col := &table.Column{Name: name, Null: null}
	switch inferKind(cells, null) {
	case table.KindNumeric:
		col.Kind = table.KindNumeric
		col.Num = make([]float64, n)
		for i, s := range cells {
			if null[i] {
				col.Num[i] = math.NaN()
				continue
			}
			v, _ := parseFloat(s)
			if math.IsNaN(v) {
				null[i] = true
			}
			col.Num[i] = v
		}
	case table.KindBoolean:
		col.Kind = table.KindBoolean
		col.Bool = make([]bool, n)
		for i, s := range cells {
			if !null[i] {
				col.Bool[i], _ = parseBool(s)
			}
		}
	default:
		col.Kind = table.KindText
		col.Text = make([]string, n)
		for i, s := range cells {
			if !null[i] {
				col.Text[i] = s
			}
		}
	}
	return col
}

// inferKind returns numeric when every non-missing cell is a number (or the
// column is entirely missing), boolean when every one is true/false, else text.
func inferKind(cells []string, null []bool) table.Kind {
	numeric, boolean := true, true
	for i, s := range cells {
		if null[i] {
			continue
		}
		if numeric {
			if _, ok := parseFloat(s); !ok {
				numeric = false
			}
		}
		if boolean {
			if _, ok := parseBool(s); !ok {
				boolean = false
			}
		}
		if !numeric && !boolean {
			return table.KindText
		}
	}
	if numeric {
		return table.KindNumeric
	}
	return table.KindBoolean
}

func isNA(s string) bool {
	_, ok := naTokens[strings.TrimSpace(s)]
	return ok
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") || strings.Contains(s, "_") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Out-of-range literals such as 1e400 saturate to ±Inf.
		if errors.Is(err, strconv.ErrRange) {
			return v, true
		}
		return 0, false
	}
	return v, true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
