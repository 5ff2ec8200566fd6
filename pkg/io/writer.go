// Package io provides output writers for reports and adapters that turn
// other record sources into CSV the pipeline can ingest.
package io

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hed1ad/csvguard/pkg/report"
	"github.com/hed1ad/csvguard/pkg/sanitize"
)

// Output formats accepted by NewWriter.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Writer renders a report.
type Writer interface {
	Write(r *report.Report) error
}

// NewWriter returns the writer for format.
func NewWriter(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return NewJSONWriter(w), nil
	case FormatCSV:
		return NewCSVWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatJSON, FormatCSV)
	}
}

// JSONWriter writes the whole report as indented JSON.
type JSONWriter struct {
	w io.Writer
}

// NewJSONWriter creates a JSONWriter.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// Write implements Writer.
func (j *JSONWriter) Write(r *report.Report) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// CSVWriter writes one line per anomaly: source line, score, baseline,
// primary driver, then every feature value. Text fields go through
// sanitize.Value so the export is safe to open in a spreadsheet.
type CSVWriter struct {
	w io.Writer
}

// NewCSVWriter creates a CSVWriter.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

// Write implements Writer.
func (c *CSVWriter) Write(r *report.Report) error {
	cw := csv.NewWriter(c.w)
	names := r.Metadata.FeatureNames

	header := []string{"source_line", "score", "baseline", "primary_driver"}
	for _, n := range names {
		header = append(header, sanitize.Value(n))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, a := range r.Anomalies {
		rec := []string{
			strconv.Itoa(a.SourceLine),
			formatFloat(a.Score),
			"",
			"",
		}
		if a.Explanation != nil {
			rec[2] = formatFloat(a.Explanation.Baseline)
			rec[3] = sanitize.Value(a.Explanation.PrimaryDriver)
		}
		for _, n := range names {
			rec = append(rec, formatFloat(a.Values[n]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
