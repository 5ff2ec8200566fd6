// Package report assembles pipeline results into the response returned to callers.
package report

import (
	"sort"

	"github.com/hed1ad/csvguard/pkg/clean"
	"github.com/hed1ad/csvguard/pkg/detectors"
	"github.com/hed1ad/csvguard/pkg/detectors/categorical"
	"github.com/hed1ad/csvguard/pkg/explain"
	"github.com/hed1ad/csvguard/pkg/features"
	"github.com/hed1ad/csvguard/pkg/io/csv"
	"github.com/hed1ad/csvguard/pkg/sanitize"
	"github.com/hed1ad/csvguard/pkg/table"
)

// Metadata describes how the upload was reduced to the feature matrix.
type Metadata struct {
	OriginalRows       int      `json:"original_rows"`
	CleanedRows        int      `json:"cleaned_rows"`
	RowsRemoved        int      `json:"rows_removed"`
	TotalColumns       int      `json:"total_columns"`
	NumericColumns     int      `json:"numeric_columns"`
	ColumnNames        []string `json:"column_names"`
	NumericColumnNames []string `json:"numeric_column_names"`
	FeatureNames       []string `json:"feature_names"`

	SkippedRows      int               `json:"skipped_rows"`
	Encoding         string            `json:"encoding"`
	Delimiter        string            `json:"delimiter"`
	Renamed          []sanitize.Rename `json:"renamed_columns,omitempty"`
	NeutralizedCells int               `json:"neutralized_cells"`
	InfReplaced      int               `json:"inf_replaced"`
	DroppedColumns   []string          `json:"dropped_columns,omitempty"`

	ContaminationRate     float64 `json:"contamination_rate"`
	ObservedContamination float64 `json:"observed_contamination"`
}

// Anomaly is one row labeled anomalous.
type Anomaly struct {
	Row         int                  `json:"row"`
	SourceLine  int                  `json:"source_line"`
	Values      map[string]float64   `json:"values"`
	IsAnomaly   bool                 `json:"is_anomaly"`
	Score       float64              `json:"score"`
	Explanation *explain.Explanation `json:"explanation,omitempty"`
}

// CategoricalMethod names the text-column scorer in reports.
const CategoricalMethod = "categorical_frequency"

// CategoricalAnomaly is one row whose text values are unusually rare.
type CategoricalAnomaly struct {
	Row        int                `json:"row"`
	SourceLine int                `json:"source_line"`
	Values     map[string]string  `json:"values"`
	Score      float64            `json:"score"`
	PerFeature []categorical.Loss `json:"per_feature"`
}

// Categorical is the text-column section of a report.
type Categorical struct {
	Method       string               `json:"method"`
	Columns      []string             `json:"categorical_columns"`
	Percentile   float64              `json:"percentile"`
	Threshold    float64              `json:"threshold"`
	AnomalyCount int                  `json:"anomaly_count"`
	Anomalies    []CategoricalAnomaly `json:"anomalies"`
}

// Report is the response for one upload. It is built once and not modified.
type Report struct {
	RequestID    string       `json:"request_id"`
	Filename     string       `json:"filename"`
	TotalRows    int          `json:"total_rows"`
	AnomalyCount int          `json:"anomaly_count"`
	Threshold    float64      `json:"threshold"`
	Anomalies    []Anomaly    `json:"anomalies"`
	Categorical  *Categorical `json:"categorical,omitempty"`
	Metadata     Metadata     `json:"metadata"`
}

// Input gathers the artifacts of every pipeline stage.
type Input struct {
	RequestID string
	Filename  string

	Parse    csv.Stats
	Sanitize sanitize.Stats
	Clean    clean.Stats

	// Sanitized is the table before cleaning; column counts and names are
	// reported from it, so zero-variance columns still appear there.
	Sanitized *table.Table
	// Table is the cleaned table.
	Table        *table.Table
	Matrix       *features.Matrix
	Detection    *detectors.Detection
	Explanations []explain.Explanation

	// Categorical is nil when text-column scoring was disabled or found no
	// text column. Its rows are those of Table.
	Categorical           *categorical.Result
	CategoricalPercentile float64

	// Contamination is the configured rate.
	Contamination float64
}

// Assemble merges stage outputs into a Report. Anomalies are ordered by
// descending score.
func Assemble(in Input) *Report {
	byRow := make(map[int]*explain.Explanation, len(in.Explanations))
	for i := range in.Explanations {
		e := in.Explanations[i]
		byRow[e.Row] = &e
	}

	r := &Report{
		RequestID: in.RequestID,
		Filename:  in.Filename,
		TotalRows: in.Matrix.Rows(),
		Threshold: in.Detection.Threshold,
		Anomalies: []Anomaly{},
	}

	for _, i := range in.Detection.Anomalies() {
		a := Anomaly{
			Row:         i,
			Values:      in.Matrix.Row(i),
			IsAnomaly:   true,
			Score:       in.Detection.Scores[i],
			Explanation: byRow[i],
		}
		if i < len(in.Matrix.Lines) {
			a.SourceLine = in.Matrix.Lines[i]
		}
		r.Anomalies = append(r.Anomalies, a)
	}
	sort.SliceStable(r.Anomalies, func(a, b int) bool {
		return r.Anomalies[a].Score > r.Anomalies[b].Score
	})
	r.AnomalyCount = len(r.Anomalies)

	columns := in.Sanitized
	if columns == nil {
		columns = in.Table
	}
	numeric := columns.NumericNames()

	r.Metadata = Metadata{
		OriginalRows:       in.Clean.OriginalRows,
		CleanedRows:        in.Clean.CleanedRows,
		RowsRemoved:        in.Clean.RowsRemoved,
		TotalColumns:       columns.NumCols(),
		NumericColumns:     len(numeric),
		ColumnNames:        columns.Names(),
		NumericColumnNames: numeric,
		FeatureNames:       append([]string(nil), in.Matrix.Names...),
		SkippedRows:        in.Parse.SkippedRows,
		Encoding:           in.Parse.Encoding,
		Delimiter:          in.Parse.Delimiter,
		Renamed:            in.Sanitize.Renamed,
		NeutralizedCells:   in.Sanitize.NeutralizedCells,
		InfReplaced:        in.Clean.InfReplaced,
		DroppedColumns:     in.Clean.DroppedColumns,
		ContaminationRate:  in.Contamination,
	}
	if r.TotalRows > 0 {
		r.Metadata.ObservedContamination = float64(r.AnomalyCount) / float64(r.TotalRows)
	}
	if in.Categorical != nil {
		r.Categorical = assembleCategorical(in.Categorical, in.Table, in.CategoricalPercentile)
	}
	return r
}

func assembleCategorical(res *categorical.Result, t *table.Table, percentile float64) *Categorical {
	c := &Categorical{
		Method:     CategoricalMethod,
		Columns:    append([]string(nil), res.Columns...),
		Percentile: percentile,
		Threshold:  res.Threshold,
		Anomalies:  []CategoricalAnomaly{},
	}
	for _, i := range res.Anomalies() {
		a := CategoricalAnomaly{
			Row:        i,
			Values:     make(map[string]string, len(res.Columns)),
			Score:      res.Scores[i],
			PerFeature: res.PerFeature(i),
		}
		if i < len(t.Lines) {
			a.SourceLine = t.Lines[i]
		}
		for _, name := range res.Columns {
			if col := t.Column(name); col != nil {
				a.Values[name] = col.Format(i)
			}
		}
		c.Anomalies = append(c.Anomalies, a)
	}
	sort.SliceStable(c.Anomalies, func(a, b int) bool {
		return c.Anomalies[a].Score > c.Anomalies[b].Score
	})
	c.AnomalyCount = len(c.Anomalies)
	return c
}
