// Package explain attributes anomaly scores to the features that drove them.
package explain

import (
	"math"
	"sort"

	"github.com/hed1ad/csvguard/pkg/detectors"
	"github.com/hed1ad/csvguard/pkg/errorutil"
	"github.com/hed1ad/csvguard/pkg/features"
)

// Contribution is one feature's signed share of a score.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Explanation decomposes the score of one anomalous row.
type Explanation struct {
	// Row is the index into the feature matrix.
	Row        int     `json:"row"`
	SourceLine int     `json:"source_line"`
	Score      float64 `json:"score"`
	Baseline   float64 `json:"baseline"`
	// Contributions are ordered by descending absolute contribution.
	Contributions []Contribution `json:"contributions"`
	PrimaryDriver string         `json:"primary_driver"`
}

// Sum returns Baseline plus every contribution.
func (e Explanation) Sum() float64 {
	s := e.Baseline
	for _, c := range e.Contributions {
		s += c.Contribution
	}
	return s
}

// Anomalies explains every row labeled anomalous in det. d must be the
// detector that produced det, fitted on m.
func Anomalies(d detectors.Detector, m *features.Matrix, det *detectors.Detection) ([]Explanation, error) {
	dec, ok := d.(detectors.Decomposer)
	if !ok {
		return nil, errorutil.New(errorutil.ExplanationUnsupported,
			"detector %T does not support score decomposition", d)
	}
	if d.NumFeatures() != m.Cols() {
		return nil, errorutil.New(errorutil.ModelTrainingFailed,
			"detector was fitted on %d features, matrix has %d", d.NumFeatures(), m.Cols())
	}
	if len(det.Labels) != m.Rows() {
		return nil, errorutil.New(errorutil.ModelTrainingFailed,
			"detection covers %d rows, matrix has %d", len(det.Labels), m.Rows())
	}

	var out []Explanation
	for _, i := range det.Anomalies() {
		e, err := row(dec, m, i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func row(dec detectors.Decomposer, m *features.Matrix, i int) (Explanation, error) {
	attr, err := dec.Decompose(m.Data[i])
	if err != nil {
		return Explanation{}, errorutil.Wrap(errorutil.ModelTrainingFailed, err,
			"cannot explain row %d: %v", i, err)
	}
	if len(attr.Contributions) != m.Cols() {
		return Explanation{}, errorutil.New(errorutil.ModelTrainingFailed,
			"decomposition of row %d has %d contributions, want %d", i, len(attr.Contributions), m.Cols())
	}

	contribs := make([]Contribution, m.Cols())
	for j, name := range m.Names {
		contribs[j] = Contribution{
			Feature:      name,
			Value:        m.Data[i][j],
			Contribution: attr.Contributions[j],
		}
	}
	// Stable so ties keep feature order.
	sort.SliceStable(contribs, func(a, b int) bool {
		return math.Abs(contribs[a].Contribution) > math.Abs(contribs[b].Contribution)
	})

	e := Explanation{
		Row:           i,
		Score:         attr.Score,
		Baseline:      attr.Baseline,
		Contributions: contribs,
		PrimaryDriver: contribs[0].Feature,
	}
	if i < len(m.Lines) {
		e.SourceLine = m.Lines[i]
	}
	return e, nil
}
