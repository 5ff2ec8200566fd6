// Package categorical scores rows by how rare their text values are.
//
// Each text column is modeled by the empirical frequency of its categories,
// missing cells forming a category of their own. A cell's loss is the
// negative log-likelihood of its category and a row's score is the sum over
// columns. Rows whose score is above the configured percentile are labeled
// anomalous.
package categorical

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hed1ad/csvguard/pkg/detectors"
	"github.com/hed1ad/csvguard/pkg/table"
)

// ErrNoColumns is returned by Detect when the table has no text columns.
var ErrNoColumns = errors.New("no categorical columns")

// minProbability caps a single cell's loss at -ln(1e-12).
const minProbability = 1e-12

// Scorer is a per-column category frequency model.
type Scorer struct {
	percentile float64

	columns   []column
	threshold float64
	trained   bool
}

type column struct {
	probs   map[string]float64
	missing float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithPercentile sets the score percentile used as the label threshold.
func WithPercentile(p float64) Option {
	return func(s *Scorer) {
		if p > 0 && p < 100 {
			s.percentile = p
		}
	}
}

// New creates a Scorer thresholding at the 95th percentile by default.
func New(opts ...Option) *Scorer {
	s := &Scorer{percentile: 95}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Percentile returns the configured threshold percentile.
func (s *Scorer) Percentile() float64 {
	return s.percentile
}

// Threshold returns the score above which a row is anomalous.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Fit learns category frequencies. cols[j] holds every row of column j and
// null[j] marks its missing cells.
func (s *Scorer) Fit(cols [][]string, null [][]bool) error {
	if len(cols) == 0 {
		return ErrNoColumns
	}
	if len(null) != len(cols) {
		return fmt.Errorf("got %d null masks for %d columns", len(null), len(cols))
	}
	n := len(cols[0])
	if n == 0 {
		return errors.New("no rows")
	}

	s.columns = make([]column, len(cols))
	for j, values := range cols {
		if len(values) != n || len(null[j]) != n {
			return fmt.Errorf("column %d has %d rows, want %d", j, len(values), n)
		}
		c := column{probs: make(map[string]float64)}
		for i, v := range values {
			if null[j][i] {
				c.missing++
				continue
			}
			c.probs[v]++
		}
		for v := range c.probs {
			c.probs[v] /= float64(n)
		}
		c.missing /= float64(n)
		s.columns[j] = c
	}
	s.trained = true

	scores := make([]float64, n)
	for i := range scores {
		for j := range cols {
			scores[i] += s.columns[j].loss(cols[j][i], null[j][i])
		}
	}
	s.threshold = detectors.Percentile(scores, s.percentile)
	return nil
}

func (c column) loss(v string, missing bool) float64 {
	p := c.missing
	if !missing {
		p = c.probs[v]
	}
	return -math.Log(math.Max(p, minProbability))
}

// Losses returns the per-column loss of one row. values and missing are
// index-aligned with the fitted columns; unseen categories get the maximum loss.
func (s *Scorer) Losses(values []string, missing []bool) ([]float64, error) {
	if !s.trained {
		return nil, errors.New("model not trained")
	}
	if len(values) != len(s.columns) || len(missing) != len(s.columns) {
		return nil, fmt.Errorf("row has %d values, model expects %d", len(values), len(s.columns))
	}
	out := make([]float64, len(s.columns))
	for j, c := range s.columns {
		out[j] = c.loss(values[j], missing[j])
	}
	return out, nil
}

// Loss is one column's share of a row score.
type Loss struct {
	Feature string  `json:"feature"`
	Loss    float64 `json:"loss"`
}

// Result holds per-row categorical scores, index-aligned with the table rows.
type Result struct {
	Columns   []string
	Scores    []float64
	Losses    [][]float64
	Labels    []bool
	Threshold float64
}

// Anomalies returns the indexes of rows labeled anomalous.
func (r *Result) Anomalies() []int {
	var idx []int
	for i, l := range r.Labels {
		if l {
			idx = append(idx, i)
		}
	}
	return idx
}

// PerFeature returns row i's losses ordered from largest to smallest.
func (r *Result) PerFeature(i int) []Loss {
	out := make([]Loss, len(r.Columns))
	for j, name := range r.Columns {
		out[j] = Loss{Feature: name, Loss: r.Losses[i][j]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Loss > out[b].Loss
	})
	return out
}

// Detect fits s on the text columns of t and scores every row of t.
// It returns ErrNoColumns when t has no text column.
func Detect(s *Scorer, t *table.Table) (*Result, error) {
	var (
		names []string
		cols  [][]string
		null  [][]bool
	)
	for _, c := range t.Columns {
		if c.Kind != table.KindText {
			continue
		}
		names = append(names, c.Name)
		cols = append(cols, c.Text)
		null = append(null, c.Null)
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	if err := s.Fit(cols, null); err != nil {
		return nil, err
	}

	n := t.NumRows()
	res := &Result{
		Columns:   names,
		Scores:    make([]float64, n),
		Losses:    make([][]float64, n),
		Labels:    make([]bool, n),
		Threshold: s.threshold,
	}
	values := make([]string, len(cols))
	missing := make([]bool, len(cols))
	for i := 0; i < n; i++ {
		for j := range cols {
			values[j], missing[j] = cols[j][i], null[j][i]
		}
		losses, err := s.Losses(values, missing)
		if err != nil {
			return nil, err
		}
		res.Losses[i] = losses
		for _, l := range losses {
			res.Scores[i] += l
		}
		res.Labels[i] = res.Scores[i] > s.threshold
	}
	return res, nil
}
