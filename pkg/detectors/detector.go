// Package detectors provides unsupervised anomaly scoring over a feature matrix.
package detectors

import (
	"fmt"
	"math"
	"sort"

	"github.com/hed1ad/csvguard/pkg/errorutil"
)

// Detector is the common interface for anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on data, one row per sample.
	Fit(data [][]float64) error

	// Predict returns anomaly scores; higher means more anomalous.
	Predict(data [][]float64) ([]float64, error)

	// Threshold returns the score above which a sample is labeled anomalous.
	Threshold() float64

	// NumFeatures returns the feature count seen by Fit.
	NumFeatures() int
}

// Decomposer is implemented by detectors whose score can be split into
// additive per-feature contributions.
type Decomposer interface {
	Decompose(sample []float64) (Attribution, error)
}

// Attribution is an additive decomposition of one sample's score:
// Baseline + sum(Contributions) equals Score up to rounding.
type Attribution struct {
	Score         float64
	Baseline      float64
	Contributions []float64
}

// Detection holds per-row scores and labels, index-aligned with the input rows.
type Detection struct {
	Scores    []float64
	Labels    []bool
	Threshold float64
}

// Anomalies returns the indexes of rows labeled anomalous.
func (d *Detection) Anomalies() []int {
	var idx []int
	for i, l := range d.Labels {
		if l {
			idx = append(idx, i)
		}
	}
	return idx
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies; it sets the label threshold.
	Contamination float64
	// Trees is the ensemble size.
	Trees int
	// SampleSize is the subsample drawn per tree.
	SampleSize int
	// RandomSeed for reproducibility.
	RandomSeed int64
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		Trees:         100,
		SampleSize:    256,
		RandomSeed:    42,
	}
}

// Detect fits d on data and scores every row of the same data. Numerically
// degenerate input fails with ModelTrainingFailed, as does a model that cannot
// tell any two rows apart.
func Detect(d Detector, data [][]float64) (*Detection, error) {
	if err := checkMatrix(data); err != nil {
		return nil, errorutil.Wrap(errorutil.ModelTrainingFailed, err, "cannot train model: %v", err)
	}
	if err := d.Fit(data); err != nil {
		return nil, errorutil.Wrap(errorutil.ModelTrainingFailed, err, "model training failed: %v", err)
	}
	scores, err := d.Predict(data)
	if err != nil {
		return nil, errorutil.Wrap(errorutil.ModelTrainingFailed, err, "model scoring failed: %v", err)
	}

	threshold := d.Threshold()
	labels := make([]bool, len(scores))
	distinct := false
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errorutil.New(errorutil.ModelTrainingFailed, "model produced a non-finite score for row %d", i)
		}
		if s != scores[0] {
			distinct = true
		}
		labels[i] = s > threshold
	}
	if !distinct {
		return nil, errorutil.New(errorutil.ModelTrainingFailed, "model gave every row the same score")
	}
	return &Detection{Scores: scores, Labels: labels, Threshold: threshold}, nil
}

func checkMatrix(data [][]float64) error {
	if len(data) < 2 {
		return fmt.Errorf("need at least 2 rows, got %d", len(data))
	}
	width := len(data[0])
	if width == 0 {
		return fmt.Errorf("rows have no features")
	}
	varying := make([]bool, width)
	for i, row := range data {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d feature %d is not finite", i, j)
			}
			if v != data[0][j] {
				varying[j] = true
			}
		}
	}
	for _, v := range varying {
		if v {
			return nil
		}
	}
	return fmt.Errorf("every feature is constant")
}

// Percentile returns the p-th percentile of data using linear interpolation
// between closest ranks.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}
