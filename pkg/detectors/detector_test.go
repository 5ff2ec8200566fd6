package detectors

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/csvguard/pkg/errorutil"
)

// sumDetector scores a row by the sum of its features.
type sumDetector struct {
	threshold float64
	width     int
	fitErr    error
	nan       bool
}

func (d *sumDetector) Fit(data [][]float64) error {
	if d.fitErr != nil {
		return d.fitErr
	}
	d.width = len(data[0])
	return nil
}

func (d *sumDetector) Predict(data [][]float64) ([]float64, error) {
	out := make([]float64, len(data))
	for i, row := range data {
		for _, v := range row {
			out[i] += v
		}
	}
	if d.nan {
		out[0] = math.NaN()
	}
	return out, nil
}

func (d *sumDetector) Threshold() float64 { return d.threshold }

func (d *sumDetector) NumFeatures() int { return d.width }

func TestDetect(t *testing.T) {
	d := &sumDetector{threshold: 5}
	det, err := Detect(d, [][]float64{{1, 1}, {3, 3}, {2, 3}, {0, 0}})
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 6, 5, 0}, det.Scores)
	assert.Equal(t, []bool{false, true, false, false}, det.Labels, "score equal to threshold is not anomalous")
	assert.Equal(t, 5.0, det.Threshold)
	assert.Equal(t, []int{1}, det.Anomalies())
}

func TestDetectFailures(t *testing.T) {
	tests := []struct {
		name string
		det  *sumDetector
		data [][]float64
	}{
		{name: "single row", det: &sumDetector{}, data: [][]float64{{1, 2}}},
		{name: "no features", det: &sumDetector{}, data: [][]float64{{}, {}}},
		{name: "ragged", det: &sumDetector{}, data: [][]float64{{1, 2}, {1}}},
		{name: "nan value", det: &sumDetector{}, data: [][]float64{{1, math.NaN()}, {2, 3}}},
		{name: "infinite value", det: &sumDetector{}, data: [][]float64{{1, 2}, {math.Inf(-1), 3}}},
		{name: "all constant", det: &sumDetector{}, data: [][]float64{{1, 2}, {1, 2}, {1, 2}}},
		{name: "fit error", det: &sumDetector{fitErr: errors.New("boom")}, data: [][]float64{{1}, {2}}},
		{name: "non-finite score", det: &sumDetector{nan: true}, data: [][]float64{{1}, {2}}},
		{name: "identical scores", det: &sumDetector{}, data: [][]float64{{1, -1}, {2, -2}, {3, -3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Detect(tt.det, tt.data)
			require.Error(t, err)
			kind, ok := errorutil.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, errorutil.ModelTrainingFailed, kind)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.1, cfg.Contamination)
	assert.Equal(t, 100, cfg.Trees)
	assert.Equal(t, 256, cfg.SampleSize)
	assert.Equal(t, int64(42), cfg.RandomSeed)
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		p    float64
		want float64
	}{
		{name: "empty", data: nil, p: 50, want: 0},
		{name: "median interpolated", data: []float64{4, 1, 3, 2}, p: 50, want: 2.5},
		{name: "minimum", data: []float64{3, 1, 2}, p: 0, want: 1},
		{name: "maximum", data: []float64{3, 1, 2}, p: 100, want: 3},
		{name: "ninetieth", data: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, p: 90, want: 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.data, tt.p), 1e-12)
		})
	}
}
