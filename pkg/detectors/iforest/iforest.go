// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/hed1ad/csvguard/pkg/detectors"
)

// eulerGamma is the Euler-Mascheroni constant used by the harmonic number approximation.
const eulerGamma = 0.5772156649015329

// IsolationForest implements unsupervised anomaly detection using isolation trees.
// An instance is meant to be fitted and used by a single request; it is not
// safe for concurrent use.
type IsolationForest struct {
	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	threshold     float64
	seed          int64

	// Trained model
	trees     []*iTree
	trained   bool
	nFeatures int
	maxDepth  int

	// c(ψ) for the effective subsample size, used to normalize path lengths
	avgPathLength float64
}

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// size is the number of training samples that reached this node.
	size int
	// expected is the mean remaining path length of those samples from here.
	expected float64
}

func (n *node) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithConfig applies a detectors.Config.
func WithConfig(cfg detectors.Config) Option {
	return func(f *IsolationForest) {
		if cfg.Trees > 0 {
			f.nTrees = cfg.Trees
		}
		if cfg.SampleSize > 0 {
			f.sampleSize = cfg.SampleSize
		}
		f.contamination = cfg.Contamination
		f.seed = cfg.RandomSeed
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.1,
		threshold:     0.5,
		seed:          42,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the Isolation Forest on the provided data. The random source is
// re-seeded on every call, so fitting the same data twice builds the same forest.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.New("empty training data")
	}
	if f.nTrees < 1 {
		return fmt.Errorf("invalid tree count %d", f.nTrees)
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	if nFeatures == 0 {
		return errors.New("training data has no features")
	}
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples || sampleSize < 1 {
		sampleSize = nSamples
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))

	rng := rand.New(rand.NewSource(f.seed))

	// Build trees
	f.trees = make([]*iTree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		f.trees[i] = &iTree{root: f.buildNode(rng, sample, nFeatures, 0)}
	}

	f.nFeatures = nFeatures
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	// Set threshold based on contamination
	if f.contamination > 0 {
		scores, err := f.predict(data)
		if err != nil {
			return err
		}
		f.threshold = detectors.Percentile(scores, 100*(1-f.contamination))
	}

	return nil
}

func (f *IsolationForest) buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= f.maxDepth || n <= 1 {
		return leaf(n)
	}

	// Random feature and split value
	feature := rng.Intn(nFeatures)

	// Find min/max for this feature
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return leaf(n)
	}

	// Random split value. Interpolating between the bounds stays finite even
	// when maxVal-minVal overflows.
	r := rng.Float64()
	splitValue := minVal*(1-r) + maxVal*r

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	left := f.buildNode(rng, leftData, nFeatures, depth+1)
	right := f.buildNode(rng, rightData, nFeatures, depth+1)

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         left,
		right:        right,
		size:         n,
		expected:     1 + (float64(left.size)*left.expected+float64(right.size)*right.expected)/float64(n),
	}
}

func leaf(size int) *node {
	return &node{size: size, expected: averagePathLength(float64(size))}
}

// Predict returns anomaly scores in (0, 1] for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	if !f.trained {
		return nil, errors.New("model not trained")
	}

	return f.predict(data)
}

func (f *IsolationForest) predict(data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))

	for i, sample := range data {
		score, err := f.predictOne(sample)
		if err != nil {
			return nil, err
		}
		scores[i] = score
	}

	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	if !f.trained {
		return 0, errors.New("model not trained")
	}

	return f.predictOne(sample)
}

func (f *IsolationForest) predictOne(sample []float64) (float64, error) {
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("sample has %d features, model expects %d", len(sample), f.nFeatures)
	}

	// Average path length across all trees
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// Anomaly score: 2^(-avgPath / c(n))
	// Higher score = more anomalous
	return f.scoreFromPath(avgPath), nil
}

func (f *IsolationForest) scoreFromPath(avgPath float64) float64 {
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.isLeaf() {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.size))
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

// Decompose splits the score of sample into a baseline plus one contribution
// per feature.
//
// Each node stores the expected remaining path length of the training samples
// that reached it. Walking the sample's path, every edge changes that
// expectation by 1 + expected(child) - expected(parent), which is credited to
// the parent's split feature. The credits telescope, so the mean path length
// equals the mean root expectation plus the summed credits. The path-length
// credits are mapped to score space with the secant slope between baseline and
// score, which keeps Baseline + sum(Contributions) == Score.
func (f *IsolationForest) Decompose(sample []float64) (detectors.Attribution, error) {
	if !f.trained {
		return detectors.Attribution{}, errors.New("model not trained")
	}
	if len(sample) != f.nFeatures {
		return detectors.Attribution{}, fmt.Errorf("sample has %d features, model expects %d", len(sample), f.nFeatures)
	}

	credits := make([]float64, f.nFeatures)
	var rootExpected float64
	for _, tree := range f.trees {
		n := tree.root
		rootExpected += n.expected
		for !n.isLeaf() {
			child := n.right
			if sample[n.splitFeature] < n.splitValue {
				child = n.left
			}
			credits[n.splitFeature] += 1 + child.expected - n.expected
			n = child
		}
	}

	nt := float64(len(f.trees))
	rootExpected /= nt
	var delta float64
	for j := range credits {
		credits[j] /= nt
		delta += credits[j]
	}

	score, err := f.predictOne(sample)
	if err != nil {
		return detectors.Attribution{}, err
	}
	baseline := f.scoreFromPath(rootExpected)

	// d score / d path at the baseline, used when the path barely moved.
	slope := -baseline * math.Ln2 / f.avgPathLength
	if math.Abs(delta) > 1e-12 {
		slope = (score - baseline) / delta
	}

	contributions := make([]float64, f.nFeatures)
	for j, c := range credits {
		contributions[j] = c * slope
	}

	return detectors.Attribution{
		Score:         score,
		Baseline:      baseline,
		Contributions: contributions,
	}, nil
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n <= 2 {
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// Approximation: H(n) ≈ ln(n) + γ
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	return f.threshold
}

// SetThreshold updates the anomaly threshold.
func (f *IsolationForest) SetThreshold(t float64) {
	f.threshold = t
}

// NumFeatures returns the number of features seen by Fit.
func (f *IsolationForest) NumFeatures() int {
	return f.nFeatures
}

var (
	_ detectors.Detector   = (*IsolationForest)(nil)
	_ detectors.Decomposer = (*IsolationForest)(nil)
)
