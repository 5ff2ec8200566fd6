// Package pipeline runs an upload through validation, parsing, sanitization,
// cleaning, feature selection, scoring and explanation. Text columns are
// scored separately by category rarity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/csvguard/pkg/clean"
	"github.com/hed1ad/csvguard/pkg/config"
	"github.com/hed1ad/csvguard/pkg/detectors"
	"github.com/hed1ad/csvguard/pkg/detectors/categorical"
	"github.com/hed1ad/csvguard/pkg/detectors/iforest"
	"github.com/hed1ad/csvguard/pkg/errorutil"
	"github.com/hed1ad/csvguard/pkg/explain"
	"github.com/hed1ad/csvguard/pkg/features"
	"github.com/hed1ad/csvguard/pkg/io/csv"
	"github.com/hed1ad/csvguard/pkg/logger"
	"github.com/hed1ad/csvguard/pkg/metrics"
	"github.com/hed1ad/csvguard/pkg/report"
	"github.com/hed1ad/csvguard/pkg/sanitize"
	"github.com/hed1ad/csvguard/pkg/table"
	"github.com/hed1ad/csvguard/pkg/upload"
)

// Stage names, used as log fields and metric labels. The categorical stage
// does nothing when categorical_percentile is 0.
const (
	StageValidate    = "validate"
	StageParse       = "parse"
	StageSanitize    = "sanitize"
	StageClean       = "clean"
	StageSelect      = "select"
	StageScore       = "score"
	StageExplain     = "explain"
	StageCategorical = "categorical"
	StageReport      = "report"
)

// OutcomeCanceled labels runs aborted by their context.
const OutcomeCanceled = "canceled"

// DetectorFactory builds a fresh detector for one run.
type DetectorFactory func(cfg detectors.Config) detectors.Detector

// IsolationForest is the default DetectorFactory.
func IsolationForest(cfg detectors.Config) detectors.Detector {
	return iforest.New(iforest.WithConfig(cfg))
}

// Pipeline runs uploads against a fixed configuration. It holds no per-run
// state and may be shared between goroutines.
type Pipeline struct {
	cfg         config.Config
	limits      config.Limits
	log         logger.Logger
	metrics     *metrics.Manager
	newDetector DetectorFactory
	newID       func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Manager) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithDetectorFactory replaces the isolation forest.
func WithDetectorFactory(f DetectorFactory) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.newDetector = f
		}
	}
}

// WithRequestIDFunc overrides how request ids are minted.
func WithRequestIDFunc(f func() string) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.newID = f
		}
	}
}

// New validates cfg and returns a Pipeline.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg,
		limits:      cfg.Limits(),
		log:         logger.NewNop(),
		newDetector: IsolationForest,
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("pipeline")

	return p, nil
}

// DetectorConfig returns the scorer settings derived from the configuration.
func (p *Pipeline) DetectorConfig() detectors.Config {
	return detectors.Config{
		Contamination: p.cfg.ContaminationRate,
		Trees:         p.cfg.Trees,
		SampleSize:    p.cfg.SampleSize,
		RandomSeed:    p.cfg.Seed,
	}
}

// run carries the artifacts of one request between stages.
type run struct {
	id       string
	raw      upload.RawUpload
	accepted upload.Accepted

	parsed      *table.Table
	parseStats  csv.Stats
	sanitized   *table.Table
	sanitStats  sanitize.Stats
	cleaned     *table.Table
	cleanStats  clean.Stats
	matrix      *features.Matrix
	detector    detectors.Detector
	detection   *detectors.Detection
	explanation []explain.Explanation
	categorical *categorical.Result
	report      *report.Report
}

// Run processes one upload. On failure it returns exactly one error, an
// *errorutil.Error for every pipeline failure, or the context error when ctx
// ends between stages. No partial report is returned.
func (p *Pipeline) Run(ctx context.Context, raw upload.RawUpload) (*report.Report, error) {
	r := &run{id: p.newID(), raw: raw}
	ctx = logger.WithRequestID(ctx, r.id)
	start := time.Now()

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{StageValidate, p.validate},
		{StageParse, p.parse},
		{StageSanitize, p.sanitize},
		{StageClean, p.clean},
		{StageSelect, p.selectFeatures},
		{StageScore, p.score},
		{StageExplain, p.explain},
		{StageCategorical, p.scoreCategorical},
		{StageReport, p.assemble},
	}

	for _, s := range stages {
		if err := p.stage(ctx, s.name, r, s.fn); err != nil {
			p.metrics.RecordRun(outcome(ctx, err))
			p.log.Warnf(ctx, "upload rejected after %s: %v", time.Since(start), err)
			return nil, err
		}
	}

	p.metrics.RecordRun(metrics.OutcomeOK)
	p.log.Infof(ctx, "analyzed %q: %d rows, %d features, %d anomalies in %s",
		r.accepted.Name, r.report.TotalRows, len(r.matrix.Names), r.report.AnomalyCount, time.Since(start))
	return r.report, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, r *run, fn func(context.Context, *run) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("aborted before %s: %w", name, err)
	}
	ctx = logger.WithStage(ctx, name)
	start := time.Now()
	err := fn(ctx, r)
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		return err
	}
	p.log.Debugf(ctx, "done in %s", time.Since(start))
	return nil
}

func outcome(ctx context.Context, err error) string {
	if kind, ok := errorutil.KindOf(err); ok {
		return string(kind)
	}
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	return string(errorutil.ClassInternal)
}

func (p *Pipeline) validate(_ context.Context, r *run) error {
	accepted, err := upload.Validate(r.raw, p.limits)
	if err != nil {
		return err
	}
	r.accepted, r.raw = accepted, upload.RawUpload{}
	return nil
}

func (p *Pipeline) parse(ctx context.Context, r *run) error {
	t, stats, err := csv.Parse(r.accepted.Data, r.accepted.Name, p.limits)
	if err != nil {
		return err
	}
	// The raw bytes are not needed past this point.
	r.accepted.Data = nil
	r.parsed, r.parseStats = t, stats
	p.metrics.RecordParse(stats.Rows, stats.SkippedRows)
	if stats.SkippedRows > 0 {
		p.log.Warnf(ctx, "skipped %d malformed row(s) out of %d", stats.SkippedRows, stats.Rows+stats.SkippedRows)
	}
	p.log.Debugf(ctx, "parsed %d rows x %d columns (%s, delimiter %q)",
		stats.Rows, stats.Columns, stats.Encoding, stats.Delimiter)
	return nil
}

func (p *Pipeline) sanitize(ctx context.Context, r *run) error {
	r.sanitized, r.sanitStats = sanitize.Table(r.parsed)
	p.metrics.RecordSanitize(r.sanitStats.NeutralizedCells)
	if n := len(r.sanitStats.Renamed); n > 0 || r.sanitStats.NeutralizedCells > 0 {
		p.log.Debugf(ctx, "renamed %d column(s), neutralized %d cell(s)", n, r.sanitStats.NeutralizedCells)
	}
	return nil
}

func (p *Pipeline) clean(ctx context.Context, r *run) error {
	t, stats, err := clean.Table(r.sanitized)
	r.cleanStats = stats
	p.metrics.RecordClean(stats.RowsRemoved)
	if err != nil {
		return err
	}
	r.cleaned = t
	if len(stats.DroppedColumns) > 0 {
		p.log.Debugf(ctx, "dropped constant column(s) %v", stats.DroppedColumns)
	}
	return nil
}

func (p *Pipeline) selectFeatures(_ context.Context, r *run) error {
	m, err := features.Select(r.cleaned, p.limits.MinNumericColumns)
	if err != nil {
		return err
	}
	r.matrix = m
	return nil
}

func (p *Pipeline) score(_ context.Context, r *run) error {
	r.detector = p.newDetector(p.DetectorConfig())
	det, err := detectors.Detect(r.detector, r.matrix.Data)
	if err != nil {
		return err
	}
	r.detection = det
	p.metrics.RecordDetection(len(det.Anomalies()))
	return nil
}

func (p *Pipeline) explain(_ context.Context, r *run) error {
	exps, err := explain.Anomalies(r.detector, r.matrix, r.detection)
	if err != nil {
		return err
	}
	r.explanation = exps
	return nil
}

func (p *Pipeline) scoreCategorical(ctx context.Context, r *run) error {
	if p.cfg.CategoricalPercentile == 0 {
		return nil
	}
	s := categorical.New(categorical.WithPercentile(p.cfg.CategoricalPercentile))
	res, err := categorical.Detect(s, r.cleaned)
	if errors.Is(err, categorical.ErrNoColumns) {
		p.log.Debugf(ctx, "no text columns to score")
		return nil
	}
	if err != nil {
		return errorutil.Wrap(errorutil.ModelTrainingFailed, err, "categorical scoring failed: %v", err)
	}
	r.categorical = res
	p.metrics.RecordCategorical(len(res.Anomalies()))
	return nil
}

func (p *Pipeline) assemble(_ context.Context, r *run) error {
	r.report = report.Assemble(report.Input{
		RequestID:     r.id,
		Filename:      r.accepted.Name,
		Parse:         r.parseStats,
		Sanitize:      r.sanitStats,
		Clean:         r.cleanStats,
		Sanitized:     r.sanitized,
		Table:         r.cleaned,
		Matrix:        r.matrix,
		Detection:     r.detection,
		Explanations:  r.explanation,
		Contamination: p.cfg.ContaminationRate,

		Categorical:           r.categorical,
		CategoricalPercentile: p.cfg.CategoricalPercentile,
	})
	return nil
}
