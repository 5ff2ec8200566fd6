// Package metrics records Prometheus metrics for csvguard pipeline runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label for successful runs. Failed runs are labeled with their error kind.
const OutcomeOK = "ok"

// Manager owns the pipeline metrics. A nil *Manager is a valid no-op recorder.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	rowsParsed    prometheus.Counter
	rowsSkipped   prometheus.Counter
	rowsRemoved   prometheus.Counter
	cellsNeutral  prometheus.Counter
	anomalies     prometheus.Counter
	categorical   prometheus.Counter
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithHistogramBuckets sets the stage duration buckets, in seconds.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry sets the registry metrics are registered on.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// New creates a Manager. Without WithRegistry it uses a private registry so
// several managers can coexist in one process.
func New(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "csvguard",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome (ok or error kind)",
	}, []string{"outcome"})
	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Duration of each pipeline stage",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})
	m.rowsParsed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_parsed_total",
		Help:      "Rows that survived parsing",
	})
	m.rowsSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_skipped_total",
		Help:      "Malformed rows skipped by the parser",
	})
	m.rowsRemoved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_removed_total",
		Help:      "Rows removed by the cleaner",
	})
	m.cellsNeutral = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cells_neutralized_total",
		Help:      "Text cells prefixed to neutralize formula injection",
	})
	m.anomalies = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "anomalies_total",
		Help:      "Rows labeled anomalous",
	})
	m.categorical = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "categorical_anomalies_total",
		Help:      "Rows labeled anomalous by the text-column scorer",
	})
	return m
}

// Registry returns the registry backing m.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStage records how long a stage took.
func (m *Manager) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun counts a finished run under outcome.
func (m *Manager) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// RecordParse counts parsed and skipped rows.
func (m *Manager) RecordParse(parsed, skipped int) {
	if m == nil {
		return
	}
	m.rowsParsed.Add(float64(parsed))
	m.rowsSkipped.Add(float64(skipped))
}

// RecordSanitize counts neutralized cells.
func (m *Manager) RecordSanitize(neutralized int) {
	if m == nil {
		return
	}
	m.cellsNeutral.Add(float64(neutralized))
}

// RecordClean counts rows removed by the cleaner.
func (m *Manager) RecordClean(removed int) {
	if m == nil {
		return
	}
	m.rowsRemoved.Add(float64(removed))
}

// RecordDetection counts anomalous rows.
func (m *Manager) RecordDetection(anomalies int) {
	if m == nil {
		return
	}
	m.anomalies.Add(float64(anomalies))
}

// RecordCategorical counts rows with unusually rare text values.
func (m *Manager) RecordCategorical(anomalies int) {
	if m == nil {
		return
	}
	m.categorical.Add(float64(anomalies))
}

// WriteTextfile writes the registry in Prometheus text format, suitable for
// the node exporter textfile collector.
func (m *Manager) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
