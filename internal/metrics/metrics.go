// Package metrics records run metrics in a Prometheus registry. Runs are
// short lived, so the registry is written to a node-exporter textfile at
// the end of each run instead of being scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "statlake"

// Metrics holds the run metrics. A nil *Metrics records nothing.
type Metrics struct {
	RowsIngested       *prometheus.CounterVec
	PartitionsPromoted *prometheus.CounterVec
	DatasetJobs        *prometheus.CounterVec
	PromotionDuration  *prometheus.HistogramVec
	LastRun            prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RowsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_ingested_total",
			Help:      "Rows written to the raw layer by dataset",
		},
		[]string{"dataset"},
	)
	m.PartitionsPromoted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_promoted_total",
			Help:      "Partitions promoted to the cleaned layer",
		},
		[]string{"dataset", "status"}, // "success", "failed"
	)
	m.DatasetJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_jobs_total",
			Help:      "Dataset jobs finished by flow and outcome",
		},
		[]string{"flow", "status"},
	)
	m.PromotionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "promotion_duration_seconds",
			Help:      "Time spent fetching and promoting one dataset",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"dataset"},
	)
	m.LastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		},
	)

	m.registry.MustRegister(
		m.RowsIngested,
		m.PartitionsPromoted,
		m.DatasetJobs,
		m.PromotionDuration,
		m.LastRun,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DatasetJob records one finished dataset job.
func (m *Metrics) DatasetJob(flow, dataset string, ok bool, rows int64, promoted, failed int, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.DatasetJobs.WithLabelValues(flow, status).Inc()
	if rows > 0 {
		m.RowsIngested.WithLabelValues(dataset).Add(float64(rows))
	}
	if promoted > 0 {
		m.PartitionsPromoted.WithLabelValues(dataset, "success").Add(float64(promoted))
	}
	if failed > 0 {
		m.PartitionsPromoted.WithLabelValues(dataset, "failed").Add(float64(failed))
	}
	m.PromotionDuration.WithLabelValues(dataset).Observe(d.Seconds())
}

// RunFinished stamps the last run time.
func (m *Metrics) RunFinished(at time.Time) {
	if m == nil {
		return
	}
	m.LastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format to path,
// atomically, creating the parent directory.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
