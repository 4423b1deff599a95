// Package metrics exposes Prometheus collectors for lifecycle runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coldpipe/coldpipe/internal/report"
)

// Metrics contains Prometheus metrics for the lifecycle engine.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	rowsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldpipe_runs_total",
				Help: "Total lifecycle runs by table, mode, and result",
			},
			[]string{"table", "mode", "result"},
		),

		rowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldpipe_rows_total",
				Help: "Rows processed per phase across live runs",
			},
			[]string{"table", "phase"},
		),

		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coldpipe_run_duration_seconds",
				Help:    "Wall-clock duration of lifecycle runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"table", "mode"},
		),
	}
}

// Observe records a finalized run outcome.
func (m *Metrics) Observe(o *report.RunOutcome) {
	mode := "live"
	if o.DryRun {
		mode = "dry_run"
	}
	result := "success"
	if o.Error != "" {
		result = "failure"
	}

	m.runsTotal.WithLabelValues(o.Table, mode, result).Inc()
	m.runDuration.WithLabelValues(o.Table, mode).Observe(float64(o.ElapsedMS) / 1000)

	if !o.DryRun {
		m.rowsTotal.WithLabelValues(o.Table, "marked").Add(float64(o.RowsMarked))
		m.rowsTotal.WithLabelValues(o.Table, "exported").Add(float64(o.RowsExported))
		m.rowsTotal.WithLabelValues(o.Table, "deleted").Add(float64(o.RowsDeleted))
	}
}
