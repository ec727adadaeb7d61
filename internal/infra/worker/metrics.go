package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"udata-harvest/internal/pkg/config"
)

// WorkerMetrics are the process-level metrics of the harvest worker. Job
// and item metrics are recorded by the orchestrator itself.
//
// Embedded metrics (from ConfigMetrics):
//   - worker_config_load_timestamp
//   - worker_config_validation_errors_total{field}
//   - worker_config_fallbacks_total{field}
//   - worker_config_fallback_active
//
// Worker metrics:
//   - worker_scheduled_runs_total{status}: cron-triggered runs (done, done-errors, failed, error)
//   - worker_scheduled_run_duration_seconds
//   - worker_source_reloads_total{status}
//   - worker_retention_purged_total{kind}: jobs and sources removed by the sweep
//   - worker_retention_last_success_timestamp
//
// Metrics are registered on the default registry, so NewWorkerMetrics may
// only be called once per process.
type WorkerMetrics struct {
	*config.ConfigMetrics

	ScheduledRunsTotal          *prometheus.CounterVec
	ScheduledRunDurationSeconds prometheus.Histogram
	SourceReloadsTotal          *prometheus.CounterVec
	RetentionPurgedTotal        *prometheus.CounterVec
	RetentionLastSuccess        prometheus.Gauge
}

// NewWorkerMetrics creates and registers the worker metrics.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		ScheduledRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_scheduled_runs_total",
			Help: "Total number of cron-triggered harvest runs by outcome",
		}, []string{"status"}),

		ScheduledRunDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_scheduled_run_duration_seconds",
			Help:    "Duration of cron-triggered harvest runs in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 3 * 3600, 6 * 3600},
		}),

		SourceReloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_source_reloads_total",
			Help: "Total number of schedule reconciliations by status (success/failure)",
		}, []string{"status"}),

		RetentionPurgedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_retention_purged_total",
			Help: "Total number of records removed by the retention sweep",
		}, []string{"kind"}),

		RetentionLastSuccess: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_retention_last_success_timestamp",
			Help: "Unix timestamp of the last successful retention sweep",
		}),
	}
}

// RecordScheduledRun records one cron-triggered run. status is the final job
// status, or "error" when the run could not start.
func (m *WorkerMetrics) RecordScheduledRun(status string, seconds float64) {
	m.ScheduledRunsTotal.WithLabelValues(status).Inc()
	m.ScheduledRunDurationSeconds.Observe(seconds)
}

// RecordReload counts a schedule reconciliation.
func (m *WorkerMetrics) RecordReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SourceReloadsTotal.WithLabelValues(status).Inc()
}

// RecordPurged adds records removed by the retention sweep. kind is "jobs"
// or "sources".
func (m *WorkerMetrics) RecordPurged(kind string, count int64) {
	m.RetentionPurgedTotal.WithLabelValues(kind).Add(float64(count))
}

// RecordRetentionSuccess stamps the last successful sweep.
func (m *WorkerMetrics) RecordRetentionSuccess() {
	m.RetentionLastSuccess.SetToCurrentTime()
}
