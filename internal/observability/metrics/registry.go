// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Harvest metrics track job and item outcomes per backend
var (
	// HarvestJobsTotal counts finished jobs by backend and terminal status
	HarvestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_jobs_total",
			Help: "Total number of finished harvest jobs",
		},
		[]string{"backend", "status"},
	)

	// HarvestJobDuration measures the wall-clock duration of a job
	HarvestJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_job_duration_seconds",
			Help:    "Harvest job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // up to ~4.5h
		},
		[]string{"backend"},
	)

	// HarvestItemsTotal counts recorded items by backend and item status
	HarvestItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_items_total",
			Help: "Total number of harvest items recorded",
		},
		[]string{"backend", "status"},
	)

	// HarvestItemDuration measures fetch+map+upsert time of one item
	HarvestItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_item_duration_seconds",
			Help:    "Time taken to process one remote record",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)

	// HarvestRemoteIDsTotal counts identifiers returned by enumeration
	HarvestRemoteIDsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_remote_ids_total",
			Help: "Total number of remote identifiers enumerated",
		},
		[]string{"backend"},
	)

	// HarvestDatasetsArchivedTotal counts datasets archived by the sweep
	HarvestDatasetsArchivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_datasets_archived_total",
			Help: "Total number of datasets archived because they vanished upstream",
		},
		[]string{"backend"},
	)

	// SourcesScheduled tracks the number of sources registered in the scheduler
	SourcesScheduled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_sources_scheduled",
			Help: "Number of harvest sources currently scheduled",
		},
	)
)

// Backend metrics track remote catalog requests
var (
	// BackendRequestDuration measures remote catalog request duration
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_backend_request_duration_seconds",
			Help:    "Remote catalog request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "endpoint"},
	)

	// BackendRequestErrors counts failed remote catalog requests
	BackendRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_backend_request_errors_total",
			Help: "Total number of failed remote catalog requests",
		},
		[]string{"backend", "kind"}, // kind: transport, status, decode, circuit_open
	)
)

// Database metrics track database performance
var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// DBConnectionsActive tracks active database connections
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordOperationDuration records the duration of a named operation
func RecordOperationDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBStats copies connection pool gauges.
func UpdateDBStats(inUse, idle int) {
	DBConnectionsActive.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}
