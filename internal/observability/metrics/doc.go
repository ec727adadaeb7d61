// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes the harvest metrics:
//   - job outcomes and durations per backend
//   - item outcomes per backend
//   - remote catalog request latency and failures
//   - database pool gauges
//
// All metrics are registered with the Prometheus default registry and
// exposed by the worker on its /metrics endpoint.
//
// Example usage:
//
//	import "udata-harvest/internal/observability/metrics"
//
//	metrics.RecordRemoteIDs("ckan", len(ids))
//	metrics.RecordJobFinished("ckan", string(job.Status), job.Duration())
package metrics
