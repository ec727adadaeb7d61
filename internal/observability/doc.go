// Package observability groups the logging, metrics and tracing
// infrastructure of the harvester.
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry tracer setup and outbound HTTP spans
//
// Example usage:
//
//	import (
//	    "udata-harvest/internal/observability/logging"
//	    "udata-harvest/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("worker started")
//
//	    metrics.UpdateSourcesScheduled(12)
//	}
package observability
