// Package tracing provides OpenTelemetry tracing integration.
//
// Harvest runs, enumerations and item processing open spans through
// GetTracer. Outbound calls to remote catalogs go through Transport, which
// adds client spans and propagates the W3C trace context.
//
// Example usage:
//
//	import "udata-harvest/internal/observability/tracing"
//
//	func main() {
//	    shutdown := tracing.Init()
//	    defer func() { _ = shutdown(context.Background()) }()
//	}
package tracing
