// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Key features:
//   - JSON and text output formats
//   - Optional fan-out to a JSON log file
//   - Run ID propagation
//   - Context-aware logging
//
// Example usage:
//
//	import "udata-harvest/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("worker started", slog.String("version", "1.0"))
//	}
//
//	func trigger(ctx context.Context) {
//	    ctx = logging.ContextWithRunID(ctx, logging.NewRunID())
//	    logger := logging.WithRunID(ctx, slog.Default())
//	    logger.Info("harvest triggered")
//	}
package logging
