package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"udata-harvest/internal/observability/metrics"
)

// dbStatsInterval is how often connection pool gauges are refreshed.
const dbStatsInterval = 15 * time.Second

// startMetricsServer serves GET /metrics on port until ctx is cancelled and
// keeps the database pool gauges current.
func startMetricsServer(ctx context.Context, logger *slog.Logger, port int, database *sql.DB) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("metrics server shutdown error", slog.Any("error", err))
				}
				return
			case <-ticker.C:
				stats := database.Stats()
				metrics.UpdateDBStats(stats.InUse, stats.Idle)
			}
		}
	}()

	return server
}
