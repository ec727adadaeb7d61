package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"udata-harvest/internal/pkg/config"
)

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration.
// The pool is sized for one worker running a few harvest jobs with a bounded
// item pool each.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// LoadConnectionConfig reads DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS,
// DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME, falling back to defaults.
func LoadConnectionConfig(logger *slog.Logger) ConnectionConfig {
	cfg := DefaultConnectionConfig()
	l := config.NewLoader(logger, nil)
	cfg.MaxOpenConns = l.Int("max_open_conns", "DB_MAX_OPEN_CONNS", cfg.MaxOpenConns, 1, 1000)
	cfg.MaxIdleConns = l.Int("max_idle_conns", "DB_MAX_IDLE_CONNS", cfg.MaxIdleConns, 1, 1000)
	cfg.ConnMaxLifetime = l.Duration("conn_max_lifetime", "DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime, time.Second, 24*time.Hour)
	cfg.ConnMaxIdleTime = l.Duration("conn_max_idle_time", "DB_CONN_MAX_IDLE_TIME", cfg.ConnMaxIdleTime, time.Second, 24*time.Hour)
	l.Finish()
	return cfg
}

// Open creates and verifies a connection pool for DATABASE_URL.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cfg := LoadConnectionConfig(logger)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("database connection pool configured",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established successfully")
	return db, nil
}
