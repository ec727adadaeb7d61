// Package retry re-runs idempotent calls to auxiliary services (schema
// catalog, object storage, notification channels) with exponential backoff.
// Remote catalog records are fetched once per run and never go through it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	"udata-harvest/internal/observability/logging"
)

// Config is a backoff policy. Delays grow by Multiplier from InitialDelay
// up to MaxDelay, each stretched by up to JitterFraction.
type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// SchemaCatalogConfig is short: a stale cached catalog is served on failure.
func SchemaCatalogConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2, JitterFraction: 0.1}
}

// NotifyConfig applies to Slack, AMQP and SMTP deliveries.
func NotifyConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, JitterFraction: 0.1}
}

// BlobStoreConfig applies to graph uploads, which happen inside a run.
func BlobStoreConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, JitterFraction: 0.1}
}

// HTTPError carries the status of a failed HTTP (or S3) call so that
// IsRetryable can tell server trouble from a bad request.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, or
// cfg.MaxAttempts calls have been made. The context bounds the waits.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := logging.FromContext(ctx)
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", slog.Int("attempt", attempt))
			}
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := jitter(delay, cfg.JitterFraction)
		logger.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", wait),
			slog.String("error", logging.SanitizeError(err)))

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay = next(delay, cfg)
	}
	return zero, fmt.Errorf("max retry attempts (%d) exceeded: %w", attempts, lastErr)
}

// WithBackoff is Do for calls without a result.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Do(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// IsRetryable reports whether err looks transient: timeouts, refused or
// reset connections, truncated bodies, 5xx, 408 and 429 answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var p permanent
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500 && httpErr.StatusCode < 600:
			return true
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode == http.StatusRequestTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func next(delay time.Duration, cfg Config) time.Duration {
	m := cfg.Multiplier
	if m < 1 {
		m = 1
	}
	delay = time.Duration(float64(delay) * m)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// jitter stretches d by a random share of at most fraction (capped at 1).
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	if fraction > 1 {
		fraction = 1
	}
	// #nosec G404 -- backoff jitter needs no cryptographic randomness
	return d + time.Duration(rand.Float64()*float64(d)*fraction)
}
