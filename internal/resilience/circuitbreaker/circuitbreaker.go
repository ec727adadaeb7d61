// Package circuitbreaker guards calls to remote catalogs, the schema catalog
// and notification channels with sony/gobreaker, so that a service that is
// down makes callers fail fast instead of each waiting for a timeout.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Config describes when a breaker trips: once at least MinRequests calls
// were seen within Interval and the failure ratio reaches FailureThreshold.
// It stays open for Timeout, then lets MaxRequests probes through.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32

	// IsSuccessful classifies errors that must not count as failures, such as
	// a remote 404 for one record. Nil counts every error.
	IsSuccessful func(err error) bool
}

// BackendConfig is shared by all sources of one backend kind. A catalog
// going down mid-run trips it quickly so the remaining ids fail fast.
func BackendConfig(backend string) Config {
	return Config{
		Name:             "backend-" + backend,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          90 * time.Second,
		FailureThreshold: 0.7,
		MinRequests:      10,
	}
}

// SchemaCatalogConfig opens after three straight failures; the cached
// catalog keeps serving meanwhile.
func SchemaCatalogConfig() Config {
	return Config{
		Name:             "schema-catalog",
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          5 * time.Minute,
		FailureThreshold: 1.0,
		MinRequests:      3,
	}
}

// NotifierConfig guards one notification channel.
func NotifierConfig(channel string) Config {
	return Config{
		Name:             "notify-" + channel,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          5 * time.Minute,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// CircuitBreaker is a named gobreaker instance.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New builds a breaker that logs its state transitions.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name: cfg.Name,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:         cfg.Name,
			MaxRequests:  cfg.MaxRequests,
			Interval:     cfg.Interval,
			Timeout:      cfg.Timeout,
			IsSuccessful: cfg.IsSuccessful,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.Requests >= cfg.MinRequests &&
					float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed",
					slog.String("circuit", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// Do runs fn through the breaker. A rejected call returns an error for
// which IsOpenError is true, without calling fn.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	v, _ := res.(T)
	return v, err
}

// IsOpenError reports whether err was returned because the circuit rejected
// the call (open, or half-open with too many probes in flight).
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}
