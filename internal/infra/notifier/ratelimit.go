package notifier

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket guarding one outbound channel.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows requestsPerSecond sustained with burst extra.
//
// Example:
//
//	limiter := NewRateLimiter(1.0, 1) // Slack webhooks: 1 message per second
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Allow blocks until a token is available or ctx is done.
func (r *RateLimiter) Allow(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
