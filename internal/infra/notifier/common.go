package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"udata-harvest/internal/resilience/retry"
)

// RateLimitError represents a 429 answer from a webhook service.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

// ClientError represents a 4xx answer. It is never retried.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ServerError represents a 5xx answer.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// isRetryableError reports whether err is worth another attempt. Client
// errors are final; rate limits are handled by the caller.
func isRetryableError(err error) bool {
	var clientErr *ClientError
	var rateLimitErr *RateLimitError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.As(err, &clientErr), errors.As(err, &rateLimitErr):
		return false
	}
	return true
}

// statusError classifies a non-2xx webhook answer.
func statusError(service string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Message: service + " rate limit exceeded", RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("%s client error: %s", service, body)}
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("%s server error: %s", service, body)}
	}
	return fmt.Errorf("%s: unexpected status code %d: %s", service, resp.StatusCode, body)
}

// retryAfter reads the Retry-After header, defaulting to 5s.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Second
}

const maxRateLimitWaits = 3

// sendWithRetry runs send until it succeeds, fails for good or the attempts
// in cfg are exhausted. A rate limit answer sleeps for its Retry-After and
// does not count as an attempt, up to maxRateLimitWaits times.
func sendWithRetry(ctx context.Context, service string, cfg retry.Config, send func() error) error {
	delay := cfg.InitialDelay
	var lastErr error
	waits := 0
	for attempt := 1; attempt <= cfg.MaxAttempts; {
		err := send()
		if err == nil {
			return nil
		}
		lastErr = err

		var rl *RateLimitError
		if errors.As(err, &rl) && waits < maxRateLimitWaits {
			waits++
			slog.Warn("notification rate limited, backing off",
				slog.String("channel", service),
				slog.Duration("retry_after", rl.RetryAfter))
			if err := sleep(ctx, rl.RetryAfter); err != nil {
				return err
			}
			continue
		}
		if !isRetryableError(err) || attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("notification failed, retrying",
			slog.String("channel", service),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		attempt++
	}
	return fmt.Errorf("%s notification failed: %w", service, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
	}
}

// truncate cuts text to maxLength bytes, ending with suffix when cut.
func truncate(text string, maxLength int, suffix string) string {
	if len(text) <= maxLength {
		return text
	}
	at := maxLength - len(suffix)
	if at < 0 {
		at = 0
	}
	return text[:at] + suffix
}
