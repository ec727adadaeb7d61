package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, JitterFraction: 0.1}
}

/*────────────────────  Do / WithBackoff  ────────────────────*/

func TestDo_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast(3), func() ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, &HTTPError{StatusCode: 503, Message: "Service Unavailable"}
		}
		return []byte("catalog"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("catalog"), got)
	assert.Equal(t, 3, calls)
}

func TestWithBackoff_MaxAttemptsExceeded(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fast(3), func() error {
		calls++
		return syscall.ECONNRESET
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
}

func TestWithBackoff_StopsOnFinalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client error", &HTTPError{StatusCode: 404, Message: "Not Found"}},
		{"permanent", Permanent(syscall.ECONNREFUSED)},
		{"unknown", errors.New("invalid json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithBackoff(context.Background(), fast(5), func() error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestWithBackoff_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := WithBackoff(ctx, cfg, func() error {
		calls++
		cancel()
		return &HTTPError{StatusCode: 502, Message: "Bad Gateway"}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithBackoff_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = WithBackoff(context.Background(), Config{}, func() error {
		calls++
		return syscall.ETIMEDOUT
	})
	assert.Equal(t, 1, calls)
}

/*────────────────────  IsRetryable  ────────────────────*/

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), false},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"502 wrapped", fmt.Errorf("schema catalog: %w", &HTTPError{StatusCode: 502}), true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"408", &HTTPError{StatusCode: 408}, true},
		{"400", &HTTPError{StatusCode: 400}, false},
		{"403", &HTTPError{StatusCode: 403}, false},
		{"refused", syscall.ECONNREFUSED, true},
		{"reset", syscall.ECONNRESET, true},
		{"timed out", syscall.ETIMEDOUT, true},
		{"unreachable", syscall.ENETUNREACH, true},
		{"truncated body", io.ErrUnexpectedEOF, true},
		{"permanent network error", Permanent(syscall.ECONNRESET), false},
		{"generic", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	err := Permanent(io.EOF)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "EOF", err.Error())
}

/*────────────────────  policies  ────────────────────*/

func TestPolicies(t *testing.T) {
	for name, cfg := range map[string]Config{
		"schema catalog": SchemaCatalogConfig(),
		"notify":         NotifyConfig(),
		"blob store":     BlobStoreConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 3, cfg.MaxAttempts)
			assert.Positive(t, cfg.InitialDelay)
			assert.GreaterOrEqual(t, cfg.MaxDelay, cfg.InitialDelay)
		})
	}
	assert.Less(t, BlobStoreConfig().MaxDelay, NotifyConfig().MaxDelay)
}

func TestNextAndJitter(t *testing.T) {
	cfg := Config{Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, next(100*time.Millisecond, cfg))
	assert.Equal(t, 300*time.Millisecond, next(200*time.Millisecond, cfg))
	assert.Equal(t, 100*time.Millisecond, next(100*time.Millisecond, Config{Multiplier: 0.5}))

	d := 100 * time.Millisecond
	assert.Equal(t, d, jitter(d, 0))
	for i := 0; i < 50; i++ {
		j := jitter(d, 0.2)
		assert.GreaterOrEqual(t, j, d)
		assert.LessOrEqual(t, j, 120*time.Millisecond)
	}
	assert.LessOrEqual(t, jitter(d, 5), 200*time.Millisecond)
}
