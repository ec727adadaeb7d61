package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("burst passes immediately", func(t *testing.T) {
		limiter := NewRateLimiter(2.0, 5)
		start := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, limiter.Allow(context.Background()))
		}
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("exceeding the rate waits past a short deadline", func(t *testing.T) {
		limiter := NewRateLimiter(1.0, 1)
		require.NoError(t, limiter.Allow(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.Error(t, limiter.Allow(ctx))
	})

	t.Run("cancellation unblocks the wait", func(t *testing.T) {
		limiter := NewRateLimiter(1.0, 1)
		require.NoError(t, limiter.Allow(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- limiter.Allow(ctx) }()
		time.Sleep(20 * time.Millisecond)
		cancel()

		assert.True(t, errors.Is(<-errCh, context.Canceled))
	})
}
