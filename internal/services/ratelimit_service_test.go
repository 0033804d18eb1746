package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syncflow/server/internal/repository"
)

// failingCounterStore simulates an unreachable Redis.
type failingCounterStore struct{}

func (failingCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, errors.New("connection refused")
}

func (failingCounterStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("the Nth request passes and the N+1th is refused", func(t *testing.T) {
		limiter := NewRateLimiter(repository.NewMemoryCounterStore(), time.Minute, 3)

		for i := 0; i < 3; i++ {
			decision := limiter.Allow(ctx, "api", "user-1")
			assert.True(t, decision.Allowed, "request %d should be allowed", i+1)
		}

		decision := limiter.Allow(ctx, "api", "user-1")
		assert.False(t, decision.Allowed)
		assert.Equal(t, 0, decision.Remaining)
		assert.Greater(t, decision.ResetIn, time.Duration(0))
	})

	t.Run("remaining counts down as requests arrive", func(t *testing.T) {
		limiter := NewRateLimiter(repository.NewMemoryCounterStore(), time.Minute, 5)

		first := limiter.Allow(ctx, "api", "user-1")
		assert.Equal(t, 4, first.Remaining)
		second := limiter.Allow(ctx, "api", "user-1")
		assert.Equal(t, 3, second.Remaining)
	})

	t.Run("keys are isolated by prefix and by key", func(t *testing.T) {
		limiter := NewRateLimiter(repository.NewMemoryCounterStore(), time.Minute, 1)

		assert.True(t, limiter.Allow(ctx, "api", "user-1").Allowed)
		assert.False(t, limiter.Allow(ctx, "api", "user-1").Allowed)

		// Same key under another prefix and another key under the same
		// prefix both still have their own budget.
		assert.True(t, limiter.Allow(ctx, "auth", "user-1").Allowed)
		assert.True(t, limiter.Allow(ctx, "api", "user-2").Allowed)
	})

	t.Run("the window expiring resets the budget", func(t *testing.T) {
		limiter := NewRateLimiter(repository.NewMemoryCounterStore(), 20*time.Millisecond, 1)

		assert.True(t, limiter.Allow(ctx, "api", "user-1").Allowed)
		assert.False(t, limiter.Allow(ctx, "api", "user-1").Allowed)

		time.Sleep(30 * time.Millisecond)
		assert.True(t, limiter.Allow(ctx, "api", "user-1").Allowed)
	})

	t.Run("fails open when the counter store is unreachable", func(t *testing.T) {
		limiter := NewRateLimiter(failingCounterStore{}, time.Minute, 1)

		for i := 0; i < 5; i++ {
			decision := limiter.Allow(ctx, "api", "user-1")
			assert.True(t, decision.Allowed)
		}
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		limiter := NewRateLimiter(repository.NewMemoryCounterStore(), 0, 0)
		assert.Equal(t, time.Minute, limiter.Window())
		assert.True(t, limiter.Allow(ctx, "api", "user-1").Allowed)
	})
}
