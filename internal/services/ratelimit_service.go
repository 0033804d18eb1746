package services

import (
	"context"
	"fmt"
	"time"

	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// RateDecision is the outcome of a rate limit check.
type RateDecision struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"resetIn"`
}

// RateLimiter enforces a fixed request window per (prefix, key) on top of
// the shared counter store. Availability wins over strict enforcement: when
// the store is unreachable the limiter allows the request and logs the
// degradation, because blocking every user on a Redis outage is worse than
// briefly losing abuse control.
type RateLimiter struct {
	store  repository.CounterStore
	window time.Duration
	max    int
	logger *observability.Logger
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(store repository.CounterStore, window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 120
	}
	return &RateLimiter{
		store:  store,
		window: window,
		max:    max,
		logger: observability.GetLogger().WithField("component", "ratelimit"),
	}
}

// Window returns the configured window length.
func (l *RateLimiter) Window() time.Duration {
	return l.window
}

// Allow counts one request against the key's current window. The Nth request
// within a window is the last allowed one; the N+1th is refused with
// Remaining == 0 and the time until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, prefix, key string) RateDecision {
	counterKey := fmt.Sprintf("rl:%s:%s", prefix, key)

	count, err := l.store.Incr(ctx, counterKey, l.window)
	if err != nil {
		l.logger.WithFields(map[string]interface{}{
			"prefix": prefix,
			"error":  err.Error(),
		}).Warn("Counter store unreachable, rate limiting disabled for request")
		return RateDecision{Allowed: true, Remaining: l.max - 1, ResetIn: l.window}
	}

	resetIn, err := l.store.TTL(ctx, counterKey)
	if err != nil || resetIn <= 0 {
		resetIn = l.window
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   count <= int64(l.max),
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}
