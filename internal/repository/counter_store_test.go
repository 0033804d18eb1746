package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterStore(t *testing.T) {
	ctx := context.Background()

	t.Run("counts bumps within a window", func(t *testing.T) {
		store := NewMemoryCounterStore()

		for want := int64(1); want <= 3; want++ {
			count, err := store.Incr(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, count)
		}
	})

	t.Run("keys count independently", func(t *testing.T) {
		store := NewMemoryCounterStore()

		_, err := store.Incr(ctx, "a", time.Minute)
		require.NoError(t, err)
		count, err := store.Incr(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("reports time remaining in the window", func(t *testing.T) {
		store := NewMemoryCounterStore()

		_, err := store.Incr(ctx, "k", time.Minute)
		require.NoError(t, err)

		ttl, err := store.TTL(ctx, "k")
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Second)
		assert.LessOrEqual(t, ttl, time.Minute)
	})

	t.Run("absent keys have no TTL", func(t *testing.T) {
		store := NewMemoryCounterStore()

		ttl, err := store.TTL(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})

	t.Run("an expired window restarts the count", func(t *testing.T) {
		store := NewMemoryCounterStore()

		_, err := store.Incr(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)
		_, err = store.Incr(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		count, err := store.Incr(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("ping always succeeds", func(t *testing.T) {
		assert.NoError(t, NewMemoryCounterStore().Ping(ctx))
	})
}
