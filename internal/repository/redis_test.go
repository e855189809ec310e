package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resortwala/internal/config"
)

func TestRedisGuardStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	store := NewRedisGuardStore(client)
	ctx := context.Background()

	t.Run("CheckAndMark", func(t *testing.T) {
		ok, err := store.CheckAndMark(ctx, "TXN_1_1700000000", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CheckAndMark(ctx, "TXN_1_1700000000", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.True(t, s.Exists(idempotencyPrefix+"TXN_1_1700000000"))
	})

	t.Run("KeyExpires", func(t *testing.T) {
		ok, err := store.CheckAndMark(ctx, "short", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		s.FastForward(2 * time.Second)

		ok, err = store.CheckAndMark(ctx, "short", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		_, err := store.CheckAndMark(ctx, "retry-me", time.Hour)
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "retry-me"))

		ok, err := store.CheckAndMark(ctx, "retry-me", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RateLimit", func(t *testing.T) {
		key := "callback:10.0.0.1"
		limit := 3
		window := time.Minute

		for i := 0; i < limit; i++ {
			allowed, err := store.CheckRateLimit(ctx, key, limit, window)
			require.NoError(t, err)
			assert.True(t, allowed)
		}

		allowed, err := store.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		ttl := s.TTL(rateLimitPrefix + key)
		assert.True(t, ttl > 0 && ttl <= window, "counter must expire, ttl=%s", ttl)

		s.FastForward(window + time.Second)

		allowed, err = store.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("ClosedClient", func(t *testing.T) {
		broken := NewRedisGuardStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
		_, err := broken.CheckAndMark(ctx, "x", time.Second)
		assert.Error(t, err)
	})
}

func TestNewRedisClient(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr(), PoolSize: 2})
	require.NoError(t, Ping(context.Background(), client))
	require.NoError(t, client.Close())
	assert.Error(t, Ping(context.Background(), client))
	assert.ErrorIs(t, Ping(context.Background(), nil), errNoRedis)
}
