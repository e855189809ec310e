package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"resortwala/internal/config"
)

func TestRateLimiterBuckets(t *testing.T) {
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 1, Burst: 2})
	l.now = func() time.Time { return clock }

	assert.True(t, l.allow("vendor-portal"))
	assert.True(t, l.allow("vendor-portal"))
	assert.False(t, l.allow("vendor-portal"), "burst exhausted")
	assert.True(t, l.allow("customer-site"), "keys have separate buckets")

	clock = clock.Add(time.Second)
	assert.True(t, l.allow("vendor-portal"), "one token refilled")
	assert.False(t, l.allow("vendor-portal"))
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 5})
	l.now = func() time.Time { return clock }

	l.allow("a")
	clock = clock.Add(limiterIdleTTL / 2)
	l.allow("b")
	clock = clock.Add(limiterIdleTTL/2 + time.Second)
	l.allow("b")

	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
	assert.Equal(t, defaultBurst, l.burst)
}

func TestRateLimiterDisabled(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{})
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow("k"))
	}
	assert.Empty(t, l.buckets)
}
