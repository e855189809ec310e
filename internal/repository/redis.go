package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"resortwala/internal/config"
)

const (
	idempotencyPrefix = "resortwala:idem:"
	rateLimitPrefix   = "resortwala:rl:"
)

var errNoRedis = errors.New("redis client is not configured")

// NewRedisClient builds a client from the redis section of the config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client redis.Cmdable) error {
	if client == nil {
		return errNoRedis
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// RedisGuardStore keeps idempotency keys and fixed-window rate counters in
// Redis so that several API instances share them.
type RedisGuardStore struct {
	client redis.Cmdable
}

func NewRedisGuardStore(client redis.Cmdable) *RedisGuardStore {
	return &RedisGuardStore{client: client}
}

// CheckAndMark claims key for ttl. It reports false if the key is already
// claimed.
func (r *RedisGuardStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNoRedis
	}
	claimed, err := r.client.SetNX(ctx, idempotencyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %q: %w", key, err)
	}
	return claimed, nil
}

func (r *RedisGuardStore) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return errNoRedis
	}
	if err := r.client.Del(ctx, idempotencyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}

// CheckRateLimit counts a hit in the current window. The counter is created
// with the window as TTL inside the same MULTI, so INCR never leaves a key
// without expiry.
func (r *RedisGuardStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNoRedis
	}
	k := rateLimitPrefix + key

	var hits *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, window)
		hits = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit %q: %w", key, err)
	}
	return hits.Val() <= int64(limit), nil
}
