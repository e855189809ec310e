package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"resortwala/internal/domain"
)

// FailoverGuardStore uses the primary store until it errors, then serves
// from the fallback and retries the primary once a minute.
type FailoverGuardStore struct {
	primary  domain.GuardStore
	fallback domain.GuardStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverGuardStore(primary, fallback domain.GuardStore, logger *zerolog.Logger) *FailoverGuardStore {
	return &FailoverGuardStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverGuardStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary guard store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverGuardStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > time.Minute {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverGuardStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.CheckAndMark(ctx, key, ttl)
		if err == nil {
			r.isDown.Store(false)
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckAndMark(ctx, key, ttl)
}

func (r *FailoverGuardStore) Delete(ctx context.Context, key string) error {
	// ключ мог попасть в любое из хранилищ
	_ = r.fallback.Delete(ctx, key)
	if r.usePrimary() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverGuardStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
