package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryGuardStore is the in-process fallback of RedisGuardStore.
type MemoryGuardStore struct {
	mu         sync.Mutex
	keys       map[string]time.Time
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryGuardStore() *MemoryGuardStore {
	return &MemoryGuardStore{
		keys:       make(map[string]time.Time),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryGuardStore) CheckAndMark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.keys[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.keys[key] = now.Add(ttl)
	r.gc(now)
	return true, nil
}

func (r *MemoryGuardStore) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}

func (r *MemoryGuardStore) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}

// gc drops expired entries; called with mu held.
func (r *MemoryGuardStore) gc(now time.Time) {
	for k, exp := range r.keys {
		if !now.Before(exp) {
			delete(r.keys, k)
		}
	}
	for k, e := range r.rateLimits {
		if now.After(e.expiresAt) {
			delete(r.rateLimits, k)
		}
	}
}
