package cachemanager

import (
	"context"
	"time"
)

// Loader fetches the authoritative value for key.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// ReadThrough answers from cache and falls back to its Loader on a miss.
// Successful loads are cached for ttl; errors never are.
type ReadThrough[V any] struct {
	cache Cache[V]
	load  Loader[V]
	ttl   time.Duration
}

// NewReadThrough wraps cache with load.
func NewReadThrough[V any](cache Cache[V], load Loader[V], ttl time.Duration) *ReadThrough[V] {
	return &ReadThrough[V]{cache: cache, load: load, ttl: ttl}
}

// Get returns the cached value for key, loading it on a miss.
func (r *ReadThrough[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	v, err := r.load(ctx, key)
	if err != nil {
		return v, err
	}
	r.cache.Set(key, v, r.ttl)
	return v, nil
}

// Prime caches value for key without loading, for callers that just wrote
// it to the source of truth.
func (r *ReadThrough[V]) Prime(key string, value V) {
	r.cache.Set(key, value, r.ttl)
}

// Invalidate drops key so the next Get reloads it.
func (r *ReadThrough[V]) Invalidate(key string) {
	r.cache.Delete(key)
}
