package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache fills a CacheManager from a loader on miss.
// Failed loads are not cached.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache    CacheManager[K, V]
	load     func(ctx context.Context, input I) (V, error)
	disabled bool
}

// NewReadThroughCache wraps cache with load. With disabled set every Get
// calls load directly.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	disabled bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{cache: cache, load: load, disabled: disabled}
}

// Get returns the cached value for key, loading it from input on a miss.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.disabled {
		return r.load(ctx, input)
	}
	if v, ok := r.cache.Get(ctx, key); ok {
		return v, nil
	}

	v, err := r.load(ctx, input)
	if err != nil {
		return v, err
	}
	r.cache.Set(ctx, key, v, ttl)
	return v, nil
}

// Cache exposes the underlying manager for invalidation.
func (r *ReadThroughCache[K, V, I]) Cache() CacheManager[K, V] { return r.cache }
