package cachemanager

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/codexgui/internal/log"
)

const (
	DefaultExpiration      = 30 * time.Second
	DefaultCleanupInterval = 5 * time.Minute
)

// InMemoryCacheManager implements CacheManager in process memory.
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// NewInMemoryCacheManager creates a cache. useCase labels log lines.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// Get returns the cached value for key.
func (c *InMemoryCacheManager[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	raw, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "Cached value has wrong type", "cache", c.useCase, "key", string(key))
		return zero, false
	}

	log.Debug(log.CatCache, "Cache hit", "cache", c.useCase, "key", string(key))
	return v, true
}

// GetWithRefresh returns the cached value and restarts its TTL.
func (c *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, found := c.Get(ctx, key)
	if found {
		c.Set(ctx, key, v, ttl)
	}
	return v, found
}

// Set stores value under key for ttl. gocache.DefaultExpiration (0) uses
// the cache's default.
func (c *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete removes keys.
func (c *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (c *InMemoryCacheManager[K, V]) DeletePrefix(_ context.Context, prefix K) int {
	removed := 0
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, string(prefix)) {
			c.cache.Delete(key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug(log.CatCache, "Invalidated entries", "cache", c.useCase, "prefix", string(prefix), "count", removed)
	}
	return removed
}

// Flush removes everything.
func (c *InMemoryCacheManager[K, V]) Flush(_ context.Context) {
	c.cache.Flush()
}
