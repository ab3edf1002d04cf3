// Package querycache is an explicit get-or-fetch cache for query results,
// owned by whoever constructs it rather than hiding behind package state.
package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	cacheport "careline/internal/infrastructure/cache/port"
	"careline/internal/metrics"
)

// Cache wraps the cache port with query semantics: a miss runs the fetch
// function and stores its result. Cache outages degrade to fetching; they
// never fail a read.
type Cache struct {
	backend cacheport.Cache
	ttl     time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	keys map[string]struct{} // keys this owner has written, for targeted invalidation
}

// New constructs a Cache. metrics may be nil.
func New(backend cacheport.Cache, ttl time.Duration, log zerolog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		backend: backend,
		ttl:     ttl,
		log:     log.With().Str("component", "querycache").Logger(),
		metrics: m,
		keys:    make(map[string]struct{}),
	}
}

// GetOrFetch returns the cached value for key, or runs fetch and caches its
// result on a miss.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (string, error)) (string, error) {
	val, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return val, nil
	case errors.Is(err, cacheport.ErrMiss):
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
	default:
		// Backend trouble: log and fall through to the fetch.
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}

	val, err = fetch(ctx)
	if err != nil {
		return "", err
	}

	if err := c.backend.Set(ctx, key, val, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return val, nil
	}
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	return val, nil
}

// Invalidate removes the given keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if _, err := c.backend.Del(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Msg("cache invalidate failed")
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.keys, k)
	}
	c.mu.Unlock()
}

// InvalidateAll removes every key this cache has written. Mutations call it
// because any cached listing may now be stale.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	c.keys = make(map[string]struct{})
	c.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	if _, err := c.backend.Del(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Msg("cache invalidate failed")
	}
}
