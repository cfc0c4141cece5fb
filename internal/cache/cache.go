// Package cache provides thread-safe bounded caches with TTL and LRU eviction.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded cache with per-entry TTL and LRU eviction.
// TTL is a staleness ceiling only; write paths must invalidate explicitly.
type Cache[V any] struct {
	lru    *expirable.LRU[string, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most maxSize entries, each expiring after ttl.
// A zero ttl disables expiration.
func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](maxSize, nil, ttl),
	}
}

// Get returns the cached value for key, or the zero value and false if the
// key is absent or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores a value under key, evicting the least recently used entry if
// the cache is full.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Invalidate removes key from the cache.
func (c *Cache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}

// Clear removes all cached entries.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Stats describes cache effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns hit/miss counters for the cache.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Size: c.lru.Len(), Hits: hits, Misses: misses, HitRate: rate}
}
