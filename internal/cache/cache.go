// Package cache provides time-bounded memoization of fetch results, keyed by
// operation parameters. It sits in front of the resilient fetchers to bound
// call volume against the rate-limited upstream APIs.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// entry is an immutable cached value. Replaced wholesale on refetch, never
// partially updated.
type entry[T any] struct {
	value     model.Result[T]
	writtenAt time.Time
	expiresAt time.Time
}

// Stats reports cache activity counters for status endpoints.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Cache memoizes fetch results for a fixed TTL with a bounded entry count.
// Absorbed failures are cached exactly like successes: a confirmed
// unavailable result is worth remembering so a known-failing endpoint is not
// hammered for the rest of the TTL window.
type Cache[T any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry[T]
	hits    uint64
	misses  uint64
	evicted uint64

	group singleflight.Group
}

// New creates a cache holding at most maxEntries results for ttl each.
func New[T any](name string, ttl time.Duration, maxEntries int) *Cache[T] {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Cache[T]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]entry[T]),
	}
}

// WithClock overrides the cache's clock, for tests.
func (c *Cache[T]) WithClock(now func() time.Time) *Cache[T] {
	c.now = now
	return c
}

// GetOrFetch returns the cached result for key when present and unexpired;
// otherwise it invokes fetch, stores the outcome and returns it. Concurrent
// misses for the same key are collapsed into a single fetch.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) model.Result[T]) model.Result[T] {
	if v, ok := c.lookup(key); ok {
		return v
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have filled the entry already. The outer
		// lookup counted this call's miss; peek without counting again.
		if v, ok := c.peek(key); ok {
			return v, nil
		}

		res := fetch(ctx)
		c.store(key, res)
		return res, nil
	})
	return v.(model.Result[T])
}

// Stats returns a snapshot of the activity counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicted,
		Entries:   len(c.entries),
	}
}

// lookup returns the entry for key when present and unexpired. A lookup past
// the expiry is a miss.
func (c *Cache[T]) lookup(key string) (model.Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero model.Result[T]
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		var zero model.Result[T]
		return zero, false
	}

	c.hits++
	return e.value, true
}

// peek is lookup without touching the hit and miss counters, for re-checks
// inside a single-flight callback whose miss was already counted.
func (c *Cache[T]) peek(key string) (model.Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero model.Result[T]
		return zero, false
	}
	return e.value, true
}

// store writes a fresh entry, evicting the oldest-written one when the
// entry bound is exceeded.
func (c *Cache[T]) store(key string, value model.Result[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = entry[T]{
		value:     value,
		writtenAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// evictOldest drops the least-recently-written entry. Caller holds the mutex.
func (c *Cache[T]) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.writtenAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.writtenAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evicted++
		logrus.WithFields(logrus.Fields{
			"cache": c.name,
			"key":   oldestKey,
		}).Debug("Evicted oldest cache entry")
	}
}
