// Package cache is a process-local TTL memoization layer with single-flight
// collapsing of concurrent identical computations.
//
// It carries no cross-instance guarantee: a cold process starts empty and
// recomputes. Cross-instance duplication is the distributed lock's problem,
// not the cache's.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// pruneEvery bounds how much expired garbage can pile up between writes.
const pruneEvery = 256

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[V]) live(now time.Time) bool {
	return now.Before(e.storedAt.Add(e.ttl))
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Cache memoizes compute results per key for a caller-chosen TTL.
//
// Expired entries are treated as absent at read time (lazy expiry) and are
// swept opportunistically, not on a timer. Safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	flight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	ops    atomic.Uint64

	// now is swappable for tests.
	now func() time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// GetOrCompute returns the live cached value for key, or runs compute once and
// caches its result for ttl.
//
// Concurrent callers for the same key while compute is in flight wait for that
// single execution and all receive its result. A compute failure fans out to
// every waiter unchanged and is not cached; retrying is the caller's concern
// (compose resilience.Do around compute if wanted).
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := c.get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A previous flight may have filled the entry between our miss and
		// this execution slot.
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(V), nil
}

// Get returns the live value for key, if any.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores value under key for ttl, replacing any previous entry.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.put(key, value, ttl)
}

// Delete removes key immediately.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

func (c *Cache[V]) get(key string) (V, bool) {
	var zero V
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok || !e.live(now) {
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: now, ttl: ttl}
	c.mu.Unlock()

	if c.ops.Add(1)%pruneEvery == 0 {
		c.pruneExpired(now)
	}
}

func (c *Cache[V]) pruneExpired(now time.Time) {
	c.mu.Lock()
	for k, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
