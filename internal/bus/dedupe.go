package bus

import (
	"sync"
	"time"
)

// DedupeCache suppresses duplicate inbound messages. Webhook retries and
// client double-taps redeliver the same message id; the first sighting wins
// for the TTL. Bounded by maxEntries with oldest-first eviction.
type DedupeCache struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	ttl        time.Duration
	maxEntries int
}

// NewDedupeCache creates a cache with the given TTL and entry bound.
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	return &DedupeCache{
		seen:       make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// IsDuplicate reports whether key was seen within the TTL, and records it.
func (c *DedupeCache) IsDuplicate(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.seen[key] = now
	return false
}

// evictLocked drops expired entries, then the oldest entry if still full.
func (c *DedupeCache) evictLocked(now time.Time) {
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
		}
	}
	if len(c.seen) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldestAt time.Time
	for k, at := range c.seen {
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey = k
			oldestAt = at
		}
	}
	if oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}

// Len returns the current entry count.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
