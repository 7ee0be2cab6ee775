// Package cache provides the in-memory TTL cache backing the proxy's
// memoized Instagram lookups.
package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// keyMark separates the positional argument stream from the named options
// when deriving a cache key, so that Key([]any{"a", "b"}, nil) and
// Key([]any{"a"}, map[string]string{"x": "b"}) can never collide.
const keyMark = "\x1f#mark#\x1f"

// Key derives a deterministic cache key from a call's positional arguments
// and its named options. Option names are ordered canonically so that two
// calls with the same options always produce the same key.
func Key(args []any, opts map[string]string) string {
	parts := make([]string, 0, len(args)+len(opts)+1)
	for _, arg := range args {
		parts = append(parts, fmt.Sprintf("%v", arg))
	}
	parts = append(parts, keyMark)

	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+opts[name])
	}

	return strings.Join(parts, "\x1f")
}

// entry is a stored value with its absolute expiry instant. A zero expiresAt
// means the entry never expires.
type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a string-keyed, in-memory cache with optional per-entry expiry.
// Expired entries are evicted lazily: a Get that finds an expired entry
// removes it, and every Set runs a full sweep first.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewTTLCache creates an empty TTLCache.
func NewTTLCache() *TTLCache {
	return &TTLCache{
		entries: make(map[string]entry),
	}
}

// Get retrieves the value stored under key. It reports false if the key is
// absent, or if the entry's expiry has passed, in which case the entry is
// deleted before returning.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if !item.expiresAt.IsZero() && item.expiresAt.Before(time.Now()) {
		delete(c.entries, key)
		return nil, false
	}

	return item.value, true
}

// Set stores value under key. A positive ttl sets an absolute expiry of
// now+ttl; a zero or negative ttl stores the entry without expiry. Set runs
// a full eviction sweep before storing, so the cost of expired entries is
// amortized across writes.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep()

	item := entry{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = item
}

// Evict removes every entry whose expiry is set and has passed. Entries
// without expiry are never evicted.
func (c *TTLCache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep()
}

// Len returns the number of entries currently stored, including entries
// that have expired but have not been swept yet.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweep must be called with the write lock held.
func (c *TTLCache) sweep() {
	now := time.Now()
	for key, item := range c.entries {
		if !item.expiresAt.IsZero() && item.expiresAt.Before(now) {
			delete(c.entries, key)
		}
	}
}
