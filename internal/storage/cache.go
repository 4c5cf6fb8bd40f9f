package storage

import (
	"sync"
	"time"
)

// Default freshness windows. Listings change more often than individual
// documents, so they expire faster.
const (
	FileTTL = 5 * time.Minute
	ListTTL = time.Minute
)

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// Cache is a TTL cache keyed by path. Entries never expire on their
// own; the caller supplies the freshness window at read time, which
// also lets List fall back to a stale entry when the backend is down.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached value for key if it was stored within ttl.
func (c *Cache) Get(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) > ttl {
		return nil, false
	}
	return e.value, true
}

// GetStale returns the cached value for key regardless of age.
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, storedAt: c.now()}
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
