package notify

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value    any
	tags     []string
	storedAt time.Time
}

// MemoryCache is an in-process read cache whose entries carry category tags.
// It satisfies the sync package's ReadCache interface.
type MemoryCache struct {
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		nowFunc: time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached value for key.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]

	return e.value, ok
}

// StoredAt returns when key was last filled.
func (c *MemoryCache) StoredAt(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]

	return e.storedAt, ok
}

// Put stores value under key with the given tags.
func (c *MemoryCache) Put(key string, value any, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		value:    value,
		tags:     append([]string(nil), tags...),
		storedAt: c.nowFunc(),
	}
}

// GetOrFill returns the cached value for key, calling fill on a miss and
// caching its result under tags. Errors are not cached.
func (c *MemoryCache) GetOrFill(
	ctx context.Context, key string, tags []string, fill func(context.Context) (any, error),
) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := fill(ctx)
	if err != nil {
		return nil, err
	}

	c.Put(key, v, tags...)

	return v, nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Invalidate drops every entry whose tags satisfy match.
func (c *MemoryCache) Invalidate(match func(tags []string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if match(e.tags) {
			delete(c.entries, k)
		}
	}
}
