// Package cache memoizes signed asset URLs.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	url        string
	expiration time.Time
}

// MemoryCache is a process-local URLCache. Expired entries are dropped on
// read and swept on write once the map grows past sweepAt.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	sweepAt int
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), sweepAt: 1024, now: time.Now}
}

func (c *MemoryCache) GetURL(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiration) {
		delete(c.entries, key)
		return "", false
	}
	return e.url, true
}

func (c *MemoryCache) SetURL(_ context.Context, key, url string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.sweepAt {
		for k, e := range c.entries {
			if !now.Before(e.expiration) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.sweepAt {
			c.sweepAt *= 2
		}
	}
	c.entries[key] = entry{url: url, expiration: now.Add(ttl)}
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
