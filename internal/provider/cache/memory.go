package cache

import (
	"context"
	"sync"
	"time"

	"marketvault/internal/domain"
)

// Compile-time interface check.
var _ Cache = (*MemoryCache)(nil)

// MemoryCache is a mutex-guarded in-process cache with lazy expiry.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	bars    []domain.MarketBar
	expires time.Time
}

// NewMemoryCache creates a MemoryCache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the cached bars for key if the entry has not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]domain.MarketBar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.bars, true
}

// Set stores bars under key and opportunistically evicts expired entries.
func (c *MemoryCache) Set(_ context.Context, key string, bars []domain.MarketBar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{bars: bars, expires: now.Add(c.ttl)}
}
