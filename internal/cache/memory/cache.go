// Package memory provides an in-memory cache implementation.
// This is suitable for single-node deployments where Redis is not available.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/imagevault/internal/repository"
)

// Cache implements repository.Cache using in-memory storage.
// When MaxEntries is reached the entry closest to expiry is evicted.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*cacheItem
	maxEntries int
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// cacheItem represents a single cached item.
type cacheItem struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

// isExpired checks if the item has expired.
func (i *cacheItem) isExpired(now time.Time) bool {
	if i.noExpiry {
		return false
	}
	return now.After(i.expiresAt)
}

// NewCache creates a new in-memory cache. maxEntries <= 0 means unbounded.
func NewCache(maxEntries int) *Cache {
	c := &Cache{
		items:      make(map[string]*cacheItem),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// cleanupLoop periodically removes expired items.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired items.
func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.items {
		if item.isExpired(now) {
			delete(c.items, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || item.isExpired(time.Now()) {
		return nil, repository.ErrCacheMiss
	}

	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a value with an optional TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	item := &cacheItem{value: stored, noExpiry: ttl <= 0}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked()
	}
	c.items[key] = item
	return nil
}

// evictLocked drops expired entries, or failing that the one expiring first.
func (c *Cache) evictLocked() {
	now := time.Now()
	var victim string
	var victimExp time.Time
	for key, item := range c.items {
		if item.isExpired(now) {
			delete(c.items, key)
			continue
		}
		if item.noExpiry {
			if victim == "" {
				victim = key
			}
			continue
		}
		if victimExp.IsZero() || item.expiresAt.Before(victimExp) {
			victim, victimExp = key, item.expiresAt
		}
	}
	if len(c.items) >= c.maxEntries && victim != "" {
		delete(c.items, victim)
	}
}

// Delete removes values by key.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet cleaned.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Ensure Cache implements repository.Cache
var _ repository.Cache = (*Cache)(nil)
