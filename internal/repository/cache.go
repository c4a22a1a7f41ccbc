package repository

import (
	"context"
	"time"
)

// =============================================================================
// Cache Interface (Redis)
// =============================================================================

// Cache defines the interface for caching operations.
// Implemented by Redis for multi-instance deployments and in memory otherwise.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes values by key. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// =============================================================================
// Distributed Lock Interface (Redis)
// =============================================================================

// DistributedLock defines the interface for distributed locking.
// Used to coordinate operations across multiple server instances.
type DistributedLock interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release releases a lock held by this process.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// =============================================================================
// Common Cache Keys
// =============================================================================

// CacheKeys generates cache keys for common scenarios.
var CacheKeys = cacheKeys{}

type cacheKeys struct{}

// Thumbnail returns the cache key for a blob's thumbnail entry.
func (cacheKeys) Thumbnail(blobID string) string {
	return "cache:thumb:" + blobID
}
