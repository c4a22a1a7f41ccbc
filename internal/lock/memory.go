package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker using in-memory locks.
// This is suitable for single-node deployments where distributed locking is not needed.
// The locks are NOT shared across process restarts or multiple instances.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryLocker creates a new in-memory locker.
// Expired entries are reclaimed lazily on the next Acquire of the same key.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiresAt, exists := m.locks[key]; exists && now.Before(expiresAt) {
		return false, nil
	}

	m.locks[key] = now.Add(ttl)
	return true, nil
}

// Release releases a lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, exists := m.locks[key]
	if !exists {
		return false, nil
	}
	delete(m.locks, key)
	return m.now().Before(expiresAt), nil
}

// Extend extends the TTL of a held lock.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, exists := m.locks[key]
	if !exists {
		return false, nil
	}

	now := m.now()
	if now.After(expiresAt) {
		delete(m.locks, key)
		return false, nil
	}

	m.locks[key] = now.Add(ttl)
	return true, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
