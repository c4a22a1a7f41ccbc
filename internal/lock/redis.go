package lock

import (
	"context"
	"time"

	"github.com/prn-tf/imagevault/internal/repository"
)

// RedisLocker implements Locker using Redis distributed lock.
// This wraps the repository.DistributedLock interface to implement lock.Locker.
type RedisLocker struct {
	distributedLock repository.DistributedLock
}

// NewRedisLocker creates a new RedisLocker wrapping a DistributedLock implementation.
func NewRedisLocker(dl repository.DistributedLock) *RedisLocker {
	return &RedisLocker{
		distributedLock: dl,
	}
}

// Acquire attempts to acquire a lock.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.distributedLock.Acquire(ctx, key, ttl)
}

// Release releases a lock.
func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	return l.distributedLock.Release(ctx, key)
}

// Extend extends the TTL of a held lock.
func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.distributedLock.Extend(ctx, key, ttl)
}

// Ensure RedisLocker implements Locker
var _ Locker = (*RedisLocker)(nil)
