package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/prn-tf/imagevault/internal/repository"
)

// Only the holder's token may delete or extend a key.
var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock implements repository.DistributedLock with SET NX PX and a per-key ownership token.
type Lock struct {
	client goredis.UniversalClient
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewLock creates a Redis-backed distributed lock.
func NewLock(client goredis.UniversalClient, prefix string) *Lock {
	return &Lock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}
}

// Acquire attempts to acquire a lock.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release releases a lock held by this process.
func (l *Lock) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}
	return n == 1, nil
}

// Extend extends the TTL of a held lock.
func (l *Lock) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	n, err := extendScript.Run(ctx, l.client, []string{l.prefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}
	if n == 0 {
		l.mu.Lock()
		delete(l.tokens, key)
		l.mu.Unlock()
		return false, nil
	}
	return true, nil
}

var _ repository.DistributedLock = (*Lock)(nil)
