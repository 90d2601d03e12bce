package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker is an alternate write-exclusion primitive for relay
// deployments that share one S3Backend across many processes, where a
// lock object's DELETE-on-unlock race is worth avoiding. SETNX+TTL
// gives a lease that self-expires if a holder crashes, unlike the
// filesystem/S3 lock sidecar which has no such safety net.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker connects to addr and returns a locker whose leases
// expire after ttl if never released.
func NewRedisLocker(addr, password string, db int, ttl time.Duration) *RedisLocker {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock attempts to acquire the named lock key via SETNX. It returns
// ErrLocked if another holder currently holds it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlocker, error) {
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: setnx: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisUnlocker{client: l.client, key: key}, nil
}

// Close releases the underlying Redis connection pool.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisUnlocker struct {
	client *redis.Client
	key    string
}

func (u *redisUnlocker) Unlock(ctx context.Context) error {
	if err := u.client.Del(ctx, u.key).Err(); err != nil {
		return fmt.Errorf("redislock: del: %w", err)
	}
	return nil
}
