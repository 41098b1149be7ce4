// ratelimit_redis.go provides a Redis-backed bucket store for deployments
// running more than one replica, where an in-process table would give each
// replica its own budget. The fixed-window semantics are identical to
// MemoryStore: INCR the window key, set its expiry on first hit, and read the
// remaining TTL for the reset instant.
package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements BucketStore on a Redis client.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces the keys, e.g.
// "ratelimit:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Incr implements BucketStore.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	redisKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX: only the first hit of a window sets the expiry; later hits must not
	// slide it.
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return int(incr.Val()), time.Now().Add(remaining), nil
}

// Sweep implements BucketStore. Redis expires window keys natively.
func (s *RedisStore) Sweep(time.Time) {}
