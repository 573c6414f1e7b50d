package taskrunner

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisKeyLock implements KeyLock with Redis SETNX, extending the teacher's
// internal/orchestrator.RedisDedupeStore (a plain Get/Set cache) with the
// conditional-set semantics at-most-one-per-key coalescing needs.
type RedisKeyLock struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKeyLock wraps an existing Redis client.
func NewRedisKeyLock(client redis.UniversalClient, prefix string) *RedisKeyLock {
	if prefix == "" {
		prefix = "agentmemory:task-lock:"
	}
	return &RedisKeyLock{client: client, prefix: prefix}
}

func (l *RedisKeyLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, "1", ttl).Result()
}

func (l *RedisKeyLock) Release(ctx context.Context, key string) {
	l.client.Del(ctx, l.prefix+key)
}
