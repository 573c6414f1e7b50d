package ltm

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// AccessTouchLimiter resolves spec §9's open question on access_count
// rate-limiting: "the source does not implement a lock... implementers
// should use a last-touch timestamp check at update time." ShouldTouch
// returns true at most once per cooldown window per record id.
type AccessTouchLimiter interface {
	ShouldTouch(ctx context.Context, recordID string, cooldown time.Duration) bool
}

// MemoryAccessTouchLimiter is an in-process last-touch timestamp map.
type MemoryAccessTouchLimiter struct {
	mu        sync.Mutex
	lastTouch map[string]time.Time
}

// NewMemoryAccessTouchLimiter builds an empty limiter.
func NewMemoryAccessTouchLimiter() *MemoryAccessTouchLimiter {
	return &MemoryAccessTouchLimiter{lastTouch: make(map[string]time.Time)}
}

func (m *MemoryAccessTouchLimiter) ShouldTouch(ctx context.Context, recordID string, cooldown time.Duration) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastTouch[recordID]; ok && now.Sub(last) < cooldown {
		return false
	}
	m.lastTouch[recordID] = now
	return true
}

// RedisAccessTouchLimiter implements the same last-touch check with a
// Redis SETNX-and-TTL key per record id, so the rate limit is shared across
// server processes without a distributed lock.
type RedisAccessTouchLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisAccessTouchLimiter wraps an existing Redis client.
func NewRedisAccessTouchLimiter(client redis.UniversalClient, prefix string) *RedisAccessTouchLimiter {
	if prefix == "" {
		prefix = "agentmemory:touch:"
	}
	return &RedisAccessTouchLimiter{client: client, prefix: prefix}
}

func (r *RedisAccessTouchLimiter) ShouldTouch(ctx context.Context, recordID string, cooldown time.Duration) bool {
	ok, err := r.client.SetNX(ctx, r.prefix+recordID, "1", cooldown).Result()
	if err != nil {
		return false
	}
	return ok
}
