package ltm

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// HashIndex resolves spec §4.6 step 3a's exact-hash dedup lookup. memory_hash
// is not one of the closed filter-operator fields of spec §4.3, so the
// engine keeps this auxiliary hash->id index alongside the VectorStoreAdapter
// rather than querying the adapter for it; the adapter remains the single
// source of truth for record content (spec §4.1 ownership note), this index
// only ever points at ids the adapter already holds.
type HashIndex interface {
	Lookup(ctx context.Context, hash string) (id string, ok bool, err error)
	Set(ctx context.Context, hash, id string) error
	Delete(ctx context.Context, hash string) error
}

// MemoryHashIndex is an in-process HashIndex for tests and single-process
// deployments without Redis.
type MemoryHashIndex struct {
	mu   sync.RWMutex
	byID map[string]string
}

// NewMemoryHashIndex builds an empty MemoryHashIndex.
func NewMemoryHashIndex() *MemoryHashIndex {
	return &MemoryHashIndex{byID: make(map[string]string)}
}

func (m *MemoryHashIndex) Lookup(ctx context.Context, hash string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byID[hash]
	return id, ok, nil
}

func (m *MemoryHashIndex) Set(ctx context.Context, hash, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[hash] = id
	return nil
}

func (m *MemoryHashIndex) Delete(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, hash)
	return nil
}

// RedisHashIndex is a Redis-backed HashIndex, following the key-scoping
// convention of internal/skills.RedisSkillsCache.
type RedisHashIndex struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisHashIndex wraps an existing Redis client.
func NewRedisHashIndex(client redis.UniversalClient, prefix string) *RedisHashIndex {
	if prefix == "" {
		prefix = "agentmemory:hash:"
	}
	return &RedisHashIndex{client: client, prefix: prefix}
}

func (r *RedisHashIndex) Lookup(ctx context.Context, hash string) (string, bool, error) {
	id, err := r.client.Get(ctx, r.prefix+hash).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *RedisHashIndex) Set(ctx context.Context, hash, id string) error {
	return r.client.Set(ctx, r.prefix+hash, id, 0).Err()
}

func (r *RedisHashIndex) Delete(ctx context.Context, hash string) error {
	return r.client.Del(ctx, r.prefix+hash).Err()
}
