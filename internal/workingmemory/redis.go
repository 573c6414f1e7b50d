package workingmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"agentmemory/internal/apierr"
	"agentmemory/internal/model"
	"agentmemory/internal/observability"
)

// casScript atomically compares the stored version against the caller's
// expected version and, on match, writes the new blob and bumps the
// version. Extends the teacher's plain Get/Set RedisDedupeStore (spec §5's
// optimistic-write requirement needs a compare-and-swap the dedupe store
// never had to do).
//
// KEYS[1] = blob key, ARGV[1] = expected version ("" means "no expectation,
// create or overwrite unconditionally"), ARGV[2] = new blob JSON,
// ARGV[3] = new version, ARGV[4] = ttl seconds ("0" means no expiry).
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if ARGV[1] ~= '' then
  if cur ~= false and cur ~= ARGV[1] then
    return -1
  end
end
redis.call('HSET', KEYS[1], 'blob', ARGV[2], 'version', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

// RedisStore is the Redis-backed Working-Memory Store of spec §4.1,
// following the client-construction and key-scoping conventions of the
// teacher's internal/skills.RedisSkillsCache, extended with an optimistic
// version token (via casScript above), TTL-mapped expiry, a session index
// set for List, and an optional archiver invoked on Delete (blobs that expire
// through their TTL are not archived).
type RedisStore struct {
	client    redis.UniversalClient
	cfg       Config
	scheduler Scheduler
	archiver  Archiver
}

// Archiver persists an evicted WorkingMemory blob to cold storage. Nil
// disables archival.
type Archiver interface {
	Archive(ctx context.Context, namespace, sessionID string, wm model.WorkingMemory) error
}

// NewRedisStore builds a RedisStore. scheduler must not be nil; archiver may
// be nil to disable cold-archival on delete.
func NewRedisStore(client redis.UniversalClient, cfg Config, scheduler Scheduler, archiver Archiver) *RedisStore {
	return &RedisStore{client: client, cfg: cfg, scheduler: scheduler, archiver: archiver}
}

// Cfg returns the store's base configuration.
func (s *RedisStore) Cfg() Config { return s.cfg }

func blobKey(namespace, sessionID string) string {
	return fmt.Sprintf("workingmemory:%s:%s", namespace, sessionID)
}

func indexKey(namespace string) string {
	return "workingmemory:index:" + namespace
}

type storedBlob struct {
	WM      model.WorkingMemory `json:"wm"`
	Version int64               `json:"-"`
}

func (s *RedisStore) Get(ctx context.Context, namespace, sessionID string) (*model.WorkingMemory, error) {
	wm, _, err := s.getWithVersion(ctx, namespace, sessionID)
	if err != nil {
		return nil, err
	}
	return wm, nil
}

func (s *RedisStore) getWithVersion(ctx context.Context, namespace, sessionID string) (*model.WorkingMemory, int64, error) {
	res, err := s.client.HMGet(ctx, blobKey(namespace, sessionID), "blob", "version").Result()
	if err != nil {
		return nil, 0, apierr.Fatal("redis hmget working memory", err)
	}
	if res[0] == nil {
		return nil, 0, nil
	}
	blobStr, ok := res[0].(string)
	if !ok || blobStr == "" {
		return nil, 0, nil
	}
	var wm model.WorkingMemory
	if err := json.Unmarshal([]byte(blobStr), &wm); err != nil {
		return nil, 0, apierr.Fatal("decode working memory blob", err)
	}
	var version int64
	if v, ok := res[1].(string); ok {
		version, _ = strconv.ParseInt(v, 10, 64)
	}
	wm.Version = version
	return &wm, version, nil
}

// Put applies the triggers of spec §4.1 in order (dedupe memories by id,
// schedule summarization on overflow, schedule promotion of un-persisted
// items) and writes the result with optimistic concurrency.
func (s *RedisStore) Put(ctx context.Context, namespace, sessionID string, wm model.WorkingMemory, expectedVersion *int64) (model.WorkingMemoryResponse, error) {
	log := observability.LoggerWithTrace(ctx)
	now := time.Now().UTC()

	wm.Namespace = namespace
	wm.SessionID = sessionID
	wm.Memories = dedupeMemories(wm.Memories)
	if wm.CreatedAt.IsZero() {
		wm.CreatedAt = now
	}
	wm.UpdatedAt = now
	wm.LastAccessed = now

	if s.cfg.WindowSize > 0 && len(wm.Messages) > s.cfg.WindowSize {
		if err := s.scheduler.ScheduleSummarize(ctx, namespace, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("schedule_summarize_failed")
		}
	}

	var promoteMessages []model.MemoryMessage
	for i := range wm.Messages {
		if wm.Messages[i].PersistedAt == nil {
			promoteMessages = append(promoteMessages, wm.Messages[i])
			wm.Messages[i].PersistedAt = &now
		}
	}
	var promoteRecords []model.MemoryRecord
	for i := range wm.Memories {
		if wm.Memories[i].CreatedAt.IsZero() {
			wm.Memories[i].CreatedAt = now
		}
		if wm.Memories[i].UpdatedAt.IsZero() {
			wm.Memories[i].UpdatedAt = now
		}
		if wm.Memories[i].LastAccessed.IsZero() {
			wm.Memories[i].LastAccessed = now
		}
	}
	for i := range wm.Memories {
		promoteRecords = append(promoteRecords, wm.Memories[i])
	}
	if len(promoteMessages) > 0 || len(promoteRecords) > 0 {
		if err := s.scheduler.SchedulePromote(ctx, namespace, sessionID, promoteMessages, promoteRecords); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("schedule_promote_failed")
		}
	}

	blob, err := json.Marshal(wm)
	if err != nil {
		return model.WorkingMemoryResponse{}, apierr.Fatal("encode working memory blob", err)
	}

	expected := ""
	if expectedVersion != nil {
		expected = strconv.FormatInt(*expectedVersion, 10)
	}
	newVersion := time.Now().UnixNano()
	ttlSeconds := int64(0)
	if d := clampTTL(wm.TTLSeconds); d > 0 {
		ttlSeconds = int64(d.Seconds())
	}
	key := blobKey(namespace, sessionID)
	res, err := casScript.Run(ctx, s.client, []string{key}, expected, string(blob), strconv.FormatInt(newVersion, 10), strconv.FormatInt(ttlSeconds, 10)).Result()
	if err != nil {
		return model.WorkingMemoryResponse{}, apierr.Fatal("redis cas working memory", err)
	}
	if n, ok := res.(int64); ok && n < 0 {
		return model.WorkingMemoryResponse{}, apierr.Conflict("working memory version conflict", nil)
	}
	wm.Version = newVersion

	if err := s.client.SAdd(ctx, indexKey(namespace), sessionID).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session_index_add_failed")
	}

	return deriveResponse(wm, s.cfg), nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace, sessionID string) error {
	if s.archiver != nil {
		if wm, err := s.Get(ctx, namespace, sessionID); err == nil && wm != nil {
			if aerr := s.archiver.Archive(ctx, namespace, sessionID, *wm); aerr != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(aerr).Str("session_id", sessionID).Msg("archive_on_delete_failed")
			}
		}
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, blobKey(namespace, sessionID))
	pipe.SRem(ctx, indexKey(namespace), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Fatal("redis delete working memory", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, namespace string, limit, offset int) ([]model.SessionKey, int, error) {
	ids, err := s.client.SMembers(ctx, indexKey(namespace)).Result()
	if err != nil {
		return nil, 0, apierr.Fatal("redis list sessions", err)
	}
	sort.Strings(ids)
	total := len(ids)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]model.SessionKey, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, model.SessionKey{Namespace: namespace, SessionID: id})
	}
	return out, total, nil
}
