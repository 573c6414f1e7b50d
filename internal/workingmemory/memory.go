package workingmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agentmemory/internal/apierr"
	"agentmemory/internal/model"
	"agentmemory/internal/observability"
)

// MemoryStore is an in-process Store, following the same shape as the
// teacher's memChatStore in internal/persistence/databases/chat_store_memory.go:
// a guarded map plus linear scans, used for tests and for running the
// service without a deployed Redis.
type MemoryStore struct {
	mu        sync.Mutex
	blobs     map[string]model.WorkingMemory
	versions  map[string]int64
	cfg       Config
	scheduler Scheduler
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(cfg Config, scheduler Scheduler) *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[string]model.WorkingMemory),
		versions:  make(map[string]int64),
		cfg:       cfg,
		scheduler: scheduler,
	}
}

func key(namespace, sessionID string) string { return namespace + "\x00" + sessionID }

// Cfg returns the store's base configuration.
func (s *MemoryStore) Cfg() Config { return s.cfg }

func (s *MemoryStore) Get(ctx context.Context, namespace, sessionID string) (*model.WorkingMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.blobs[key(namespace, sessionID)]
	if !ok {
		return nil, nil
	}
	wm.Version = s.versions[key(namespace, sessionID)]
	out := wm
	return &out, nil
}

func (s *MemoryStore) Put(ctx context.Context, namespace, sessionID string, wm model.WorkingMemory, expectedVersion *int64) (model.WorkingMemoryResponse, error) {
	log := observability.LoggerWithTrace(ctx)
	now := time.Now().UTC()
	k := key(namespace, sessionID)

	s.mu.Lock()
	curVersion, exists := s.versions[k]
	if expectedVersion != nil && exists && *expectedVersion != curVersion {
		s.mu.Unlock()
		return model.WorkingMemoryResponse{}, apierr.Conflict("working memory version conflict", nil)
	}
	s.mu.Unlock()

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
	var promoteRecords []model.MemoryRecord
	promoteRecords = append(promoteRecords, wm.Memories...)
	if len(promoteMessages) > 0 || len(promoteRecords) > 0 {
		if err := s.scheduler.SchedulePromote(ctx, namespace, sessionID, promoteMessages, promoteRecords); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("schedule_promote_failed")
		}
	}

	s.mu.Lock()
	if expectedVersion != nil && s.versions[k] != curVersion {
		s.mu.Unlock()
		return model.WorkingMemoryResponse{}, apierr.Conflict("working memory version conflict", nil)
	}
	newVersion := s.versions[k] + 1
	s.blobs[k] = wm
	s.versions[k] = newVersion
	s.mu.Unlock()
	wm.Version = newVersion

	return deriveResponse(wm, s.cfg), nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(namespace, sessionID)
	delete(s.blobs, k)
	delete(s.versions, k)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, namespace string, limit, offset int) ([]model.SessionKey, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, wm := range s.blobs {
		if wm.Namespace == namespace {
			ids = append(ids, wm.SessionID)
		}
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
