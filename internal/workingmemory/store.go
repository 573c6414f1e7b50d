// Package workingmemory implements the Working-Memory Store (C4): the
// per-session ephemeral state machine of spec §4.1, backed by Redis the way
// the teacher's internal/orchestrator.RedisDedupeStore is backed by Redis,
// extended with an optimistic version token, TTL-mapped expiry, and
// cold-archival of evicted blobs to object storage.
package workingmemory

import (
	"context"
	"time"

	"agentmemory/internal/model"
)

// Scheduler is the subset of the Task Runner (C10) the store needs in order
// to fire the overflow and promotion triggers of spec §4.1 without holding a
// direct dependency on the whole task-runner package (spec §9's "no cyclic
// ownership" note).
type Scheduler interface {
	ScheduleSummarize(ctx context.Context, namespace, sessionID string) error
	SchedulePromote(ctx context.Context, namespace, sessionID string, messages []model.MemoryMessage, records []model.MemoryRecord) error
}

// Store is the Working-Memory Store capability of spec §4.1.
type Store interface {
	Get(ctx context.Context, namespace, sessionID string) (*model.WorkingMemory, error)
	// Put applies the dedupe/overflow/promotion triggers in order and
	// persists the result, returning the derived WorkingMemoryResponse.
	// expectedVersion, when non-nil, makes the write optimistic: a stored
	// version that has moved on since the caller's last read causes
	// apierr.Conflict.
	Put(ctx context.Context, namespace, sessionID string, wm model.WorkingMemory, expectedVersion *int64) (model.WorkingMemoryResponse, error)
	Delete(ctx context.Context, namespace, sessionID string) error
	List(ctx context.Context, namespace string, limit, offset int) ([]model.SessionKey, int, error)
	// Cfg returns the store's base trigger/derivation configuration, so a
	// caller computing a WorkingMemoryResponse outside of Put (a plain Get)
	// can apply the same percentage formulas.
	Cfg() Config
}

// Config tunes the triggers evaluated by Put.
type Config struct {
	WindowSize                int     // W, spec §4.1
	ContextWindowMax          int
	SummarizationThresholdPct float64
}

// DeriveResponse computes WorkingMemoryResponse's derived percentage fields
// for wm under cfg (spec §4.1). Exported so callers computing a response
// outside of Put - notably a plain Get, which the HTTP/tool-call surfaces
// return as the same WorkingMemoryResponse shape - can reuse it without
// re-deriving the formulas.
func DeriveResponse(wm model.WorkingMemory, cfg Config) model.WorkingMemoryResponse {
	return deriveResponse(wm, cfg)
}

func deriveResponse(wm model.WorkingMemory, cfg Config) model.WorkingMemoryResponse {
	resp := model.WorkingMemoryResponse{WorkingMemory: wm}
	if cfg.ContextWindowMax > 0 {
		resp.ContextPercentageTotalUsed = 100 * float64(wm.Tokens) / float64(cfg.ContextWindowMax)
	}
	threshold := cfg.SummarizationThresholdPct
	if threshold <= 0 {
		threshold = 0.7
	}
	summarizationBudget := threshold * float64(cfg.ContextWindowMax)
	if summarizationBudget > 0 {
		pct := float64(wm.Tokens) / summarizationBudget
		if pct > 1 {
			pct = 1
		}
		resp.ContextPercentageUntilSummarization = 100 * pct
	}
	return resp
}

// dedupeMemories removes repeats of the same MemoryRecord id within
// memories[], keeping the last occurrence, per spec §4.1 step 1.
func dedupeMemories(memories []model.MemoryRecord) []model.MemoryRecord {
	lastIndex := make(map[string]int, len(memories))
	for i, m := range memories {
		lastIndex[m.ID] = i
	}
	out := make([]model.MemoryRecord, 0, len(lastIndex))
	seen := make(map[string]bool, len(lastIndex))
	for i, m := range memories {
		if lastIndex[m.ID] != i {
			continue
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

func clampTTL(ttlSeconds *int64) time.Duration {
	if ttlSeconds == nil || *ttlSeconds <= 0 {
		return 0
	}
	return time.Duration(*ttlSeconds) * time.Second
}
