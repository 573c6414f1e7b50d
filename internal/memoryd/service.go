package memoryd

import (
	"context"
	"sort"
	"strings"
	"time"

	"agentmemory/internal/apierr"
	"agentmemory/internal/config"
	"agentmemory/internal/llm"
	"agentmemory/internal/ltm"
	"agentmemory/internal/model"
	"agentmemory/internal/prompt"
	"agentmemory/internal/workingmemory"
)

// Service is the transport-agnostic facade the HTTP and tool-call surfaces
// share (spec §6), mirroring the way the teacher's cmd/agentd handlers all
// call into a single agentd.Server rather than talking to stores directly.
type Service struct {
	Working workingmemory.Store
	LongTerm *ltm.Engine
	Merge   config.RerankSearchMergeConfig
}

// New builds a Service.
func New(working workingmemory.Store, longTerm *ltm.Engine, merge config.RerankSearchMergeConfig) *Service {
	return &Service{Working: working, LongTerm: longTerm, Merge: merge}
}

// SessionQueryOverrides carries GET /sessions/{id}/memory's optional query
// params (spec §6.1): window_size trims the returned tail without
// persisting the trim, model_name/context_window_max override the base
// store config used to compute the derived percentage fields.
type SessionQueryOverrides struct {
	WindowSize       int
	ModelName        string
	ContextWindowMax int
}

// GetSession fetches a session's WorkingMemoryResponse, applying the same
// derived-percentage formulas Put applies (spec §4.1) so GET and PUT return
// the identically-shaped response.
func (s *Service) GetSession(ctx context.Context, namespace, sessionID string, overrides SessionQueryOverrides) (model.WorkingMemoryResponse, error) {
	wm, err := s.Working.Get(ctx, namespace, sessionID)
	if err != nil {
		return model.WorkingMemoryResponse{}, err
	}
	if wm == nil {
		return model.WorkingMemoryResponse{}, apierr.NotFound("session not found", nil)
	}

	cfg := s.Working.Cfg()
	if overrides.ContextWindowMax > 0 {
		cfg.ContextWindowMax = overrides.ContextWindowMax
	}
	if overrides.WindowSize > 0 && len(wm.Messages) > overrides.WindowSize {
		tail := append([]model.MemoryMessage(nil), wm.Messages[len(wm.Messages)-overrides.WindowSize:]...)
		wm.Messages = tail
	}
	return workingmemory.DeriveResponse(*wm, cfg), nil
}

// PutSession writes a session's working memory, applying optimistic
// concurrency when expectedVersion is non-nil.
func (s *Service) PutSession(ctx context.Context, namespace, sessionID string, wm model.WorkingMemory, expectedVersion *int64) (model.WorkingMemoryResponse, error) {
	return s.Working.Put(ctx, namespace, sessionID, wm, expectedVersion)
}

// DeleteSession removes a session's working memory.
func (s *Service) DeleteSession(ctx context.Context, namespace, sessionID string) error {
	return s.Working.Delete(ctx, namespace, sessionID)
}

// ListSessions lists sessions in a namespace.
func (s *Service) ListSessions(ctx context.Context, namespace string, limit, offset int) (model.SessionList, error) {
	keys, total, err := s.Working.List(ctx, namespace, limit, offset)
	if err != nil {
		return model.SessionList{}, err
	}
	return model.SessionList{Sessions: keys, Total: total}, nil
}

// IndexMemories indexes new long-term records.
func (s *Service) IndexMemories(ctx context.Context, records []model.MemoryRecord) ([]model.MemoryRecord, error) {
	return s.LongTerm.Index(ctx, records, true)
}

// SearchLongTerm runs a long-term-only search.
func (s *Service) SearchLongTerm(ctx context.Context, q model.SearchQuery) (model.MemoryRecordResults, error) {
	if strings.TrimSpace(q.Text) == "" && len(q.Filters) == 0 {
		return model.MemoryRecordResults{}, apierr.InvalidInput("search requires text or filters", nil)
	}
	return s.LongTerm.Search(ctx, q)
}

// substringScore is spec §9's textual-match score for working-memory hits:
// when the query occurs (case-insensitively) as a contiguous substring, the
// score is len(query)/(len(haystack)+len(query)), which lies in (0, 0.5];
// 0 when the query is empty or does not occur at all.
func substringScore(haystack, query string) float64 {
	if query == "" {
		return 0
	}
	h := strings.ToLower(haystack)
	q := strings.ToLower(query)
	if !strings.Contains(h, q) {
		return 0
	}
	return float64(len(q)) / float64(len(h)+len(q))
}

// SearchMerged implements /memory/search (spec §6.1): substring-matched
// working memory across sessions (optionally filtered by session_id) merged
// with long-term semantic search, weighted-sum combined per spec §9's
// documented default (0.5/0.5), each hit tagged with its Origin.
func (s *Service) SearchMerged(ctx context.Context, namespace string, q model.SearchQuery) (model.MemoryRecordResults, error) {
	if strings.TrimSpace(q.Text) == "" {
		return model.MemoryRecordResults{}, apierr.InvalidInput("search requires text", nil)
	}

	var sessionFilter string
	for _, f := range q.Filters {
		if f.Field == model.FieldSessionID && f.Op == model.OpEq {
			if sid, ok := f.Value.(string); ok {
				sessionFilter = sid
			}
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var workingHits []model.ScoredRecord
	sessions, _, err := s.Working.List(ctx, namespace, 0, 0)
	if err != nil {
		return model.MemoryRecordResults{}, err
	}
	for _, sk := range sessions {
		if sessionFilter != "" && sk.SessionID != sessionFilter {
			continue
		}
		wm, err := s.Working.Get(ctx, namespace, sk.SessionID)
		if err != nil || wm == nil {
			continue
		}
		for _, m := range wm.Messages {
			score := substringScore(m.Content, q.Text)
			if score <= 0 {
				continue
			}
			final := s.Merge.WorkingWeight * score
			workingHits = append(workingHits, model.ScoredRecord{
				MemoryRecord: model.MemoryRecord{
					ID:         m.ID,
					Text:       m.Content,
					MemoryType: model.MemoryTypeMessage,
					SessionID:  sk.SessionID,
					Namespace:  namespace,
				},
				Final:  &final,
				Origin: "working",
			})
		}
	}

	longTermQuery := q
	longTermQuery.Rerank = true
	ltResults, err := s.LongTerm.Search(ctx, longTermQuery)
	if err != nil {
		return model.MemoryRecordResults{}, err
	}
	for i := range ltResults.Memories {
		final := s.Merge.LongTermWeight
		if ltResults.Memories[i].Final != nil {
			final *= *ltResults.Memories[i].Final
		}
		ltResults.Memories[i].Final = &final
		ltResults.Memories[i].Origin = "long_term"
	}

	merged := append(workingHits, ltResults.Memories...)
	sort.SliceStable(merged, func(i, j int) bool {
		fi, fj := 0.0, 0.0
		if merged[i].Final != nil {
			fi = *merged[i].Final
		}
		if merged[j].Final != nil {
			fj = *merged[j].Final
		}
		return fi > fj
	})
	if limit < len(merged) {
		merged = merged[:limit]
	}

	return model.MemoryRecordResults{Memories: merged, Total: len(merged)}, nil
}

// DeleteMemories deletes long-term records by id.
func (s *Service) DeleteMemories(ctx context.Context, ids []string) (int, error) {
	return s.LongTerm.Delete(ctx, ids)
}

// EditMemory applies a partial update to a long-term record.
func (s *Service) EditMemory(ctx context.Context, id string, patch model.MemoryRecord) (model.MemoryRecord, error) {
	return s.LongTerm.Edit(ctx, id, patch)
}

// PromptRequest is the body of POST /memory-prompt.
type PromptRequest struct {
	Query          string            `json:"query"`
	Session        *model.SessionKey `json:"session,omitempty"`
	LongTermSearch *model.SearchQuery `json:"long_term_search,omitempty"`
}

// HydratePrompt implements /memory-prompt: fetch the named session's working
// memory (if any), run the optional long-term search, and assemble the LLM
// message list via the Prompt Hydrator (C11).
func (s *Service) HydratePrompt(ctx context.Context, req PromptRequest) ([]llm.Message, error) {
	var wm *model.WorkingMemory
	if req.Session != nil {
		fetched, err := s.Working.Get(ctx, req.Session.Namespace, req.Session.SessionID)
		if err != nil {
			return nil, err
		}
		wm = fetched
	}

	var longTerm []model.ScoredRecord
	if req.LongTermSearch != nil {
		results, err := s.LongTerm.Search(ctx, *req.LongTermSearch)
		if err != nil {
			return nil, err
		}
		longTerm = results.Memories
	}

	return prompt.Hydrate(req.Query, wm, longTerm), nil
}

// Now returns the current time, used by GET /health.
func Now() time.Time { return time.Now().UTC() }
