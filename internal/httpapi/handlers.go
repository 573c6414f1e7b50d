package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"agentmemory/internal/apierr"
	"agentmemory/internal/memoryd"
	"agentmemory/internal/model"
)

// statusFromError maps a classified error to spec §6.3's HTTP status codes,
// delegating to apierr.ClassifyHTTPStatus so the 429-vs-503 rate-limit
// distinction on Transient errors lives in one place.
func statusFromError(err error) int {
	return apierr.ClassifyHTTPStatus(err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"now": memoryd.Now().UnixMilli()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	out, err := s.service.ListSessions(r.Context(), q.Get("namespace"), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	q := r.URL.Query()
	windowSize, _ := strconv.Atoi(q.Get("window_size"))
	contextWindowMax, _ := strconv.Atoi(q.Get("context_window_max"))
	overrides := memoryd.SessionQueryOverrides{
		WindowSize:       windowSize,
		ModelName:        q.Get("model_name"),
		ContextWindowMax: contextWindowMax,
	}
	resp, err := s.service.GetSession(r.Context(), q.Get("namespace"), sessionID, overrides)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	namespace := r.URL.Query().Get("namespace")
	var wm model.WorkingMemory
	if err := json.NewDecoder(r.Body).Decode(&wm); err != nil {
		respondError(w, apierr.InvalidInput("decode working memory body", err))
		return
	}
	var expectedVersion *int64
	if v := r.URL.Query().Get("expected_version"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, apierr.InvalidInput("invalid expected_version", err))
			return
		}
		expectedVersion = &parsed
	}
	resp, err := s.service.PutSession(r.Context(), namespace, sessionID, wm, expectedVersion)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	namespace := r.URL.Query().Get("namespace")
	if err := s.service.DeleteSession(r.Context(), namespace, sessionID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndexMemories(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Memories []model.MemoryRecord `json:"memories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apierr.InvalidInput("decode index body", err))
		return
	}
	if _, err := s.service.IndexMemories(r.Context(), body.Memories); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearchLongTerm(w http.ResponseWriter, r *http.Request) {
	var q model.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		respondError(w, apierr.InvalidInput("decode search request", err))
		return
	}
	results, err := s.service.SearchLongTerm(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleSearchMerged(w http.ResponseWriter, r *http.Request) {
	var q model.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		respondError(w, apierr.InvalidInput("decode search request", err))
		return
	}
	namespace := r.URL.Query().Get("namespace")
	results, err := s.service.SearchMerged(r.Context(), namespace, q)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleMemoryPrompt(w http.ResponseWriter, r *http.Request) {
	var req memoryd.PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.InvalidInput("decode memory-prompt request", err))
		return
	}
	messages, err := s.service.HydratePrompt(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
