package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmemory/internal/config"
	"agentmemory/internal/llm"
	"agentmemory/internal/ltm"
	"agentmemory/internal/memoryd"
	"agentmemory/internal/model"
	"agentmemory/internal/vectorstore"
	"agentmemory/internal/workingmemory"
)

type noopScheduler struct{}

func (noopScheduler) ScheduleSummarize(ctx context.Context, namespace, sessionID string) error {
	return nil
}
func (noopScheduler) SchedulePromote(ctx context.Context, namespace, sessionID string, messages []model.MemoryMessage, records []model.MemoryRecord) error {
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string, m string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	wmCfg := workingmemory.Config{WindowSize: 20, ContextWindowMax: 8192, SummarizationThresholdPct: 0.7}
	working := workingmemory.NewMemoryStore(wmCfg, noopScheduler{})

	reg := llm.NewRegistry()
	reg.Register(llm.Provider{Name: "fake", Embedder: fakeEmbedder{}}, "embed-model")
	reg.SetDefaultEmbed("embed-model")

	cfg := config.DefaultMemoryConfig()
	engine := ltm.New(ltm.Deps{
		Adapter:       vectorstore.NewMemoryAdapter(),
		Registry:      reg,
		EmbedModel:    "embed-model",
		HashIndex:     ltm.NewMemoryHashIndex(),
		Config:        cfg,
		RerankDefault: cfg.RerankWeights,
	})

	svc := memoryd.New(working, engine, config.DefaultMergeConfig())
	return NewServer(svc)
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReturnsOK(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out, "now")
}

func TestHandlePutThenGetSessionRoundTrips(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	wm := model.WorkingMemory{Messages: []model.MemoryMessage{{ID: "m1", Role: "user", Content: "hi there"}}}
	rec := doRequest(s, http.MethodPut, "/sessions/s1/memory?namespace=ns", wm)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(s, http.MethodGet, "/sessions/s1/memory?namespace=ns", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.WorkingMemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi there", got.Messages[0].Content)
}

func TestHandleGetSessionMissingReturns404(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/sessions/missing/memory?namespace=ns", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out, "error")
}

func TestHandlePutSessionRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/sessions/s1/memory?namespace=ns", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePutSessionRejectsInvalidExpectedVersion(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPut, "/sessions/s1/memory?namespace=ns&expected_version=not-a-number", model.WorkingMemory{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_ = doRequest(s, http.MethodPut, "/sessions/s1/memory?namespace=ns", model.WorkingMemory{})

	rec := doRequest(s, http.MethodDelete, "/sessions/s1/memory?namespace=ns", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/sessions/s1/memory?namespace=ns", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListSessions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_ = doRequest(s, http.MethodPut, "/sessions/s1/memory?namespace=ns", model.WorkingMemory{})
	_ = doRequest(s, http.MethodPut, "/sessions/s2/memory?namespace=ns", model.WorkingMemory{})

	rec := doRequest(s, http.MethodGet, "/sessions/?namespace=ns", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out model.SessionList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Total)
}

func TestHandleIndexAndSearchLongTermMemories(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := map[string]any{
		"memories": []model.MemoryRecord{{Text: "User likes coffee", UserID: "u1"}},
	}
	rec := doRequest(s, http.MethodPost, "/long-term-memory", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(s, http.MethodPost, "/long-term-memory/search", model.SearchQuery{Text: "coffee"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out model.MemoryRecordResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Memories, 1)
	assert.Equal(t, "User likes coffee", out.Memories[0].Text)
}

func TestHandleSearchLongTermRejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/long-term-memory/search", model.SearchQuery{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchMergedRequiresNamespaceAndText(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_ = doRequest(s, http.MethodPut, "/sessions/s1/memory?namespace=ns", model.WorkingMemory{
		Messages: []model.MemoryMessage{{ID: "m1", Role: "user", Content: "I love tea"}},
	})

	rec := doRequest(s, http.MethodPost, "/memory/search?namespace=ns", model.SearchQuery{Text: "tea"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out model.MemoryRecordResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Memories)
}

func TestHandleMemoryPromptAssemblesMessages(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_ = doRequest(s, http.MethodPut, "/sessions/s1/memory?namespace=ns", model.WorkingMemory{
		Messages: []model.MemoryMessage{{ID: "m1", Role: "user", Content: "hi"}},
	})

	req := memoryd.PromptRequest{
		Query:   "what's up?",
		Session: &model.SessionKey{Namespace: "ns", SessionID: "s1"},
	}
	rec := doRequest(s, http.MethodPost, "/memory-prompt", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Messages []llm.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Messages)
	assert.Equal(t, "what's up?", out.Messages[len(out.Messages)-1].Content)
}
