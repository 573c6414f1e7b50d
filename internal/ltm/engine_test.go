package ltm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmemory/internal/config"
	"agentmemory/internal/dedup"
	"agentmemory/internal/llm"
	"agentmemory/internal/model"
	"agentmemory/internal/vectorstore"
)

// fakeEmbedder returns the same fixed vector for every text, so any two
// records embedded through it land at cosine distance 0 - close enough to
// trigger the semantic-dedup path regardless of their text.
type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeChat struct {
	response string
}

func (f *fakeChat) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	return f.response, nil
}

func newTestEngine(t *testing.T, dedupJudgeResponse string) (*Engine, *vectorstore.MemoryAdapter, *MemoryHashIndex) {
	t.Helper()
	adapter := vectorstore.NewMemoryAdapter()
	hashIndex := NewMemoryHashIndex()

	reg := llm.NewRegistry()
	reg.Register(llm.Provider{
		Name:     "fake",
		Chat:     &fakeChat{response: dedupJudgeResponse},
		Embedder: &fakeEmbedder{vector: []float32{1, 0, 0}},
	}, "embed-model")
	reg.SetDefaultEmbed("embed-model")

	cfg := config.DefaultMemoryConfig()
	cfg.SemanticDupThreshold = 0.12

	var judge *dedup.Judge
	if dedupJudgeResponse != "" {
		judge = &dedup.Judge{Registry: reg, Model: "embed-model"}
	}

	e := New(Deps{
		Adapter:       adapter,
		Registry:      reg,
		EmbedModel:    "embed-model",
		HashIndex:     hashIndex,
		DedupJudge:    judge,
		Config:        cfg,
		RerankDefault: cfg.RerankWeights,
	})
	return e, adapter, hashIndex
}

func TestIndexExactHashDedupMergesAccessCount(t *testing.T) {
	t.Parallel()
	e, adapter, _ := newTestEngine(t, "")
	ctx := context.Background()

	a := model.MemoryRecord{Text: "User likes tea", UserID: "u1", AccessCount: 1}
	persistedA, err := e.Index(ctx, []model.MemoryRecord{a}, true)
	require.NoError(t, err)
	require.Len(t, persistedA, 1)

	b := model.MemoryRecord{Text: "User likes tea", UserID: "u1", AccessCount: 1}
	persistedB, err := e.Index(ctx, []model.MemoryRecord{b}, true)
	require.NoError(t, err)
	require.Len(t, persistedB, 1)
	assert.Equal(t, persistedA[0].ID, persistedB[0].ID, "second index call merges into the first record's id")

	results, err := adapter.Search(ctx, vectorstore.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results.Memories, 1, "dedup must not create a second stored record")
	assert.GreaterOrEqual(t, results.Memories[0].Record.AccessCount, 2)
}

func TestIndexSemanticDedupMergesNearDuplicates(t *testing.T) {
	t.Parallel()
	e, adapter, _ := newTestEngine(t, `{"duplicate": true, "merged_text": "User prefers dark mode"}`)
	ctx := context.Background()

	a := model.MemoryRecord{Text: "User prefers dark mode", UserID: "u1", Namespace: "ns1"}
	_, err := e.Index(ctx, []model.MemoryRecord{a}, true)
	require.NoError(t, err)

	b := model.MemoryRecord{Text: "The user likes dark mode", UserID: "u1", Namespace: "ns1"}
	persistedB, err := e.Index(ctx, []model.MemoryRecord{b}, true)
	require.NoError(t, err)
	require.Len(t, persistedB, 1)
	assert.Equal(t, "User prefers dark mode", persistedB[0].Text)

	results, err := adapter.Search(ctx, vectorstore.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results.Memories, 1, "semantic dedup collapses both originals into one record")
}

func TestIndexSemanticDedupFallsBackToIndependentIndexOnNonDuplicate(t *testing.T) {
	t.Parallel()
	e, adapter, _ := newTestEngine(t, `{"duplicate": false}`)
	ctx := context.Background()

	a := model.MemoryRecord{Text: "User prefers dark mode", UserID: "u1", Namespace: "ns1"}
	_, err := e.Index(ctx, []model.MemoryRecord{a}, true)
	require.NoError(t, err)

	b := model.MemoryRecord{Text: "User lives in Paris", UserID: "u1", Namespace: "ns1"}
	_, err = e.Index(ctx, []model.MemoryRecord{b}, true)
	require.NoError(t, err)

	results, err := adapter.Search(ctx, vectorstore.Query{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results.Memories, 2, "non-duplicate verdict indexes both records independently")
}

func TestIndexAssignsIDAndHash(t *testing.T) {
	t.Parallel()
	e, _, hashIndex := newTestEngine(t, "")
	ctx := context.Background()

	persisted, err := e.Index(ctx, []model.MemoryRecord{{Text: "a fresh fact", UserID: "u1"}}, true)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.NotEmpty(t, persisted[0].ID)
	assert.NotEmpty(t, persisted[0].MemoryHash)

	id, ok, err := hashIndex.Lookup(ctx, persisted[0].MemoryHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, persisted[0].ID, id)
}

func TestSearchAppliesLimitAndFilters(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Index(ctx, []model.MemoryRecord{{
			Text: "fact number " + string(rune('a'+i)), UserID: "u1", Namespace: "ns1",
		}}, false)
		require.NoError(t, err)
	}

	results, err := e.Search(ctx, model.SearchQuery{
		Filters: []model.Filter{{Field: model.FieldNamespace, Op: model.OpEq, Value: "ns1"}},
		Limit:   3,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results.Memories), 3)
	assert.Equal(t, 5, results.Total)
}

func TestSearchRejectsInvalidFilter(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, "")
	_, err := e.Search(context.Background(), model.SearchQuery{
		Filters: []model.Filter{{Field: model.FieldTopics, Op: model.OpEq, Value: "x"}},
	})
	assert.Error(t, err)
}

func TestDeleteRemovesFromAdapterAndHashIndex(t *testing.T) {
	t.Parallel()
	e, adapter, hashIndex := newTestEngine(t, "")
	ctx := context.Background()

	persisted, err := e.Index(ctx, []model.MemoryRecord{{Text: "to be deleted", UserID: "u1"}}, true)
	require.NoError(t, err)
	id := persisted[0].ID
	hash := persisted[0].MemoryHash

	n, err := e.Delete(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := adapter.GetByID(ctx, []string{id})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err := hashIndex.Lookup(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEditRecomputesHashOnTextChange(t *testing.T) {
	t.Parallel()
	e, _, hashIndex := newTestEngine(t, "")
	ctx := context.Background()

	persisted, err := e.Index(ctx, []model.MemoryRecord{{Text: "original text", UserID: "u1"}}, true)
	require.NoError(t, err)
	original := persisted[0]

	edited, err := e.Edit(ctx, original.ID, model.MemoryRecord{Text: "edited text"})
	require.NoError(t, err)
	assert.Equal(t, "edited text", edited.Text)
	assert.NotEqual(t, original.MemoryHash, edited.MemoryHash)

	_, ok, err := hashIndex.Lookup(ctx, original.MemoryHash)
	require.NoError(t, err)
	assert.False(t, ok, "old hash is removed")

	id, ok, err := hashIndex.Lookup(ctx, edited.MemoryHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, original.ID, id)
}

func TestEditMissingRecordReturnsNotFound(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, "")
	_, err := e.Edit(context.Background(), "does-not-exist", model.MemoryRecord{Text: "x"})
	assert.Error(t, err)
}
