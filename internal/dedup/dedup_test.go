package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmemory/internal/llm"
	"agentmemory/internal/model"
)

func TestComputeHashIsPureAndNormalizes(t *testing.T) {
	t.Parallel()
	a := ComputeHash("  User Likes Tea  ", "u1", "s1", "ns1")
	b := ComputeHash("user likes tea", "u1", "s1", "ns1")
	assert.Equal(t, a, b, "hash must normalize case/whitespace")

	c := ComputeHash("user likes tea", "u2", "s1", "ns1")
	assert.NotEqual(t, a, c, "different user_id must change the hash")

	d1 := ComputeHash("same text", "u1", "s1", "ns1")
	d2 := ComputeHash("same text", "u1", "s1", "ns1")
	assert.Equal(t, d1, d2, "hash must be deterministic across calls")
}

func TestExactMergeRule(t *testing.T) {
	t.Parallel()
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	existing := model.MemoryRecord{
		ID:            "existing-id",
		CreatedAt:     newer,
		UpdatedAt:     older,
		LastAccessed:  older,
		Topics:        []string{"tea"},
		Entities:      []string{"User"},
		ExtractedFrom: []string{"m1"},
		AccessCount:   2,
		Pinned:        false,
	}
	incoming := model.MemoryRecord{
		ID:            "incoming-id",
		CreatedAt:     older,
		UpdatedAt:     newer,
		LastAccessed:  newer,
		Topics:        []string{"beverages"},
		Entities:      []string{"User"},
		ExtractedFrom: []string{"m2"},
		AccessCount:   3,
		Pinned:        true,
	}

	merged := ExactMerge(existing, incoming)

	assert.Equal(t, "existing-id", merged.ID, "survivor keeps the existing id")
	assert.True(t, merged.CreatedAt.Equal(older), "keeps the older created_at")
	assert.True(t, merged.UpdatedAt.Equal(newer), "keeps the newer updated_at")
	assert.True(t, merged.LastAccessed.Equal(newer), "keeps the newest last_accessed")
	assert.ElementsMatch(t, []string{"tea", "beverages"}, merged.Topics)
	assert.ElementsMatch(t, []string{"User"}, merged.Entities)
	assert.ElementsMatch(t, []string{"m1", "m2"}, merged.ExtractedFrom)
	assert.Equal(t, 5, merged.AccessCount, "access_count sums")
	assert.True(t, merged.Pinned, "pinned survives if either side is pinned")
}

func TestMergeSemanticProducesNewRecordWithUnionedFields(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	older := now.AddDate(0, -1, 0)

	a := model.MemoryRecord{
		ID:            "a",
		Text:          "User prefers dark mode",
		MemoryType:    model.MemoryTypeSemantic,
		UserID:        "u1",
		CreatedAt:     older,
		LastAccessed:  older,
		Topics:        []string{"preferences"},
		ExtractedFrom: []string{"m1"},
	}
	b := model.MemoryRecord{
		ID:            "b",
		Text:          "The user likes dark mode",
		MemoryType:    model.MemoryTypeSemantic,
		UserID:        "u1",
		CreatedAt:     now,
		LastAccessed:  now,
		Topics:        []string{"ui"},
		ExtractedFrom: []string{"m2"},
	}

	merged := MergeSemantic(a, b, "User prefers dark mode", now)

	assert.Equal(t, "User prefers dark mode", merged.Text)
	assert.True(t, merged.CreatedAt.Equal(older), "created_at is the minimum of the two")
	assert.True(t, merged.UpdatedAt.Equal(now))
	assert.ElementsMatch(t, []string{"preferences", "ui"}, merged.Topics)
	assert.ElementsMatch(t, []string{"m1", "m2"}, merged.ExtractedFrom)
	assert.NotEmpty(t, merged.ID)
	assert.NotEqual(t, "a", merged.ID)
	assert.NotEqual(t, "b", merged.ID)
	assert.Equal(t, ComputeHash(merged.Text, merged.UserID, merged.SessionID, merged.Namespace), merged.MemoryHash)
}

type fakeChat struct {
	response string
	err      error
}

func (f *fakeChat) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	return f.response, f.err
}

func TestJudgeParsesDuplicateVerdict(t *testing.T) {
	t.Parallel()
	reg := llm.NewRegistry()
	reg.Register(llm.Provider{Name: "fake", Chat: &fakeChat{response: `{"duplicate": true, "merged_text": "User prefers dark mode"}`}}, "judge-model")

	j := &Judge{Registry: reg, Model: "judge-model"}
	verdict, err := j.Judge(context.Background(), model.MemoryRecord{Text: "a"}, model.MemoryRecord{Text: "b"})
	require.NoError(t, err)
	assert.True(t, verdict.Duplicate)
	assert.Equal(t, "User prefers dark mode", verdict.MergedText)
}

func TestJudgeParsesNonDuplicateVerdict(t *testing.T) {
	t.Parallel()
	reg := llm.NewRegistry()
	reg.Register(llm.Provider{Name: "fake", Chat: &fakeChat{response: `{"duplicate": false}`}}, "judge-model")

	j := &Judge{Registry: reg, Model: "judge-model"}
	verdict, err := j.Judge(context.Background(), model.MemoryRecord{Text: "a"}, model.MemoryRecord{Text: "b"})
	require.NoError(t, err)
	assert.False(t, verdict.Duplicate)
}

func TestJudgeRejectsUnparsableResponse(t *testing.T) {
	t.Parallel()
	reg := llm.NewRegistry()
	reg.Register(llm.Provider{Name: "fake", Chat: &fakeChat{response: "not json at all"}}, "judge-model")

	j := &Judge{Registry: reg, Model: "judge-model"}
	_, err := j.Judge(context.Background(), model.MemoryRecord{Text: "a"}, model.MemoryRecord{Text: "b"})
	assert.Error(t, err)
}
