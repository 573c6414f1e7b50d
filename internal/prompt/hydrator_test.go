package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmemory/internal/model"
)

func TestHydrateOrdersSummaryMessagesAndQuery(t *testing.T) {
	t.Parallel()
	wm := &model.WorkingMemory{
		Context: "User asked about trip planning.",
		Messages: []model.MemoryMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}
	longTerm := []model.ScoredRecord{
		{MemoryRecord: model.MemoryRecord{Text: "User likes tea"}},
		{MemoryRecord: model.MemoryRecord{Text: "User lives in Paris"}},
	}

	out := Hydrate("what should I pack?", wm, longTerm)

	require.Len(t, out, 5)
	assert.Equal(t, "system", out[0].Role)
	assert.Contains(t, out[0].Content, "Summary of prior conversation:")
	assert.Contains(t, out[0].Content, "trip planning")

	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "hi", out[1].Content)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "hello", out[2].Content)

	assert.Equal(t, "system", out[3].Role)
	assert.Contains(t, out[3].Content, "Long term memories related to the user's query:")
	assert.Contains(t, out[3].Content, "- User likes tea")
	assert.Contains(t, out[3].Content, "- User lives in Paris")

	assert.Equal(t, "user", out[4].Role)
	assert.Equal(t, "what should I pack?", out[4].Content)
}

func TestHydrateWithNoSessionOrLongTerm(t *testing.T) {
	t.Parallel()
	out := Hydrate("hello", nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "hello", out[0].Content)
}

func TestHydrateSkipsEmptyContext(t *testing.T) {
	t.Parallel()
	wm := &model.WorkingMemory{Context: "   ", Messages: nil}
	out := Hydrate("q", wm, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "user", out[0].Role)
}
