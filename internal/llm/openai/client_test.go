package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmemory/internal/llm"
)

func TestNewBuildsClientWithTrimmedBaseURL(t *testing.T) {
	t.Parallel()
	c := New("  sk-test  ", "https://example.test/v1/", nil)
	require.NotNil(t, c)
}

func TestNewDefaultsBaseURLWhenEmpty(t *testing.T) {
	t.Parallel()
	c := New("sk-test", "", nil)
	require.NotNil(t, c)
}

func TestToSDKMessagesMapsRoles(t *testing.T) {
	t.Parallel()
	msgs := []llm.Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
		{Role: "", Content: "untagged defaults to user"},
	}
	out := toSDKMessages(msgs)
	assert.Len(t, out, 4)
}
