package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUsesDefaultChatWhenModelEmpty(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register(Provider{Name: "fake"}, "chat-a")
	reg.SetDefaultChat("chat-a")

	p, model, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "chat-a", model)
	assert.Equal(t, "fake", p.Name)
}

func TestResolveUnknownModelErrors(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	_, _, err := reg.Resolve("missing")
	assert.Error(t, err)
}

func TestResolveEmbedderUsesDefaultEmbedWhenModelEmpty(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	embedder := fakeEmbedderStub{}
	reg.Register(Provider{Name: "fake", Embedder: embedder}, "embed-a")
	reg.SetDefaultEmbed("embed-a")

	e, model, err := reg.ResolveEmbedder("")
	require.NoError(t, err)
	assert.Equal(t, "embed-a", model)
	assert.Equal(t, embedder, e)
}

func TestResolveEmbedderRejectsNonEmbeddingProvider(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register(Provider{Name: "chat-only"}, "chat-a")
	_, _, err := reg.ResolveEmbedder("chat-a")
	assert.Error(t, err)
}

func TestRegisterAssociatesMultipleModelNames(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register(Provider{Name: "fake"}, "model-a", "model-b")

	_, m1, err := reg.Resolve("model-a")
	require.NoError(t, err)
	assert.Equal(t, "model-a", m1)

	_, m2, err := reg.Resolve("model-b")
	require.NoError(t, err)
	assert.Equal(t, "model-b", m2)
}

type fakeEmbedderStub struct{}

func (fakeEmbedderStub) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, nil
}
