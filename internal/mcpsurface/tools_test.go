package mcpsurface

import (
	"context"
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

func newTestService(t *testing.T) *memoryd.Service {
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

	return memoryd.New(working, engine, config.DefaultMergeConfig())
}

func TestNewServerRegistersWithoutPanicking(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	server := NewServer(svc)
	require.NotNil(t, server)
}

func TestSessionGetInputDecodesOverrides(t *testing.T) {
	t.Parallel()
	in := sessionGetInput{
		Namespace:        "ns",
		SessionID:        "s1",
		WindowSize:       5,
		ModelName:        "gpt",
		ContextWindowMax: 1000,
	}
	overrides := memoryd.SessionQueryOverrides{
		WindowSize:       in.WindowSize,
		ModelName:        in.ModelName,
		ContextWindowMax: in.ContextWindowMax,
	}
	assert.Equal(t, 5, overrides.WindowSize)
	assert.Equal(t, "gpt", overrides.ModelName)
	assert.Equal(t, 1000, overrides.ContextWindowMax)
}

func TestSessionPutInputCarriesExpectedVersion(t *testing.T) {
	t.Parallel()
	v := int64(3)
	in := sessionPutInput{
		Namespace:       "ns",
		SessionID:       "s1",
		WorkingMemory:   model.WorkingMemory{Context: "hello"},
		ExpectedVersion: &v,
	}
	require.NotNil(t, in.ExpectedVersion)
	assert.Equal(t, int64(3), *in.ExpectedVersion)
	assert.Equal(t, "hello", in.WorkingMemory.Context)
}
