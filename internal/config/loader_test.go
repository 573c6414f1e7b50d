package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearAgentEnv wipes every env var applyEnv reads so tests observe only the
// built-in defaults plus whatever the test itself sets with t.Setenv.
func clearAgentEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"AGENTMEMORY_HTTP_ADDR", "AGENTMEMORY_SERVICE_NAME", "AGENTMEMORY_ENV", "AGENTMEMORY_OTLP_ENDPOINT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"QDRANT_DSN", "QDRANT_COLLECTION", "QDRANT_DIMENSIONS", "QDRANT_METRIC",
		"AUDIT_POSTGRES_DSN",
		"CLICKHOUSE_ADDR", "CLICKHOUSE_DATABASE", "CLICKHOUSE_USERNAME", "CLICKHOUSE_PASSWORD",
		"ARCHIVE_S3_BUCKET", "ARCHIVE_S3_REGION", "ARCHIVE_S3_ENDPOINT", "ARCHIVE_S3_PREFIX",
		"ARCHIVE_S3_ACCESS_KEY", "ARCHIVE_S3_SECRET_KEY", "ARCHIVE_S3_PATH_STYLE",
		"ARCHIVE_S3_SSE_MODE", "ARCHIVE_S3_SSE_KMS_KEY_ID",
		"AGENTMEMORY_CHAT_PROVIDER", "AGENTMEMORY_EMBED_PROVIDER",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_EMBED_MODEL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_MODEL",
		"GOOGLE_API_KEY", "GOOGLE_BASE_URL", "GOOGLE_MODEL", "GOOGLE_EMBED_MODEL",
		"AGENTMEMORY_WINDOW_SIZE", "AGENTMEMORY_CONTEXT_WINDOW_MAX", "AGENTMEMORY_SEMANTIC_DUP_THRESHOLD",
		"AGENTMEMORY_TASK_WORKERS",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestLoadAppliesBuiltinDefaultsWithNoOverrides(t *testing.T) {
	clearAgentEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory_records", cfg.Qdrant.Collection)
	assert.Equal(t, 1536, cfg.Qdrant.Dimensions)
	assert.Equal(t, "cosine", cfg.Qdrant.Metric)
	assert.Equal(t, "openai", cfg.ChatProvider)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, DefaultMemoryConfig().WindowSize, cfg.Memory.WindowSize)
	assert.Equal(t, DefaultRetryPolicy(), cfg.Runner.Retry)
}

func TestLoadEnvOverridesBuiltinDefaults(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("AGENTMEMORY_HTTP_ADDR", ":9090")
	t.Setenv("AGENTMEMORY_WINDOW_SIZE", "50")
	t.Setenv("QDRANT_DSN", "qdrant.internal:6334")
	t.Setenv("AGENTMEMORY_CHAT_PROVIDER", "anthropic")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 50, cfg.Memory.WindowSize)
	assert.Equal(t, "qdrant.internal:6334", cfg.Qdrant.DSN)
	assert.Equal(t, "anthropic", cfg.ChatProvider)
}

func TestLoadYAMLSeedsDefaultsButEnvTakesPrecedence(t *testing.T) {
	clearAgentEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "http_addr: \":7070\"\nmemory:\n  window_size: 15\nqdrant:\n  dsn: \"from-yaml:6334\"\n  collection: \"yaml_collection\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	t.Setenv("QDRANT_COLLECTION", "env_collection")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr, "yaml value used when env is unset")
	assert.Equal(t, 15, cfg.Memory.WindowSize)
	assert.Equal(t, "from-yaml:6334", cfg.Qdrant.DSN)
	assert.Equal(t, "env_collection", cfg.Qdrant.Collection, "env overrides yaml")
}

func TestLoadMissingYAMLFileIsNotFatal(t *testing.T) {
	clearAgentEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestParseIntFallsBackToDefaultOnInvalidInput(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 5, parseInt("", 5))
	assert.Equal(t, 5, parseInt("not-a-number", 5))
	assert.Equal(t, 42, parseInt("42", 5))
}

func TestParseFloatFallsBackToDefaultOnInvalidInput(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.5, parseFloat("", 0.5))
	assert.Equal(t, 0.5, parseFloat("nope", 0.5))
	assert.Equal(t, 0.25, parseFloat("0.25", 0.5))
}

func TestParseBoolFallsBackToDefaultOnInvalidInput(t *testing.T) {
	t.Parallel()
	assert.True(t, parseBool("", true))
	assert.True(t, parseBool("garbage", true))
	assert.False(t, parseBool("false", true))
}

func TestFirstNonEmptyReturnsFirstNonBlank(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", "  "))
}
