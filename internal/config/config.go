// Package config loads the memory service's configuration from environment
// variables (optionally seeded by a YAML file and a local .env), following
// the env-first-then-defaults shape the teacher's loader used.
package config

import "time"

// ObsConfig configures OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string // empty disables tracing/metrics export
}

// RedisConfig configures the Working-Memory Store and the task runner's
// dedupe/coalescing locks.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QdrantConfig configures the primary VectorStoreAdapter backend.
type QdrantConfig struct {
	DSN        string // host:port, optionally with api_key= query param
	Collection string
	Dimensions int
	Metric     string // cosine|dot|l2|manhattan
}

// PostgresConfig configures the optional C8 audit mirror. Empty DSN disables
// it.
type PostgresConfig struct {
	DSN string
}

// ClickHouseConfig configures the optional C9 analytics sink. Empty Addr
// disables it.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// S3SSEConfig configures optional server-side encryption for archived
// WorkingMemory blobs.
type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

// S3Config configures the optional cold-archival object store. Empty Bucket
// disables archival.
type S3Config struct {
	Bucket                string
	Region                string
	Endpoint              string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	EmbedModel string
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	EmbedModel string
}

// RetryPolicy is the shared backoff knob set used by synchronous provider
// calls and the task runner alike (spec §9).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64
}

// DefaultRetryPolicy matches spec §4.10: base 1s, factor 2, jitter ±20%,
// 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, JitterFrac: 0.2}
}

// MemoryConfig holds the tunables named throughout spec §4.
type MemoryConfig struct {
	WindowSize               int           // W, spec §4.1
	SummarizationThresholdPct float64      // default 0.7 of context window
	TailBudgetPct             float64      // default 0.3 of context window
	SummaryTokenBudget         int         // default 512
	ContextWindowMax            int        // default model context window
	SemanticDupThreshold         float64   // default 0.12, spec §4.6
	RecencyOverfetch              int       // extra candidates fetched before rerank
	AccessTouchCooldown            time.Duration // default 60s, spec §4.6/§9
	TopKTopics                      int      // default topic count requested of the LLM
	RerankWeights RerankWeightsConfig
}

// RerankWeightsConfig is the default C9 fusion weight set (spec §4.9).
type RerankWeightsConfig struct {
	Semantic  float64
	Recency   float64
	Freshness float64
	Novelty   float64
	HalfLifeAccessDays float64
	HalfLifeCreateDays  float64
	PinnedBonus          float64
}

// DefaultMemoryConfig matches the numeric defaults named throughout spec §4.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		WindowSize:                20,
		SummarizationThresholdPct: 0.7,
		TailBudgetPct:             0.3,
		SummaryTokenBudget:        512,
		ContextWindowMax:          8192,
		SemanticDupThreshold:      0.12,
		RecencyOverfetch:          20,
		AccessTouchCooldown:       60 * time.Second,
		TopKTopics:                5,
		RerankWeights: RerankWeightsConfig{
			Semantic: 0.7, Recency: 0.3, Freshness: 0.6, Novelty: 0.4,
			HalfLifeAccessDays: 7, HalfLifeCreateDays: 30, PinnedBonus: 0.1,
		},
	}
}

// TaskRunnerConfig tunes C10.
type TaskRunnerConfig struct {
	MaxWorkers   int
	QueueSize    int
	DrainTimeout time.Duration
	Retry        RetryPolicy
}

// Timeouts holds the per-call-kind timeouts of spec §5.
type Timeouts struct {
	LLM       time.Duration
	Embedding time.Duration
	Vector    time.Duration
}

// DefaultTimeouts matches spec §5: 30s LLM, 10s embedding, 5s vector store.
func DefaultTimeouts() Timeouts {
	return Timeouts{LLM: 30 * time.Second, Embedding: 10 * time.Second, Vector: 5 * time.Second}
}

// Config is the fully resolved configuration for cmd/memoryserver.
type Config struct {
	HTTPAddr string

	Obs       ObsConfig
	Redis     RedisConfig
	Qdrant    QdrantConfig
	Postgres  PostgresConfig
	ClickHouse ClickHouseConfig
	S3        S3Config

	ChatProvider  string // "openai" | "anthropic" | "google", selects the default chat model
	EmbedProvider string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig

	Memory   MemoryConfig
	Runner   TaskRunnerConfig
	Timeouts Timeouts
	Merge    RerankSearchMergeConfig
}

// RerankSearchMergeConfig resolves the §9 open question on combining
// working-memory substring hits with long-term semantic hits in
// /memory/search.
type RerankSearchMergeConfig struct {
	WorkingWeight  float64
	LongTermWeight float64
}

// DefaultMergeConfig is the 0.5/0.5 default named in spec §9.
func DefaultMergeConfig() RerankSearchMergeConfig {
	return RerankSearchMergeConfig{WorkingWeight: 0.5, LongTermWeight: 0.5}
}
