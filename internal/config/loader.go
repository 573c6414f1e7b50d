package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// yamlDefaults mirrors the subset of Config that can be seeded from a YAML
// file; env vars always take precedence over it.
type yamlDefaults struct {
	HTTPAddr string `yaml:"http_addr"`
	Memory   struct {
		WindowSize int `yaml:"window_size"`
	} `yaml:"memory"`
	Qdrant struct {
		DSN        string `yaml:"dsn"`
		Collection string `yaml:"collection"`
		Dimensions int    `yaml:"dimensions"`
		Metric     string `yaml:"metric"`
	} `yaml:"qdrant"`
}

// Load resolves Config from (in increasing precedence) built-in defaults, an
// optional YAML file, an optional .env file, and the process environment.
// This is the same precedence order as the teacher's internal/config loader.
func Load(yamlPath string) (Config, error) {
	cfg := Config{
		HTTPAddr: ":8080",
		Memory:   DefaultMemoryConfig(),
		Timeouts: DefaultTimeouts(),
		Merge:    DefaultMergeConfig(),
		Runner: TaskRunnerConfig{
			MaxWorkers:   8,
			QueueSize:    1024,
			DrainTimeout: 15 * time.Second,
			Retry:        DefaultRetryPolicy(),
		},
		Obs: ObsConfig{ServiceName: "agentmemory", ServiceVersion: "dev", Environment: "development"},
		Qdrant: QdrantConfig{
			Collection: "memory_records",
			Dimensions: 1536,
			Metric:     "cosine",
		},
	}

	if yamlPath != "" {
		if b, err := os.ReadFile(yamlPath); err == nil {
			var y yamlDefaults
			if err := yaml.Unmarshal(b, &y); err == nil {
				applyYAML(&cfg, y)
			}
		}
		// A missing or malformed YAML file is not fatal; env vars and
		// built-in defaults remain authoritative.
	}

	// Best-effort; a missing .env is normal outside local development.
	_ = godotenv.Load()

	applyEnv(&cfg)
	return cfg, nil
}

func applyYAML(cfg *Config, y yamlDefaults) {
	if y.HTTPAddr != "" {
		cfg.HTTPAddr = y.HTTPAddr
	}
	if y.Memory.WindowSize > 0 {
		cfg.Memory.WindowSize = y.Memory.WindowSize
	}
	if y.Qdrant.DSN != "" {
		cfg.Qdrant.DSN = y.Qdrant.DSN
	}
	if y.Qdrant.Collection != "" {
		cfg.Qdrant.Collection = y.Qdrant.Collection
	}
	if y.Qdrant.Dimensions > 0 {
		cfg.Qdrant.Dimensions = y.Qdrant.Dimensions
	}
	if y.Qdrant.Metric != "" {
		cfg.Qdrant.Metric = y.Qdrant.Metric
	}
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = firstNonEmpty(os.Getenv("AGENTMEMORY_HTTP_ADDR"), cfg.HTTPAddr)

	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("AGENTMEMORY_SERVICE_NAME"), cfg.Obs.ServiceName)
	cfg.Obs.Environment = firstNonEmpty(os.Getenv("AGENTMEMORY_ENV"), cfg.Obs.Environment)
	cfg.Obs.OTLP = firstNonEmpty(os.Getenv("AGENTMEMORY_OTLP_ENDPOINT"), cfg.Obs.OTLP)

	cfg.Redis.Addr = firstNonEmpty(os.Getenv("REDIS_ADDR"), cfg.Redis.Addr)
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = parseInt(os.Getenv("REDIS_DB"), cfg.Redis.DB)

	cfg.Qdrant.DSN = firstNonEmpty(os.Getenv("QDRANT_DSN"), cfg.Qdrant.DSN)
	cfg.Qdrant.Collection = firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), cfg.Qdrant.Collection)
	cfg.Qdrant.Dimensions = parseInt(os.Getenv("QDRANT_DIMENSIONS"), cfg.Qdrant.Dimensions)
	cfg.Qdrant.Metric = firstNonEmpty(os.Getenv("QDRANT_METRIC"), cfg.Qdrant.Metric)

	cfg.Postgres.DSN = os.Getenv("AUDIT_POSTGRES_DSN")

	cfg.ClickHouse.Addr = os.Getenv("CLICKHOUSE_ADDR")
	cfg.ClickHouse.Database = firstNonEmpty(os.Getenv("CLICKHOUSE_DATABASE"), "default")
	cfg.ClickHouse.Username = os.Getenv("CLICKHOUSE_USERNAME")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")

	cfg.S3.Bucket = os.Getenv("ARCHIVE_S3_BUCKET")
	cfg.S3.Region = firstNonEmpty(os.Getenv("ARCHIVE_S3_REGION"), "us-east-1")
	cfg.S3.Endpoint = os.Getenv("ARCHIVE_S3_ENDPOINT")
	cfg.S3.Prefix = os.Getenv("ARCHIVE_S3_PREFIX")
	cfg.S3.AccessKey = os.Getenv("ARCHIVE_S3_ACCESS_KEY")
	cfg.S3.SecretKey = os.Getenv("ARCHIVE_S3_SECRET_KEY")
	cfg.S3.UsePathStyle = parseBool(os.Getenv("ARCHIVE_S3_PATH_STYLE"), cfg.S3.UsePathStyle)
	cfg.S3.SSE.Mode = os.Getenv("ARCHIVE_S3_SSE_MODE")
	cfg.S3.SSE.KMSKeyID = os.Getenv("ARCHIVE_S3_SSE_KMS_KEY_ID")

	cfg.ChatProvider = firstNonEmpty(os.Getenv("AGENTMEMORY_CHAT_PROVIDER"), "openai")
	cfg.EmbedProvider = firstNonEmpty(os.Getenv("AGENTMEMORY_EMBED_PROVIDER"), "openai")

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OpenAI.Model = firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini")
	cfg.OpenAI.EmbedModel = firstNonEmpty(os.Getenv("OPENAI_EMBED_MODEL"), "text-embedding-3-small")

	cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Anthropic.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	cfg.Anthropic.Model = firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-3-5-haiku-latest")

	cfg.Google.APIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.Google.BaseURL = os.Getenv("GOOGLE_BASE_URL")
	cfg.Google.Model = firstNonEmpty(os.Getenv("GOOGLE_MODEL"), "gemini-1.5-flash")
	cfg.Google.EmbedModel = firstNonEmpty(os.Getenv("GOOGLE_EMBED_MODEL"), "text-embedding-004")

	cfg.Memory.WindowSize = parseInt(os.Getenv("AGENTMEMORY_WINDOW_SIZE"), cfg.Memory.WindowSize)
	cfg.Memory.ContextWindowMax = parseInt(os.Getenv("AGENTMEMORY_CONTEXT_WINDOW_MAX"), cfg.Memory.ContextWindowMax)
	cfg.Memory.SemanticDupThreshold = parseFloat(os.Getenv("AGENTMEMORY_SEMANTIC_DUP_THRESHOLD"), cfg.Memory.SemanticDupThreshold)

	cfg.Runner.MaxWorkers = parseInt(os.Getenv("AGENTMEMORY_TASK_WORKERS"), cfg.Runner.MaxWorkers)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
