package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"agentmemory/internal/analytics"
	"agentmemory/internal/config"
	"agentmemory/internal/dedup"
	"agentmemory/internal/extractor"
	"agentmemory/internal/httpapi"
	"agentmemory/internal/llm"
	"agentmemory/internal/llm/anthropic"
	"agentmemory/internal/llm/gemini"
	"agentmemory/internal/llm/openai"
	"agentmemory/internal/ltm"
	"agentmemory/internal/mcpsurface"
	"agentmemory/internal/memoryd"
	"agentmemory/internal/objectstore"
	"agentmemory/internal/observability"
	"agentmemory/internal/summarizer"
	"agentmemory/internal/taskrunner"
	"agentmemory/internal/vectorstore"
	"agentmemory/internal/workingmemory"
)

func main() {
	yamlPath := flag.String("config", "", "path to an optional YAML config file")
	mcpStdio := flag.Bool("mcp", false, "serve the MCP tool surface over stdio instead of HTTP")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	observability.InitLogger("agentmemory.log", "info")

	cfg, err := config.Load(*yamlPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		observability.AttachOTelLogging(cfg.Obs.ServiceName)
		defer func() { _ = shutdown(context.Background()) }()
	}

	registry := buildRegistry(cfg)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if cfg.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("redis ping failed")
		}
	}

	adapter := buildVectorStore(cfg)

	var archiver workingmemory.Archiver
	if cfg.S3.Bucket != "" {
		objStore, err := objectstore.NewS3Store(context.Background(), cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("s3 archive store init failed, continuing without cold archival")
		} else {
			archiver = workingmemory.NewS3Archiver(objStore, cfg.S3.Prefix)
		}
	}

	var keyLock taskrunner.KeyLock
	if cfg.Redis.Addr != "" {
		keyLock = taskrunner.NewRedisKeyLock(redisClient, "agentmemory:task-lock:")
	}
	runnerHandlers := make(map[taskrunner.Type]taskrunner.Handler)
	runner := taskrunner.New(cfg.Runner, runnerHandlers, keyLock)

	wmConfig := workingmemory.Config{
		WindowSize:                cfg.Memory.WindowSize,
		ContextWindowMax:          cfg.Memory.ContextWindowMax,
		SummarizationThresholdPct: cfg.Memory.SummarizationThresholdPct,
	}
	scheduler := &memoryd.TaskScheduler{Runner: runner}

	var workingStore workingmemory.Store
	if cfg.Redis.Addr != "" {
		workingStore = workingmemory.NewRedisStore(redisClient, wmConfig, scheduler, archiver)
	} else {
		workingStore = workingmemory.NewMemoryStore(wmConfig, scheduler)
	}

	hashIndex := ltm.NewRedisHashIndex(redisClient, "")
	accessTouch := ltm.NewRedisAccessTouchLimiter(redisClient, "")

	tagger := &extractor.Tagger{
		Topics:   &extractor.LLMTopicExtractor{Registry: registry, Model: defaultChatModel(cfg)},
		Entities: &extractor.LLMEntityExtractor{Registry: registry, Model: defaultChatModel(cfg)},
		TopK:     cfg.Memory.TopKTopics,
	}
	discreteExtractor := &extractor.Extractor{
		Registry:  registry,
		Model:     defaultChatModel(cfg),
		Tagger:    tagger,
		TopKTopic: cfg.Memory.TopKTopics,
	}
	dedupJudge := &dedup.Judge{Registry: registry, Model: defaultChatModel(cfg)}

	var audit *ltm.AuditMirror
	if cfg.Postgres.DSN != "" {
		audit, err = ltm.NewAuditMirror(context.Background(), cfg.Postgres)
		if err != nil {
			log.Warn().Err(err).Msg("audit mirror init failed, continuing without it")
			audit = nil
		}
	}

	var analyticsSink *analytics.RerankSink
	if cfg.ClickHouse.Addr != "" {
		analyticsSink, err = analytics.NewRerankSink(context.Background(), cfg.ClickHouse)
		if err != nil {
			log.Warn().Err(err).Msg("analytics sink init failed, continuing without it")
			analyticsSink = nil
		}
	}

	engine := ltm.New(ltm.Deps{
		Adapter:       adapter,
		Registry:      registry,
		EmbedModel:    defaultEmbedModel(cfg),
		HashIndex:     hashIndex,
		AccessTouch:   accessTouch,
		Tagger:        tagger,
		Extractor:     discreteExtractor,
		DedupJudge:    dedupJudge,
		Runner:        runner,
		Audit:         audit,
		Analytics:     analyticsSink,
		Config:        cfg.Memory,
		RerankDefault: cfg.Memory.RerankWeights,
	})

	summ := summarizer.New(registry, nil, cfg.Memory, cfg.Runner.Retry)

	runnerHandlers[taskrunner.TypeSummarize] = memoryd.SummarizeHandler(workingStore, summ)
	runnerHandlers[taskrunner.TypePromote] = memoryd.PromoteHandler(engine)
	runnerHandlers[taskrunner.TypeExtract] = engine.ExtractionHandler()

	service := memoryd.New(workingStore, engine, cfg.Merge)

	if *mcpStdio {
		server := mcpsurface.NewServer(service)
		if err := server.Run(context.Background(), nil); err != nil {
			log.Fatal().Err(err).Msg("mcp server exited")
		}
		return
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewServer(service),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	runner.Stop(cfg.Runner.DrainTimeout)
	if audit != nil {
		audit.Close()
	}
	if analyticsSink != nil {
		_ = analyticsSink.Close()
	}
}

func buildRegistry(cfg config.Config) *llm.Registry {
	registry := llm.NewRegistry()
	httpClient := observability.NewHTTPClient(nil)

	if cfg.OpenAI.APIKey != "" {
		client := openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, httpClient)
		registry.Register(llm.Provider{Name: "openai", Chat: client, Embedder: client}, cfg.OpenAI.Model, cfg.OpenAI.EmbedModel)
	}
	if cfg.Anthropic.APIKey != "" {
		client := anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, httpClient)
		registry.Register(llm.Provider{Name: "anthropic", Chat: client}, cfg.Anthropic.Model)
	}
	if cfg.Google.APIKey != "" {
		client, err := gemini.New(context.Background(), cfg.Google.APIKey, cfg.Google.BaseURL, httpClient)
		if err != nil {
			log.Warn().Err(err).Msg("gemini client init failed, continuing without it")
		} else {
			registry.Register(llm.Provider{Name: "google", Chat: client, Embedder: client}, cfg.Google.Model, cfg.Google.EmbedModel)
		}
	}

	registry.SetDefaultChat(defaultChatModel(cfg))
	registry.SetDefaultEmbed(defaultEmbedModel(cfg))
	return registry
}

func defaultChatModel(cfg config.Config) string {
	switch cfg.ChatProvider {
	case "anthropic":
		return cfg.Anthropic.Model
	case "google":
		return cfg.Google.Model
	default:
		return cfg.OpenAI.Model
	}
}

func defaultEmbedModel(cfg config.Config) string {
	switch cfg.EmbedProvider {
	case "google":
		return cfg.Google.EmbedModel
	default:
		return cfg.OpenAI.EmbedModel
	}
}

func buildVectorStore(cfg config.Config) vectorstore.Adapter {
	if cfg.Qdrant.DSN == "" {
		return vectorstore.NewMemoryAdapter()
	}
	adapter, err := vectorstore.NewQdrantAdapter(cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Warn().Err(err).Msg("qdrant adapter init failed, falling back to in-memory vector store")
		return vectorstore.NewMemoryAdapter()
	}
	return adapter
}
