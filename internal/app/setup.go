package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/sagekit/sage/db"
	"github.com/sagekit/sage/internal/assistant"
	"github.com/sagekit/sage/internal/chatlog"
	"github.com/sagekit/sage/internal/config"
	"github.com/sagekit/sage/internal/gateway"
	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/ingest"
	"github.com/sagekit/sage/internal/log"
	"github.com/sagekit/sage/internal/retrieval"
	"github.com/sagekit/sage/internal/vision"
)

// Setup creates and initializes the application from configuration.
// On failure everything already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	// Tracing must be registered before genkit.Init picks up its
	// TracerProvider.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q",
			cfg.RAG.EmbeddingModel, cfg.RAG.EmbeddingProvider)
	}
	a.Embedder = embedder

	idx, err := index.Open(cfg.RAG.StorePath, cfg.RAG.Collection,
		index.NewEmbeddingFunc(embedder), logger.With("component", "index"))
	if err != nil {
		return nil, err
	}
	a.Index = idx

	engine, err := provideEngine(g, cfg, idx, logger)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	gw, err := gateway.New(&gateway.Config{
		Genkit: g,
		Models: modelSpecs(cfg),
		Logger: logger.With("component", "gateway"),
	})
	if err != nil {
		return nil, err
	}
	a.Gateway = gw

	assistants, err := assistant.NewService(&assistant.Config{
		Profiles:  assistantProfiles(cfg),
		Retriever: engine,
		Chatter:   gw,
		Logger:    logger.With("component", "assistant"),
	})
	if err != nil {
		return nil, err
	}
	a.Assistants = assistants

	ingestor, err := ingest.New(&ingest.Config{
		Loader:  ingest.NewLoader(cfg.RAG.SupportedFileTypes, nil),
		Chunker: ingest.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		Index:   idx,
		Logger:  logger.With("component", "ingest"),
	})
	if err != nil {
		return nil, err
	}
	a.Ingestor = ingestor

	if cfg.ChatLog.Enabled {
		pool, store, err := provideChatLog(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.dbPool = pool
		a.ChatLog = store
	}

	if cfg.Vision.Model != "" {
		m := cfg.Models[cfg.Vision.Model]
		describer, err := vision.New(&vision.Config{
			Genkit:      g,
			Model:       providerModel(m),
			Temperature: cfg.Vision.Temperature,
			Logger:      logger.With("component", "vision"),
		})
		if err != nil {
			return nil, err
		}
		a.Describer = describer
	}

	logger.Info("application initialized",
		"models", len(cfg.Models),
		"assistants", len(cfg.Assistants),
		"chatlog", cfg.ChatLog.Enabled,
		"vision", cfg.Vision.Model != "",
	)
	return a, nil
}

// provideOtelShutdown registers an OTLP HTTP span exporter with genkit's
// TracerProvider. The collector endpoint handles authentication and
// forwarding; an empty agent host disables export entirely.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	tel := cfg.Telemetry
	if tel.AgentHost == "" {
		return func() {}
	}

	// Setenv is safe here: called exactly once during startup, before any
	// goroutines exist.
	if tel.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", tel.ServiceName)
	}
	if tel.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+tel.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(tel.AgentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"agent", tel.AgentHost, "service", tel.ServiceName, "environment", tel.Environment)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes genkit with one plugin per provider referenced
// anywhere in the configuration (chat models, embedding, vision).
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	providers := referencedProviders(cfg)

	var plugins []api.Plugin
	var ollamaPlugin *ollama.Ollama

	if _, ok := providers[config.ProviderGoogleAI]; ok {
		plugins = append(plugins, &googlegenai.GoogleAI{})
	}
	if _, ok := providers[config.ProviderOpenAI]; ok {
		plugins = append(plugins, &openai.OpenAI{})
	}
	if _, ok := providers[config.ProviderOllama]; ok {
		ollamaPlugin = &ollama.Ollama{ServerAddress: cfg.Providers.Ollama.Host}
		plugins = append(plugins, ollamaPlugin)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugins...))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}

	// Ollama has no model auto-discovery. Every configured ollama model
	// needs explicit registration, the embedder too.
	if ollamaPlugin != nil {
		for _, m := range cfg.Models {
			if strings.EqualFold(m.Provider, config.ProviderOllama) {
				ollamaPlugin.DefineModel(g, ollama.ModelDefinition{Name: m.Model, Type: "chat"}, nil)
			}
		}
		if strings.EqualFold(cfg.RAG.EmbeddingProvider, config.ProviderOllama) {
			ollamaPlugin.DefineEmbedder(g, cfg.Providers.Ollama.Host, cfg.RAG.EmbeddingModel, nil)
		}
	}

	names := make([]string, 0, len(providers))
	for p := range providers {
		names = append(names, p)
	}
	logger.Info("genkit initialized", "providers", names)
	return g, nil
}

// provideEmbedder resolves the embedder registered by the provider plugin.
// Registration differs per provider: googleai exposes a lookup helper,
// ollama keys by server address, openai auto-registers during Init.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch strings.ToLower(cfg.RAG.EmbeddingProvider) {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.Providers.Ollama.Host)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.RAG.EmbeddingModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.RAG.EmbeddingModel)
	}
}

func provideEngine(g *genkit.Genkit, cfg *config.Config, idx *index.Index, logger log.Logger) (*retrieval.Engine, error) {
	engineCfg := &retrieval.Config{
		Index:            idx,
		SelfVerification: cfg.RAG.SelfVerification,
		TopK:             cfg.RAG.TopK,
		Logger:           logger.With("component", "retrieval"),
	}

	if cfg.RAG.SelfVerification {
		m := cfg.Models[cfg.RAG.VerifierModel]
		verifier, err := retrieval.NewModelVerifier(g, providerModel(m), m.Temperature)
		if err != nil {
			return nil, err
		}
		engineCfg.Verifier = verifier
		if cfg.RAG.VerifierRPS > 0 {
			engineCfg.Limiter = rate.NewLimiter(rate.Limit(cfg.RAG.VerifierRPS), 1)
		}
	}

	return retrieval.New(engineCfg)
}

// provideChatLog migrates the transcript schema and opens the connection
// pool behind the store.
func provideChatLog(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, *chatlog.Store, error) {
	if err := db.Migrate(cfg.ChatLog.PostgresURL, logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ChatLog.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing chatlog database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating chatlog pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging chatlog database: %w", err)
	}

	store, err := chatlog.New(pool, logger.With("component", "chatlog"))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, store, nil
}

// referencedProviders returns the set of providers any configured component
// actually uses.
func referencedProviders(cfg *config.Config) map[string]struct{} {
	providers := make(map[string]struct{})
	for _, m := range cfg.Models {
		providers[strings.ToLower(m.Provider)] = struct{}{}
	}
	providers[strings.ToLower(cfg.RAG.EmbeddingProvider)] = struct{}{}
	return providers
}

func modelSpecs(cfg *config.Config) map[string]gateway.ModelSpec {
	specs := make(map[string]gateway.ModelSpec, len(cfg.Models))
	for name, m := range cfg.Models {
		specs[name] = gateway.ModelSpec{
			Provider:    strings.ToLower(m.Provider),
			Model:       m.Model,
			Temperature: m.Temperature,
		}
	}
	return specs
}

func assistantProfiles(cfg *config.Config) map[string]assistant.Profile {
	profiles := make(map[string]assistant.Profile, len(cfg.Assistants))
	for typ, a := range cfg.Assistants {
		profiles[typ] = assistant.Profile{
			Name:           a.Name,
			Description:    a.Description,
			PromptTemplate: a.PromptTemplate,
			Model:          a.Model,
			KnowledgeBases: a.KnowledgeBases,
		}
	}
	return profiles
}

func providerModel(m config.ModelConfig) string {
	return strings.ToLower(m.Provider) + "/" + m.Model
}
