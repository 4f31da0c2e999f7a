// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (SAGE_ prefix, runtime override)
//  2. Config file (sage.yaml in the working directory or --config path)
//  3. Default values
//
// Main configuration categories:
//   - Models: logical chat-model entries mapped to provider backends
//   - RAG: chunking, vector store location, Self-RAG verification
//   - Assistants: named profiles (system prompt, model, knowledge bases)
//   - Server: HTTP listen address
//   - ChatLog: optional PostgreSQL transcript logging
//   - Telemetry: OTLP trace export
//
// Validation uses sentinel errors so callers can branch with errors.Is().
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Provider identifiers accepted in ModelConfig.Provider and
// RAGConfig.EmbeddingProvider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
)

// Defaults applied when the config file and environment are silent.
const (
	DefaultAddr         = "127.0.0.1:8000"
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
	DefaultTopK         = 3
	DefaultStorePath    = "./data/vectors"
	DefaultCollection   = "sage"
	DefaultVerifierRPS  = 5
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Log        LogConfig                  `mapstructure:"log"`
	Telemetry  TelemetryConfig            `mapstructure:"telemetry"`
	Providers  ProvidersConfig            `mapstructure:"providers"`
	Models     map[string]ModelConfig     `mapstructure:"models"`
	RAG        RAGConfig                  `mapstructure:"rag"`
	Assistants map[string]AssistantConfig `mapstructure:"assistants"`
	ChatLog    ChatLogConfig              `mapstructure:"chatlog"`
	Vision     VisionConfig               `mapstructure:"vision"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level string `mapstructure:"level"` // "debug", "info", "warn", "error"
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig configures OTLP trace export. Empty AgentHost disables
// the exporter entirely.
type TelemetryConfig struct {
	AgentHost   string `mapstructure:"agent_host"` // e.g. "localhost:4318"
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// ProvidersConfig holds per-provider connection settings. API keys come from
// the providers' own environment variables (GEMINI_API_KEY, OPENAI_API_KEY)
// and are never stored in the config file.
type ProvidersConfig struct {
	Ollama OllamaConfig `mapstructure:"ollama"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	Host string `mapstructure:"host"` // e.g. "http://localhost:11434"
}

// ModelConfig maps one logical model name to a concrete backend entry.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // one of the Provider* constants
	Model       string  `mapstructure:"model"`    // provider model identifier
	Temperature float32 `mapstructure:"temperature"`
}

// RAGConfig configures ingestion, the vector store and Self-RAG.
type RAGConfig struct {
	ChunkSize          int      `mapstructure:"chunk_size"`
	ChunkOverlap       int      `mapstructure:"chunk_overlap"`
	SupportedFileTypes []string `mapstructure:"supported_file_types"`
	TopK               int      `mapstructure:"top_k"`

	// Self-RAG verification.
	SelfVerification bool   `mapstructure:"self_verification"`
	VerifierModel    string `mapstructure:"verifier_model"` // logical model name
	VerifierRPS      int    `mapstructure:"verifier_rps"`   // verification call rate limit

	// Embedding backend bound to the vector store for its lifetime.
	EmbeddingProvider string `mapstructure:"embedding_provider"`
	EmbeddingModel    string `mapstructure:"embedding_model"`

	// Vector store persistence.
	StorePath  string `mapstructure:"store_path"`
	Collection string `mapstructure:"collection"` // collection name prefix
}

// AssistantConfig is a static profile resolved by type name.
type AssistantConfig struct {
	Name           string   `mapstructure:"name"`
	Description    string   `mapstructure:"description"`
	PromptTemplate string   `mapstructure:"prompt_template"`
	Model          string   `mapstructure:"model"` // logical model name
	KnowledgeBases []string `mapstructure:"knowledge_bases"`
}

// ChatLogConfig configures best-effort transcript logging.
type ChatLogConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// VisionConfig configures image description. An empty Model disables the
// describe-image endpoint.
type VisionConfig struct {
	Model       string  `mapstructure:"model"` // logical model name
	Temperature float32 `mapstructure:"temperature"`
}

// Load reads configuration from the given file path (optional), the
// environment and defaults, then validates the result.
//
// A missing config file is not an error when path is empty: the service can
// run entirely on environment variables and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	} else {
		v.SetConfigName("sage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// Best-effort: defaults + env are a complete configuration.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if ok := isConfigFileNotFound(err, &notFound); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("log.level", "info")
	v.SetDefault("rag.chunk_size", DefaultChunkSize)
	v.SetDefault("rag.chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("rag.supported_file_types", []string{".txt", ".pdf", ".docx", ".md", ".xlsx", ".csv", ".json"})
	v.SetDefault("rag.top_k", DefaultTopK)
	v.SetDefault("rag.verifier_rps", DefaultVerifierRPS)
	v.SetDefault("rag.store_path", DefaultStorePath)
	v.SetDefault("rag.collection", DefaultCollection)
	v.SetDefault("rag.embedding_provider", ProviderGoogleAI)
	v.SetDefault("rag.embedding_model", "gemini-embedding-001")
}

func isConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
