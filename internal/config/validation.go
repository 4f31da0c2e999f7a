package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration validation. All validation failures wrap
// one of these, so callers can branch with errors.Is().
var (
	// ErrNoModels indicates no chat model entries are configured.
	ErrNoModels = errors.New("no models configured")

	// ErrInvalidProvider indicates a model entry names an unknown provider.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates a temperature outside [0, 2].
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidChunking indicates chunk_size/chunk_overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrUnknownModelRef indicates an assistant or the verifier references a
	// logical model name with no entry under models.
	ErrUnknownModelRef = errors.New("unknown model reference")

	// ErrNoKnowledgeBases indicates an assistant has an empty knowledge-base
	// list. Retrieval scope is a caller contract: at least one tag required.
	ErrNoKnowledgeBases = errors.New("assistant has no knowledge bases")

	// ErrMissingStorePath indicates the vector store path is empty.
	ErrMissingStorePath = errors.New("missing vector store path")

	// ErrMissingEmbedding indicates the embedding model is not configured.
	ErrMissingEmbedding = errors.New("missing embedding configuration")

	// ErrMissingChatLogURL indicates chat logging is enabled without a
	// database URL.
	ErrMissingChatLogURL = errors.New("chatlog enabled without postgres_url")
)

var validProviders = map[string]struct{}{
	ProviderGoogleAI: {},
	ProviderOpenAI:   {},
	ProviderOllama:   {},
}

// Validate checks the configuration for internal consistency. It returns the
// first problem found, wrapped around the matching sentinel.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return ErrNoModels
	}

	for name, m := range c.Models {
		provider := strings.ToLower(m.Provider)
		if _, ok := validProviders[provider]; !ok {
			return fmt.Errorf("%w: model %q uses provider %q (want googleai, openai or ollama)",
				ErrInvalidProvider, name, m.Provider)
		}
		if m.Model == "" {
			return fmt.Errorf("%w: model %q has no provider model identifier", ErrInvalidProvider, name)
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("%w: model %q temperature %v outside [0, 2]",
				ErrInvalidTemperature, name, m.Temperature)
		}
	}

	if err := c.validateRAG(); err != nil {
		return err
	}

	for typ, a := range c.Assistants {
		if a.Model == "" {
			return fmt.Errorf("%w: assistant %q has no model", ErrUnknownModelRef, typ)
		}
		if _, ok := c.Models[a.Model]; !ok {
			return fmt.Errorf("%w: assistant %q references model %q", ErrUnknownModelRef, typ, a.Model)
		}
		if len(a.KnowledgeBases) == 0 {
			return fmt.Errorf("%w: assistant %q", ErrNoKnowledgeBases, typ)
		}
	}

	if c.ChatLog.Enabled && c.ChatLog.PostgresURL == "" {
		return ErrMissingChatLogURL
	}

	if c.Vision.Model != "" {
		if _, ok := c.Models[c.Vision.Model]; !ok {
			return fmt.Errorf("%w: vision model %q", ErrUnknownModelRef, c.Vision.Model)
		}
	}

	return nil
}

func (c *Config) validateRAG() error {
	r := c.RAG

	if r.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidChunking, r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, r.ChunkOverlap)
	}
	if r.StorePath == "" {
		return ErrMissingStorePath
	}
	if r.EmbeddingProvider == "" || r.EmbeddingModel == "" {
		return ErrMissingEmbedding
	}
	if _, ok := validProviders[strings.ToLower(r.EmbeddingProvider)]; !ok {
		return fmt.Errorf("%w: embedding provider %q", ErrInvalidProvider, r.EmbeddingProvider)
	}

	if r.SelfVerification {
		if r.VerifierModel == "" {
			return fmt.Errorf("%w: self_verification enabled without verifier_model", ErrUnknownModelRef)
		}
		if _, ok := c.Models[r.VerifierModel]; !ok {
			return fmt.Errorf("%w: verifier_model %q", ErrUnknownModelRef, r.VerifierModel)
		}
	}

	return nil
}
