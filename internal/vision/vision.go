// Package vision wraps a multimodal model behind a single image
// description call.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const defaultPrompt = "Describe the content of this image in detail."

// Describer answers one-shot image description requests. Unlike chat,
// description calls carry no session state.
type Describer struct {
	g           *genkit.Genkit
	model       string
	temperature float32
	logger      *slog.Logger
}

// Config contains all required parameters for the Describer.
type Config struct {
	Genkit *genkit.Genkit

	// Model is the provider-qualified multimodal model name.
	Model string

	// Temperature defaults to 0.3 when zero; descriptions want low
	// variance.
	Temperature float32

	Logger *slog.Logger
}

func (cfg *Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Model == "" {
		return errors.New("model is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// New creates a Describer from the config.
func New(cfg *Config) (*Describer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid vision config: %w", err)
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = 0.3
	}
	return &Describer{
		g:           cfg.Genkit,
		model:       cfg.Model,
		temperature: temp,
		logger:      cfg.Logger,
	}, nil
}

// Describe sends the image to the model together with the prompt and
// returns the textual description. imageURL may be an https URL or a
// base64 data URL; prompt falls back to a generic description request
// when empty.
func (d *Describer) Describe(ctx context.Context, imageURL, prompt string) (string, error) {
	if imageURL == "" {
		return "", errors.New("image url is required")
	}
	if prompt == "" {
		prompt = defaultPrompt
	}

	resp, err := genkit.Generate(ctx, d.g,
		ai.WithModelName(d.model),
		ai.WithMessages(&ai.Message{
			Role: ai.RoleUser,
			Content: []*ai.Part{
				ai.NewMediaPart(contentTypeOf(imageURL), imageURL),
				ai.NewTextPart(prompt),
			},
		}),
		ai.WithConfig(map[string]any{"temperature": d.temperature}),
	)
	if err != nil {
		return "", fmt.Errorf("describing image: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("model returned an empty description")
	}
	return text, nil
}

// contentTypeOf extracts the MIME type from a data URL, leaving remote
// URLs to the provider to sniff.
func contentTypeOf(imageURL string) string {
	rest, ok := strings.CutPrefix(imageURL, "data:")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, ";,"); i > 0 {
		return rest[:i]
	}
	return ""
}
