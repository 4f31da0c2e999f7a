// Package retrieval answers queries against the vector index, optionally
// passing every candidate through a relevance check before it reaches the
// prompt.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Verifier judges whether a retrieved chunk actually answers the query.
type Verifier interface {
	Verify(ctx context.Context, query, content string) (bool, error)
}

const verificationPrompt = `Judge whether the document content below is relevant to the question and factually useful for answering it. Answer Y if it is relevant and accurate, otherwise answer N.
Question: %s
Document content: %s
Answer (Y/N):`

// ModelVerifier asks a small LLM for a binary relevance judgement. The
// model answers with a bare Y or N; anything containing Y counts as
// acceptance, everything else as rejection.
type ModelVerifier struct {
	g           *genkit.Genkit
	model       string
	temperature float32
}

// NewModelVerifier creates a verifier backed by the given logical model,
// e.g. "googleai/gemini-2.0-flash".
func NewModelVerifier(g *genkit.Genkit, model string, temperature float32) (*ModelVerifier, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if model == "" {
		return nil, fmt.Errorf("verifier model is required")
	}
	return &ModelVerifier{g: g, model: model, temperature: temperature}, nil
}

// Verify runs one judgement call.
func (v *ModelVerifier) Verify(ctx context.Context, query, content string) (bool, error) {
	resp, err := genkit.Generate(ctx, v.g,
		ai.WithModelName(v.model),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(fmt.Sprintf(verificationPrompt, query, content)))),
		ai.WithConfig(map[string]any{"temperature": v.temperature}),
	)
	if err != nil {
		return false, fmt.Errorf("relevance check: %w", err)
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Text()))
	return strings.Contains(answer, "Y"), nil
}
