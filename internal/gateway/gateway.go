// Package gateway routes chat requests to language models behind logical
// model names and keeps per-session conversation state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// ErrModelNotFound indicates a logical model name with no registry entry.
var ErrModelNotFound = errors.New("model not found")

// StreamCallback receives each text chunk of a streaming response.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk string) error

// ModelSpec declares one logical model: which provider serves it, the
// provider-side model identifier, and the sampling temperature.
type ModelSpec struct {
	Provider    string
	Model       string
	Temperature float32
}

type entry struct {
	providerModel string // provider-qualified, e.g. "googleai/gemini-2.0-flash"
	temperature   float32
}

// Caller executes one model call. The indirection exists for tests;
// production code uses the genkit-backed implementation.
type Caller interface {
	Generate(ctx context.Context, providerModel string, temperature float32, messages []*ai.Message, callback StreamCallback) (string, error)
}

// Gateway resolves logical model names and serializes conversation turns
// per session. Sessions live for the process lifetime; callers own the
// session ID namespace.
type Gateway struct {
	caller   Caller
	models   map[string]entry
	sessions *sessionStore
	logger   *slog.Logger
}

// Config contains all required parameters for the Gateway.
type Config struct {
	// Genkit executes model calls. Ignored when Caller is set.
	Genkit *genkit.Genkit

	// Caller overrides the genkit-backed executor, for tests.
	Caller Caller

	// Models maps logical names to provider entries. Resolved once at
	// construction; unknown names fail requests with ErrModelNotFound.
	Models map[string]ModelSpec

	Logger *slog.Logger
}

func (cfg *Config) validate() error {
	if cfg.Caller == nil && cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if len(cfg.Models) == 0 {
		return errors.New("at least one model is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// New creates a Gateway from the config.
func New(cfg *Config) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	caller := cfg.Caller
	if caller == nil {
		caller = &genkitCaller{g: cfg.Genkit}
	}

	models := make(map[string]entry, len(cfg.Models))
	for name, spec := range cfg.Models {
		models[name] = entry{
			providerModel: spec.Provider + "/" + spec.Model,
			temperature:   spec.Temperature,
		}
	}

	g := &Gateway{
		caller:   caller,
		models:   models,
		sessions: newSessionStore(),
		logger:   cfg.Logger,
	}
	g.logger.Info("model gateway initialized", "models", len(models))
	return g, nil
}

// Models returns the registered logical model names, sorted.
func (g *Gateway) Models() []string {
	names := make([]string, 0, len(g.models))
	for name := range g.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chat runs one conversation turn without streaming.
func (g *Gateway) Chat(ctx context.Context, sessionID, model, systemPrompt string, messages []string) (string, error) {
	return g.ChatStream(ctx, sessionID, model, systemPrompt, messages, nil)
}

// ChatStream runs one conversation turn, invoking callback for each chunk
// when it is non-nil. The complete response is returned either way. Each
// entry in messages becomes one user turn, in order.
//
// Turns within a session run one at a time. The system prompt is written
// into the session by the first turn that supplies one; later prompts for
// the same session are ignored, so an assistant cannot retroactively
// rewrite a conversation's instructions.
func (g *Gateway) ChatStream(ctx context.Context, sessionID, model, systemPrompt string, messages []string, callback StreamCallback) (string, error) {
	ent, ok := g.models[model]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrModelNotFound, model)
	}
	if len(messages) == 0 {
		return "", errors.New("at least one message is required")
	}

	sess := g.sessions.get(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	injectPrompt := systemPrompt != "" && !sess.promptInjected

	outgoing := make([]*ai.Message, 0, len(sess.history)+len(messages)+1)
	if injectPrompt {
		outgoing = append(outgoing, &ai.Message{
			Role:    ai.RoleSystem,
			Content: []*ai.Part{ai.NewTextPart(systemPrompt)},
		})
	}
	outgoing = append(outgoing, copyMessages(sess.history)...)

	userMsgs := make([]*ai.Message, len(messages))
	for i, m := range messages {
		userMsgs[i] = ai.NewUserMessage(ai.NewTextPart(m))
	}
	outgoing = append(outgoing, userMsgs...)

	g.logger.Debug("dispatching chat turn",
		"session_id", sessionID,
		"model", ent.providerModel,
		"history_len", len(sess.history),
		"streaming", callback != nil)

	text, err := g.caller.Generate(ctx, ent.providerModel, ent.temperature, outgoing, callback)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}

	// Commit the turn only after a successful call so a failed request
	// leaves the session as it was.
	if injectPrompt {
		sess.history = append(sess.history, outgoing[0])
		sess.promptInjected = true
	}
	sess.history = append(sess.history, userMsgs...)
	sess.history = append(sess.history, ai.NewModelMessage(ai.NewTextPart(text)))

	return text, nil
}

// History returns a copy of the session's messages, oldest first. Unknown
// sessions return nil.
func (g *Gateway) History(sessionID string) []*ai.Message {
	sess := g.sessions.lookup(sessionID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return copyMessages(sess.history)
}

// genkitCaller executes calls through genkit with eager stream consumption.
type genkitCaller struct {
	g *genkit.Genkit
}

func (c *genkitCaller) Generate(ctx context.Context, providerModel string, temperature float32, messages []*ai.Message, callback StreamCallback) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(providerModel),
		ai.WithMessages(messages...),
		ai.WithConfig(map[string]any{"temperature": temperature}),
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			var sb strings.Builder
			for _, part := range chunk.Content {
				sb.WriteString(part.Text)
			}
			if sb.Len() == 0 {
				return nil
			}
			return callback(ctx, sb.String())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// copyMessages copies each message so genkit's in-place rendering cannot
// race with a concurrent reader of the session history.
func copyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		copy(parts, msg.Content)
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: msg.Metadata,
		}
	}
	return copied
}
