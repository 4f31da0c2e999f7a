// Package assistant binds a configured persona (prompt template, model,
// knowledge-base scope) to a conversation session, augmenting each user
// message with retrieved context before it reaches the model.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sagekit/sage/internal/gateway"
)

// ErrUnknownAssistant indicates an assistant type with no configured profile.
var ErrUnknownAssistant = errors.New("unknown assistant")

// Retriever is the slice of the retrieval engine assistants read through.
type Retriever interface {
	RelevantContext(ctx context.Context, query string, k int, knowledgeBases []string) (string, error)
}

// Chatter is the slice of the model gateway assistants talk through.
type Chatter interface {
	Chat(ctx context.Context, sessionID, model, systemPrompt string, messages []string) (string, error)
	ChatStream(ctx context.Context, sessionID, model, systemPrompt string, messages []string, callback gateway.StreamCallback) (string, error)
}

// Profile is the static configuration of one assistant type.
type Profile struct {
	Name           string
	Description    string
	PromptTemplate string
	Model          string
	KnowledgeBases []string
}

// Service creates assistants from configured profiles.
type Service struct {
	profiles  map[string]Profile
	retriever Retriever
	chatter   Chatter
	logger    *slog.Logger
}

// Config contains all required parameters for the Service.
type Config struct {
	Profiles  map[string]Profile
	Retriever Retriever
	Chatter   Chatter
	Logger    *slog.Logger
}

func (cfg *Config) validate() error {
	if len(cfg.Profiles) == 0 {
		return errors.New("at least one assistant profile is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Chatter == nil {
		return errors.New("chatter is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// NewService creates a Service from the config.
func NewService(cfg *Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid assistant config: %w", err)
	}
	return &Service{
		profiles:  cfg.Profiles,
		retriever: cfg.Retriever,
		chatter:   cfg.Chatter,
		logger:    cfg.Logger,
	}, nil
}

// Types returns the configured assistant type keys.
func (s *Service) Types() []string {
	types := make([]string, 0, len(s.profiles))
	for t := range s.profiles {
		types = append(types, t)
	}
	return types
}

// Assistant binds the named profile to a session. An empty sessionID
// starts a fresh conversation under a generated ID; passing an existing ID
// resumes that conversation.
func (s *Service) Assistant(assistantType, sessionID string) (*Assistant, error) {
	profile, ok := s.profiles[assistantType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAssistant, assistantType)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	kbs := make([]string, len(profile.KnowledgeBases))
	copy(kbs, profile.KnowledgeBases)

	return &Assistant{
		typ:       assistantType,
		profile:   profile,
		sessionID: sessionID,
		kbs:       kbs,
		retriever: s.retriever,
		chatter:   s.chatter,
		logger:    s.logger.With("assistant", assistantType, "session_id", sessionID),
	}, nil
}

// Assistant is one persona bound to one session. The knowledge-base scope
// can be switched mid-conversation; everything else is fixed at creation.
type Assistant struct {
	typ       string
	profile   Profile
	sessionID string

	mu  sync.RWMutex
	kbs []string

	retriever Retriever
	chatter   Chatter
	logger    *slog.Logger
}

// SessionID returns the bound conversation ID.
func (a *Assistant) SessionID() string { return a.sessionID }

// Name returns the profile's display name.
func (a *Assistant) Name() string { return a.profile.Name }

// Description returns the profile's description.
func (a *Assistant) Description() string { return a.profile.Description }

// Model returns the logical model name the assistant chats with.
func (a *Assistant) Model() string { return a.profile.Model }

// KnowledgeBases returns the current retrieval scope.
func (a *Assistant) KnowledgeBases() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	kbs := make([]string, len(a.kbs))
	copy(kbs, a.kbs)
	return kbs
}

// SetKnowledgeBases switches the retrieval scope for subsequent turns.
// Turns already answered keep the context they were given.
func (a *Assistant) SetKnowledgeBases(kbs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kbs = make([]string, len(kbs))
	copy(a.kbs, kbs)
}

// Chat answers the messages, grounding the last one in retrieved context.
func (a *Assistant) Chat(ctx context.Context, messages []string) (string, error) {
	return a.ChatStream(ctx, messages, nil)
}

// ChatStream is Chat with per-chunk delivery through callback.
//
// When the assistant has a knowledge-base scope, the last message is
// rewritten to carry the retrieved context; with an empty scope the
// messages pass through untouched. The retrieval engine absorbs index
// failures into an empty-context sentinel, so an error here means the
// scope itself was invalid and the turn fails.
func (a *Assistant) ChatStream(ctx context.Context, messages []string, callback gateway.StreamCallback) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("at least one message is required")
	}

	kbs := a.KnowledgeBases()
	if len(kbs) > 0 {
		query := messages[len(messages)-1]
		knowledge, err := a.retriever.RelevantContext(ctx, query, 0, kbs)
		if err != nil {
			return "", fmt.Errorf("retrieving context: %w", err)
		}

		augmented := make([]string, len(messages))
		copy(augmented, messages)
		augmented[len(augmented)-1] = fmt.Sprintf(
			"%s\n\nReference the following information to answer the user's question:\n%s",
			messages[len(messages)-1], knowledge)
		messages = augmented

		a.logger.Debug("augmented user message", "knowledge_bases", kbs)
	}

	return a.chatter.ChatStream(ctx, a.sessionID, a.profile.Model, a.profile.PromptTemplate, messages, callback)
}
