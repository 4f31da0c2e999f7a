package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sagekit/sage/internal/index"
)

// NoRelevantInformation is returned by RelevantContext when the search
// yields nothing; downstream prompts rely on this exact sentence.
const NoRelevantInformation = "No relevant information found."

// Searcher is the slice of the vector index the engine reads through.
type Searcher interface {
	Search(ctx context.Context, query string, k int, knowledgeBases []string) ([]index.Result, error)
}

// Engine retrieves context for a query. With self-verification enabled,
// each candidate passes through the Verifier before counting toward the
// requested k; without it, the raw nearest neighbours are returned as-is.
type Engine struct {
	idx        Searcher
	verifier   Verifier
	limiter    *rate.Limiter
	selfVerify bool
	topK       int
	logger     *slog.Logger
}

// Config carries the engine dependencies.
type Config struct {
	Index    Searcher
	Verifier Verifier

	// Limiter throttles verification calls; nil means unthrottled.
	Limiter *rate.Limiter

	// SelfVerification enables the per-candidate relevance check.
	SelfVerification bool

	// TopK is the default result count when the caller passes k <= 0
	// to RelevantContext.
	TopK int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Index == nil {
		return fmt.Errorf("index is required")
	}
	if c.SelfVerification && c.Verifier == nil {
		return fmt.Errorf("verifier is required when self-verification is enabled")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// New creates an Engine from the config.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Engine{
		idx:        cfg.Index,
		verifier:   cfg.Verifier,
		limiter:    cfg.Limiter,
		selfVerify: cfg.SelfVerification,
		topK:       topK,
		logger:     cfg.Logger,
	}, nil
}

// BaseSearch returns the raw nearest neighbours without verification,
// degrading index failures the same way Search does.
func (e *Engine) BaseSearch(ctx context.Context, query string, k int, knowledgeBases []string) ([]index.Result, error) {
	results, err := e.idx.Search(ctx, query, k, knowledgeBases)
	if err != nil {
		if errors.Is(err, index.ErrNoScope) {
			return nil, err
		}
		e.logger.Warn("base search failed, returning no results", "error", err)
		return nil, nil
	}
	return results, nil
}

// Search returns up to k verified results, best first.
//
// It over-fetches 2k candidates, checks them in descending score order and
// stops once k pass. A candidate whose check fails, for any reason, does
// not count; if fewer than k pass, the highest-scoring rejected candidates
// fill the remaining slots so the caller always gets k results when the
// index has them.
//
// Index failures degrade to an empty result set so one bad embedding call
// never fails the conversation turn; only a missing knowledge-base scope,
// a caller bug, propagates.
func (e *Engine) Search(ctx context.Context, query string, k int, knowledgeBases []string) ([]index.Result, error) {
	if k <= 0 {
		return nil, nil
	}

	raw, err := e.BaseSearch(ctx, query, 2*k, knowledgeBases)
	if err != nil {
		return nil, err
	}
	if !e.selfVerify {
		if len(raw) > k {
			raw = raw[:k]
		}
		return raw, nil
	}

	verified, err := e.verifyCandidates(ctx, query, raw, k)
	if err != nil {
		return nil, err
	}

	// The accepted set may skip high-scoring rejects, so fill from the
	// remaining candidates in score order before the final sort.
	if len(verified) < k {
		seen := make(map[string]struct{}, len(verified))
		for _, r := range verified {
			seen[r.Chunk.ID] = struct{}{}
		}
		for _, r := range raw {
			if len(verified) >= k {
				break
			}
			if _, ok := seen[r.Chunk.ID]; ok {
				continue
			}
			seen[r.Chunk.ID] = struct{}{}
			verified = append(verified, r)
		}
	}

	sort.SliceStable(verified, func(i, j int) bool { return verified[i].Score > verified[j].Score })
	if len(verified) > k {
		verified = verified[:k]
	}
	return verified, nil
}

func (e *Engine) verifyCandidates(ctx context.Context, query string, raw []index.Result, k int) ([]index.Result, error) {
	var accepted []index.Result
	for _, r := range raw {
		if len(accepted) >= k {
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for verification slot: %w", err)
			}
		}

		ok, err := e.verifier.Verify(ctx, query, r.Chunk.Content)
		if err != nil {
			// An unverifiable chunk is treated as irrelevant rather
			// than passed through unchecked.
			e.logger.Warn("relevance check failed, rejecting candidate",
				"chunk_id", r.Chunk.ID, "error", err)
			continue
		}
		if !ok {
			e.logger.Debug("candidate rejected", "chunk_id", r.Chunk.ID, "score", r.Score)
			continue
		}
		accepted = append(accepted, r)
	}
	return accepted, nil
}

// RelevantContext formats search results as a prompt-ready block. k <= 0
// uses the configured default. When nothing is found the sentinel
// NoRelevantInformation is returned instead of an empty string.
func (e *Engine) RelevantContext(ctx context.Context, query string, k int, knowledgeBases []string) (string, error) {
	if k <= 0 {
		k = e.topK
	}

	results, err := e.Search(ctx, query, k, knowledgeBases)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return NoRelevantInformation, nil
	}

	pieces := make([]string, len(results))
	for i, r := range results {
		pieces[i] = fmt.Sprintf("[Document %d] (Source: %s)\n%s\n", i+1, r.Chunk.Source(), r.Chunk.Content)
	}
	return strings.Join(pieces, "\n\n"), nil
}
