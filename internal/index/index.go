// Package index implements the persisted vector index backing retrieval.
//
// Chunks are stored in chromem-go collections, one collection per knowledge
// base, all bound to a single embedding function for the lifetime of the
// Index instance. The per-tag collection layout makes scope isolation
// structural: a search restricted to one set of tags can never observe
// chunks from another.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// Sentinel errors for index operations.
var (
	// ErrNoScope indicates a search was attempted with an empty
	// knowledge-base list. Callers must always supply at least one tag;
	// an empty filter never silently degrades to "search everything".
	ErrNoScope = errors.New("no knowledge base scope")

	// ErrMissingID indicates Add received a chunk without an ID.
	ErrMissingID = errors.New("chunk without id")
)

// Index is a persisted vector store partitioned by knowledge-base tag.
//
// Index is safe for concurrent use. Writes are linearized by chromem-go;
// concurrent searches may observe a chunk added moments ago or not. The
// index is best-effort, not transactional.
type Index struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	prefix string
	logger *slog.Logger
}

// Open opens (or creates) a persistent index at path. The embedding function
// is captured once and bound to every collection the index touches,
// including collections loaded from disk: chromem-go does not persist the
// embedding callback, so rebinding on access guards against an
// ingestion/query embedding mismatch.
func Open(path, collectionPrefix string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store at %q: %w", path, err)
	}

	return &Index{db: db, embed: embed, prefix: collectionPrefix, logger: logger}, nil
}

// NewMemory creates an in-memory index. Intended for tests and ephemeral
// deployments; contents are lost on process exit.
func NewMemory(collectionPrefix string, embed chromem.EmbeddingFunc, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: chromem.NewDB(), embed: embed, prefix: collectionPrefix, logger: logger}
}

// collectionName maps a knowledge-base tag to its collection. Tags are
// sanitized because chromem-go uses the name as a directory name on disk.
func (ix *Index) collectionName(kb string) string {
	var b strings.Builder
	for _, r := range kb {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return ix.prefix + "-" + b.String()
}

// collection returns the collection for a knowledge base, creating it if
// needed and rebinding the index's embedding function either way.
func (ix *Index) collection(kb string) (*chromem.Collection, error) {
	col, err := ix.db.GetOrCreateCollection(ix.collectionName(kb), nil, ix.embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection for knowledge base %q: %w", kb, err)
	}
	return col, nil
}

// knowledgeBases lists the tags that currently have a collection, including
// ones loaded from disk after a restart.
func (ix *Index) knowledgeBases() []string {
	var kbs []string
	for name := range ix.db.ListCollections() {
		if tag, ok := strings.CutPrefix(name, ix.prefix+"-"); ok {
			kbs = append(kbs, tag)
		}
	}
	sort.Strings(kbs)
	return kbs
}

// Add stores chunks in the index. Every chunk needs a non-empty ID; the
// knowledge base is taken from chunk metadata (defaulting to "default").
// Adding an existing ID overwrites the stored chunk.
func (ix *Index) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Group per knowledge base so each batch targets one collection.
	byKB := make(map[string][]chromem.Document)
	for _, c := range chunks {
		if c.ID == "" {
			return ErrMissingID
		}
		byKB[c.KnowledgeBase()] = append(byKB[c.KnowledgeBase()], chromem.Document{
			ID:       c.ID,
			Content:  c.Content,
			Metadata: c.Metadata,
		})
	}

	for kb, docs := range byKB {
		col, err := ix.collection(kb)
		if err != nil {
			return err
		}

		concurrency := len(docs)
		if concurrency > 4 {
			concurrency = 4
		}
		if err := col.AddDocuments(ctx, docs, concurrency); err != nil {
			return fmt.Errorf("adding %d chunks to knowledge base %q: %w", len(docs), kb, err)
		}

		ix.logger.Debug("chunks added", "knowledge_base", kb, "count", len(docs))
	}

	return nil
}

// Delete removes chunks by ID across all knowledge bases. Deleting an ID
// that does not exist is a no-op, never an error, and does not change
// cardinality.
func (ix *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	for _, kb := range ix.knowledgeBases() {
		col, err := ix.collection(kb)
		if err != nil {
			return err
		}

		for _, id := range ids {
			// Existence check first: chromem-go treats unknown IDs
			// inconsistently across versions, and idempotent delete is part
			// of this index's contract.
			if _, err := col.GetByID(ctx, id); err != nil {
				continue
			}
			if err := col.Delete(ctx, nil, nil, id); err != nil {
				return fmt.Errorf("deleting chunk %q from knowledge base %q: %w", id, kb, err)
			}
			ix.logger.Debug("chunk deleted", "id", id, "knowledge_base", kb)
		}
	}

	return nil
}

// Search returns up to k chunks nearest to query, restricted to the given
// knowledge bases. Results from all requested tags are merged and ordered
// by similarity, best first.
//
// An empty knowledge-base list is a caller error (ErrNoScope), not an
// implicit search-everything.
func (ix *Index) Search(ctx context.Context, query string, k int, knowledgeBases []string) ([]Result, error) {
	if len(knowledgeBases) == 0 {
		return nil, ErrNoScope
	}
	if k <= 0 {
		return nil, nil
	}

	var merged []Result
	for _, kb := range knowledgeBases {
		col, err := ix.collection(kb)
		if err != nil {
			return nil, err
		}

		// chromem-go rejects nResults greater than the collection size.
		n := k
		if count := col.Count(); count < n {
			n = count
		}
		if n == 0 {
			continue
		}

		hits, err := col.Query(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("searching knowledge base %q: %w", kb, err)
		}

		for _, h := range hits {
			merged = append(merged, Result{
				Chunk: Chunk{ID: h.ID, Content: h.Content, Metadata: h.Metadata},
				Score: h.Similarity,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Count returns the number of chunks in one knowledge base, or across all
// of them when kb is empty.
func (ix *Index) Count(_ context.Context, kb string) (int, error) {
	if kb != "" {
		col, err := ix.collection(kb)
		if err != nil {
			return 0, err
		}
		return col.Count(), nil
	}

	total := 0
	for _, tag := range ix.knowledgeBases() {
		col, err := ix.collection(tag)
		if err != nil {
			return 0, err
		}
		total += col.Count()
	}
	return total, nil
}

// Clear destroys every knowledge-base collection. Irreversible. Collections
// are recreated lazily on the next Add.
func (ix *Index) Clear(_ context.Context) error {
	for _, kb := range ix.knowledgeBases() {
		if err := ix.db.DeleteCollection(ix.collectionName(kb)); err != nil {
			return fmt.Errorf("dropping collection for knowledge base %q: %w", kb, err)
		}
	}
	ix.logger.Info("vector index cleared")
	return nil
}
