package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sagekit/sage/internal/index"
)

// Adder is the slice of the vector index the ingestor writes through.
type Adder interface {
	Add(ctx context.Context, chunks []index.Chunk) error
}

// Ingestor runs the load → chunk → index pipeline for documents, web
// pages and conversation turns.
type Ingestor struct {
	loader  *Loader
	chunker *Chunker
	idx     Adder
	logger  *slog.Logger
}

// Config carries the ingestor dependencies.
type Config struct {
	Loader  *Loader
	Chunker *Chunker
	Index   Adder
	Logger  *slog.Logger
}

func (c *Config) validate() error {
	if c.Loader == nil {
		return fmt.Errorf("loader is required")
	}
	if c.Chunker == nil {
		return fmt.Errorf("chunker is required")
	}
	if c.Index == nil {
		return fmt.Errorf("index is required")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// New creates an Ingestor from the config.
func New(cfg *Config) (*Ingestor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid ingestor config: %w", err)
	}
	return &Ingestor{
		loader:  cfg.Loader,
		chunker: cfg.Chunker,
		idx:     cfg.Index,
		logger:  cfg.Logger,
	}, nil
}

// IsSupported reports whether the file's extension can be ingested.
func (in *Ingestor) IsSupported(path string) bool {
	return in.loader.IsSupported(path)
}

// AddDocument loads a file, chunks it and writes the chunks to the index
// under the knowledge base. Chunk IDs are docID-0, docID-1, ... numbered
// across the whole file, so re-ingesting with the same docID overwrites the
// earlier chunks in place. Returns the number of chunks written.
func (in *Ingestor) AddDocument(ctx context.Context, path, docID, knowledgeBase string) (int, error) {
	units, err := in.loader.Load(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("loading document: %w", err)
	}
	return in.addUnits(ctx, units, docID, knowledgeBase, path)
}

// AddURL fetches a web page, extracts its readable text and indexes it
// like a document.
func (in *Ingestor) AddURL(ctx context.Context, rawURL, docID, knowledgeBase string) (int, error) {
	unit, err := FetchURL(ctx, rawURL)
	if err != nil {
		return 0, fmt.Errorf("fetching url: %w", err)
	}
	return in.addUnits(ctx, []Unit{unit}, docID, knowledgeBase, rawURL)
}

// AddText indexes a free-form text snippet, for example a finished chat
// turn, as a pseudo-document attributed to the given source label.
func (in *Ingestor) AddText(ctx context.Context, text, docID, source, knowledgeBase string) (int, error) {
	unit := Unit{
		Text:     text,
		Metadata: map[string]string{unitSource: source},
	}
	return in.addUnits(ctx, []Unit{unit}, docID, knowledgeBase, source)
}

func (in *Ingestor) addUnits(ctx context.Context, units []Unit, docID, knowledgeBase, origin string) (int, error) {
	if knowledgeBase == "" {
		knowledgeBase = index.DefaultKnowledgeBase
	}

	var chunks []index.Chunk
	for _, unit := range units {
		for _, segment := range in.chunker.Split(unit.Text) {
			meta := make(map[string]string, len(unit.Metadata)+1)
			for k, v := range unit.Metadata {
				meta[k] = v
			}
			meta[index.MetaKnowledgeBase] = knowledgeBase
			chunks = append(chunks, index.Chunk{
				ID:       docID + "-" + strconv.Itoa(len(chunks)),
				Content:  segment,
				Metadata: meta,
			})
		}
	}

	if len(chunks) == 0 {
		in.logger.Warn("no content to index", "origin", origin, "knowledge_base", knowledgeBase)
		return 0, nil
	}

	if err := in.idx.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("indexing chunks: %w", err)
	}

	in.logger.Info("indexed document",
		"origin", origin,
		"doc_id", docID,
		"knowledge_base", knowledgeBase,
		"chunks", len(chunks))
	return len(chunks), nil
}
