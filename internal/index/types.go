package index

// Metadata keys recognized on stored chunks.
const (
	// MetaSource identifies the originating document or session.
	MetaSource = "source"

	// MetaKnowledgeBase is the tag partitioning chunks into logical corpora.
	MetaKnowledgeBase = "knowledge_base"

	// MetaSheetName and MetaRowNumber are set on row-batched spreadsheet
	// chunks.
	MetaSheetName = "sheet_name"
	MetaRowNumber = "row_number"
)

// DefaultKnowledgeBase is the tag applied when the caller does not name one.
const DefaultKnowledgeBase = "default"

// Chunk is the unit stored in the vector index. Chunks are immutable once
// embedded: replacing content means Delete followed by Add.
type Chunk struct {
	ID       string            // unique within a knowledge base
	Content  string            // text used for embedding, returned as context
	Metadata map[string]string // carries at least source and knowledge_base
}

// KnowledgeBase returns the chunk's knowledge-base tag, defaulting when the
// metadata is silent.
func (c Chunk) KnowledgeBase() string {
	if kb := c.Metadata[MetaKnowledgeBase]; kb != "" {
		return kb
	}
	return DefaultKnowledgeBase
}

// Source returns the chunk's source metadata, or "Unknown" when absent.
func (c Chunk) Source() string {
	if s := c.Metadata[MetaSource]; s != "" {
		return s
	}
	return "Unknown"
}

// Result is a single search hit. Score is cosine similarity: higher is
// better, in [-1, 1] (typically [0, 1] for normalized text embeddings).
type Result struct {
	Chunk Chunk
	Score float32
}
