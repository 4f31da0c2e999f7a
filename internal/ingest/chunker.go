package ingest

import "strings"

// Chunker splits text into overlapping segments sized for embedding.
//
// Segments never cross the boundary of the unit they came from; overlap
// repeats trailing context from the previous segment so sentences cut at a
// boundary stay searchable.
type Chunker struct {
	size    int // maximum runes per chunk
	overlap int // runes repeated between consecutive chunks
}

// NewChunker creates a Chunker. Non-positive size falls back to 500;
// negative overlap or overlap >= size falls back to 0.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split divides text into chunks of at most the configured size. Empty or
// whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}
}
