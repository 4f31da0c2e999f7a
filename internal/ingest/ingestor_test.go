package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sagekit/sage/internal/index"
	"github.com/sagekit/sage/internal/log"
)

type captureAdder struct {
	chunks []index.Chunk
	err    error
	calls  int
}

func (a *captureAdder) Add(_ context.Context, chunks []index.Chunk) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	a.chunks = append(a.chunks, chunks...)
	return nil
}

func newTestIngestor(t *testing.T, adder Adder, chunkSize, overlap int) *Ingestor {
	t.Helper()
	in, err := New(&Config{
		Loader:  NewLoader(nil, nil),
		Chunker: NewChunker(chunkSize, overlap),
		Index:   adder,
		Logger:  log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return in
}

func TestIngestorConfigValidation(t *testing.T) {
	_, err := New(&Config{})
	if err == nil {
		t.Fatal("New() accepted empty config")
	}
}

func TestIngestorAddDocument(t *testing.T) {
	adder := &captureAdder{}
	in := newTestIngestor(t, adder, 10, 0)
	path := writeTempFile(t, "notes.txt", strings.Repeat("0123456789", 3))

	n, err := in.AddDocument(context.Background(), path, "doc1", "research")
	if err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("indexed %d chunks, want 3", n)
	}

	wantIDs := []string{"doc1-0", "doc1-1", "doc1-2"}
	for i, chunk := range adder.chunks {
		if chunk.ID != wantIDs[i] {
			t.Errorf("chunk %d ID = %q, want %q", i, chunk.ID, wantIDs[i])
		}
		if chunk.Metadata[index.MetaKnowledgeBase] != "research" {
			t.Errorf("chunk %d knowledge base = %q", i, chunk.Metadata[index.MetaKnowledgeBase])
		}
		if chunk.Metadata[index.MetaSource] != "notes.txt" {
			t.Errorf("chunk %d source = %q", i, chunk.Metadata[index.MetaSource])
		}
	}
}

func TestIngestorDefaultKnowledgeBase(t *testing.T) {
	adder := &captureAdder{}
	in := newTestIngestor(t, adder, 100, 0)
	path := writeTempFile(t, "notes.txt", "some content")

	if _, err := in.AddDocument(context.Background(), path, "doc1", ""); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if got := adder.chunks[0].Metadata[index.MetaKnowledgeBase]; got != index.DefaultKnowledgeBase {
		t.Errorf("knowledge base = %q, want %q", got, index.DefaultKnowledgeBase)
	}
}

func TestIngestorChunkIDsSpanUnits(t *testing.T) {
	adder := &captureAdder{}
	in := newTestIngestor(t, adder, 100, 0)
	path := writeTempFile(t, "table.csv", "a,b\nc,d\ne,f\n")

	n, err := in.AddDocument(context.Background(), path, "tbl", "default")
	if err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("indexed %d chunks, want 3", n)
	}
	// IDs keep counting across rows so nothing collides.
	if adder.chunks[2].ID != "tbl-2" {
		t.Errorf("last chunk ID = %q, want tbl-2", adder.chunks[2].ID)
	}
}

func TestIngestorEmptyDocumentWritesNothing(t *testing.T) {
	adder := &captureAdder{}
	in := newTestIngestor(t, adder, 100, 0)
	path := writeTempFile(t, "empty.txt", "   ")

	n, err := in.AddDocument(context.Background(), path, "doc1", "default")
	if err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if n != 0 {
		t.Errorf("indexed %d chunks, want 0", n)
	}
	if adder.calls != 0 {
		t.Error("Add was called for an empty document")
	}
}

func TestIngestorAddText(t *testing.T) {
	adder := &captureAdder{}
	in := newTestIngestor(t, adder, 100, 0)

	n, err := in.AddText(context.Background(), "user: what is Go?", "turn-1", "session abc", "chat")
	if err != nil {
		t.Fatalf("AddText() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("indexed %d chunks, want 1", n)
	}
	chunk := adder.chunks[0]
	if chunk.ID != "turn-1-0" {
		t.Errorf("ID = %q", chunk.ID)
	}
	if chunk.Metadata[index.MetaSource] != "session abc" {
		t.Errorf("source = %q", chunk.Metadata[index.MetaSource])
	}
}

func TestIngestorPropagatesIndexError(t *testing.T) {
	adder := &captureAdder{err: errors.New("store unavailable")}
	in := newTestIngestor(t, adder, 100, 0)
	path := writeTempFile(t, "notes.txt", "content")

	if _, err := in.AddDocument(context.Background(), path, "doc1", "default"); err == nil {
		t.Error("AddDocument() succeeded despite index failure")
	}
}

func TestIngestorUnsupportedDocument(t *testing.T) {
	adder := &captureAdder{}
	in := newTestIngestor(t, adder, 100, 0)
	path := writeTempFile(t, "binary.exe", "MZ")

	_, err := in.AddDocument(context.Background(), path, "doc1", "default")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
}
