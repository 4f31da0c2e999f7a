package index

import (
	"context"
	"testing"

	"github.com/sagekit/sage/internal/log"
)

// stubEmbedding returns a fixed vector per known text so similarity
// ordering in tests is deterministic. Unknown text maps to a far-away
// direction.
func stubEmbedding(vectors map[string][]float32) func(ctx context.Context, text string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return []float32{0, 0, 1}, nil
	}
}

// newTestIndex builds an in-memory index where "alpha" is most similar to
// "query", then "beta", then "gamma".
func newTestIndex() *Index {
	vectors := map[string][]float32{
		"query": {1, 0, 0},
		"alpha": {1, 0, 0},
		"beta":  {0.9, 0.4, 0},
		"gamma": {0.1, 1, 0},
	}
	return NewMemory("test", stubEmbedding(vectors), log.NewNop())
}

func addChunk(t *testing.T, ix *Index, id, content, kb string) {
	t.Helper()
	err := ix.Add(context.Background(), []Chunk{{
		ID:      id,
		Content: content,
		Metadata: map[string]string{
			MetaSource:        id + ".txt",
			MetaKnowledgeBase: kb,
		},
	}})
	if err != nil {
		t.Fatalf("Add(%s): %v", id, err)
	}
}

func TestSearchOrdersByScoreDescending(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "c1", "gamma", "default")
	addChunk(t, ix, "c2", "alpha", "default")
	addChunk(t, ix, "c3", "beta", "default")

	results, err := ix.Search(context.Background(), "query", 3, []string{"default"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []string{"alpha", "beta", "gamma"}
	for i, w := range want {
		if results[i].Chunk.Content != w {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Chunk.Content, w)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score descending at %d", i)
		}
	}
}

func TestSearchScopeIsolation(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "a1", "alpha", "kb-a")
	addChunk(t, ix, "b1", "beta", "kb-b")

	results, err := ix.Search(context.Background(), "query", 5, []string{"kb-b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if got := results[0].Chunk.KnowledgeBase(); got != "kb-b" {
		t.Errorf("knowledge base = %q, want kb-b", got)
	}
	if results[0].Chunk.ID != "b1" {
		t.Errorf("id = %q, want b1", results[0].Chunk.ID)
	}
}

func TestSearchMergesAcrossKnowledgeBases(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "a1", "beta", "kb-a")
	addChunk(t, ix, "b1", "alpha", "kb-b")

	results, err := ix.Search(context.Background(), "query", 2, []string{"kb-a", "kb-b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// alpha (kb-b) scores higher than beta (kb-a) regardless of tag order.
	if results[0].Chunk.ID != "b1" || results[1].Chunk.ID != "a1" {
		t.Errorf("merge order = [%s %s], want [b1 a1]", results[0].Chunk.ID, results[1].Chunk.ID)
	}
}

func TestSearchEmptyScopeIsError(t *testing.T) {
	ix := newTestIndex()
	if _, err := ix.Search(context.Background(), "query", 3, nil); err != ErrNoScope {
		t.Errorf("Search with empty scope = %v, want ErrNoScope", err)
	}
}

func TestSearchZeroKReturnsNothing(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "c1", "alpha", "default")

	results, err := ix.Search(context.Background(), "query", 0, []string{"default"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearchClampsToCollectionSize(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "c1", "alpha", "default")

	// Requesting more results than stored must not error.
	results, err := ix.Search(context.Background(), "query", 10, []string{"default"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSearchUnknownKnowledgeBaseIsEmpty(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "c1", "alpha", "default")

	results, err := ix.Search(context.Background(), "query", 3, []string{"never-seen"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "c1", "alpha", "default")
	addChunk(t, ix, "c2", "beta", "default")

	ctx := context.Background()

	// Deleting an ID that never existed must not error or change counts.
	if err := ix.Delete(ctx, "ghost"); err != nil {
		t.Fatalf("Delete(ghost): %v", err)
	}
	if n, _ := ix.Count(ctx, "default"); n != 2 {
		t.Errorf("count after ghost delete = %d, want 2", n)
	}

	if err := ix.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete(c1): %v", err)
	}
	if n, _ := ix.Count(ctx, "default"); n != 1 {
		t.Errorf("count after delete = %d, want 1", n)
	}

	// Second delete of the same ID is a no-op.
	if err := ix.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete(c1) again: %v", err)
	}
	if n, _ := ix.Count(ctx, "default"); n != 1 {
		t.Errorf("count after repeat delete = %d, want 1", n)
	}
}

func TestCountPerKnowledgeBaseAndTotal(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "a1", "alpha", "kb-a")
	addChunk(t, ix, "a2", "beta", "kb-a")
	addChunk(t, ix, "b1", "gamma", "kb-b")

	ctx := context.Background()

	if n, err := ix.Count(ctx, "kb-a"); err != nil || n != 2 {
		t.Errorf("Count(kb-a) = %d, %v; want 2, nil", n, err)
	}
	if n, err := ix.Count(ctx, "kb-b"); err != nil || n != 1 {
		t.Errorf("Count(kb-b) = %d, %v; want 1, nil", n, err)
	}
	if n, err := ix.Count(ctx, ""); err != nil || n != 3 {
		t.Errorf("Count(all) = %d, %v; want 3, nil", n, err)
	}
}

func TestClearDestroysEverything(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "a1", "alpha", "kb-a")
	addChunk(t, ix, "b1", "beta", "kb-b")

	ctx := context.Background()
	if err := ix.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if n, _ := ix.Count(ctx, ""); n != 0 {
		t.Errorf("count after clear = %d, want 0", n)
	}

	// Index remains usable after clear.
	addChunk(t, ix, "a2", "gamma", "kb-a")
	if n, _ := ix.Count(ctx, "kb-a"); n != 1 {
		t.Errorf("count after re-add = %d, want 1", n)
	}
}

func TestAddRequiresID(t *testing.T) {
	ix := newTestIndex()
	err := ix.Add(context.Background(), []Chunk{{Content: "alpha"}})
	if err != ErrMissingID {
		t.Errorf("Add without ID = %v, want ErrMissingID", err)
	}
}

func TestAddOverwritesExistingID(t *testing.T) {
	ix := newTestIndex()
	addChunk(t, ix, "c1", "alpha", "default")
	addChunk(t, ix, "c1", "beta", "default")

	ctx := context.Background()
	if n, _ := ix.Count(ctx, "default"); n != 1 {
		t.Fatalf("count after overwrite = %d, want 1", n)
	}

	results, err := ix.Search(ctx, "query", 1, []string{"default"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Chunk.Content != "beta" {
		t.Errorf("content = %q, want replaced content beta", results[0].Chunk.Content)
	}
}
