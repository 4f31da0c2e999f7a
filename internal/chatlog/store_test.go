package chatlog

import (
	"context"
	"testing"

	"github.com/sagekit/sage/internal/log"
	"github.com/sagekit/sage/internal/testutil"
)

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	pg, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	store, err := New(pg.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "s1", []string{"hello", "hi there"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "s2", []string{"another session"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "s1", []string{"hello", "hi there", "follow-up"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent() returned %d records, want 3", len(recent))
	}
	// Newest first.
	if recent[0].SessionID != "s1" || len(recent[0].Messages) != 3 {
		t.Errorf("newest record = %+v", recent[0])
	}
	if recent[0].IsJudged || recent[0].IsUsed {
		t.Error("fresh record should be unjudged and unused")
	}

	bySession, err := store.BySession(ctx, "s1")
	if err != nil {
		t.Fatalf("BySession() error = %v", err)
	}
	if len(bySession) != 2 {
		t.Fatalf("BySession() returned %d records, want 2", len(bySession))
	}
	// Oldest first.
	if len(bySession[0].Messages) != 2 || bySession[0].Messages[1] != "hi there" {
		t.Errorf("oldest record = %+v", bySession[0])
	}
}

func TestStoreSaveAsync(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	pg, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	store, err := New(pg.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	store.SaveAsync(context.Background(), "s1", []string{"fire and forget"})
	store.Wait()

	records, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Messages[0] != "fire and forget" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestStoreValidation(t *testing.T) {
	if _, err := New(nil, log.NewNop()); err == nil {
		t.Error("New() accepted nil database")
	}
}
