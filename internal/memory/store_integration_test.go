package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aster0/aster/internal/memory"
	"github.com/aster0/aster/internal/testutil"
)

// newIntegrationStore needs both a container and a live embedder, so these
// tests run only with Docker available and GEMINI_API_KEY set.
func newIntegrationStore(t *testing.T) *memory.Store {
	t.Helper()
	setup := testutil.SetupEmbedder(t)
	db := testutil.SetupTestDB(t)
	store, err := memory.NewStore(db.Pool, setup.Embedder, setup.Logger)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return store
}

func TestStore_AddSearchDeactivate(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	err := store.Add(ctx, "owner-1", "The user's favorite language is Go.",
		memory.CategoryPreference, uuid.Nil, 0.8)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	err = store.Add(ctx, "owner-1", "The user lives in Lisbon.",
		memory.CategoryIdentity, uuid.Nil, 0.6)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	found, err := store.Search(ctx, "owner-1", "what programming language do I like?", 1)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Search() returned %d memories, want 1", len(found))
	}
	if !strings.Contains(found[0].Content, "Go") {
		t.Errorf("top match = %q, want the language preference", found[0].Content)
	}

	// Duplicate content for the same owner is discarded.
	err = store.Add(ctx, "owner-1", "The user's favorite language is Go.",
		memory.CategoryPreference, uuid.Nil, 0.8)
	if err != nil {
		t.Fatalf("duplicate Add() error: %v", err)
	}
	all, err := store.List(ctx, "owner-1", 10, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d memories after duplicate add, want 2", len(all))
	}

	// Recall formats matches into a prompt block.
	block, err := store.Recall(ctx, "owner-1", "where do I live?", 500)
	if err != nil {
		t.Fatalf("Recall() error: %v", err)
	}
	if !strings.Contains(block, "Lisbon") {
		t.Errorf("Recall() block = %q, want it to mention Lisbon", block)
	}

	// Deactivation is owner-scoped.
	target := all[0]
	if err := store.Deactivate(ctx, target.ID, "owner-2"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Deactivate(foreign owner) = %v, want ErrNotFound", err)
	}
	if err := store.Deactivate(ctx, target.ID, "owner-1"); err != nil {
		t.Fatalf("Deactivate() error: %v", err)
	}
	all, err = store.List(ctx, "owner-1", 10, 0)
	if err != nil {
		t.Fatalf("List() after deactivate error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() returned %d active memories, want 1", len(all))
	}
}

func TestStore_OwnerScoping(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	err := store.Add(ctx, "owner-1", "The user prefers dark mode.",
		memory.CategoryPreference, uuid.Nil, 0.5)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	found, err := store.Search(ctx, "owner-2", "dark mode", 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Search(other owner) returned %d memories, want 0", len(found))
	}
}
