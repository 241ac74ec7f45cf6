package index

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndSearch(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexDocument(ctx, "doc-1", "roadmap.txt", "quarterly roadmap and goals", []string{"root", "planning"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexDocument(ctx, "doc-2", "recipes.txt", "pasta and sauce", []string{"root", "home"}); err != nil {
		t.Fatal(err)
	}

	ids, err := idx.Search(ctx, "roadmap", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "doc-1" {
		t.Fatalf("Search(roadmap) = %v, want [doc-1]", ids)
	}
}

func TestIndexDocumentReindexReplaces(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexDocument(ctx, "doc-1", "a.txt", "alpha", nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexDocument(ctx, "doc-1", "a.txt", "bravo", nil); err != nil {
		t.Fatal(err)
	}

	ids, err := idx.Search(ctx, "alpha", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("stale content still searchable: %v", ids)
	}
	ids, err = idx.Search(ctx, "bravo", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("Search(bravo) = %v, want [doc-1]", ids)
	}
}

func TestRemoveDocumentExcludesFromSearch(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexDocument(ctx, "doc-1", "a.txt", "unique-term-xyz", nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.RemoveDocument(ctx, "doc-1"); err != nil {
		t.Fatal(err)
	}
	ids, err := idx.Search(ctx, "unique-term-xyz", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("deleted document still searchable: %v", ids)
	}
}

func TestCleanupDeletedRemovesStaleRows(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexDocument(ctx, "doc-1", "a.txt", "alpha", nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexDocument(ctx, "doc-2", "b.txt", "bravo", nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.RemoveDocument(ctx, "doc-2"); err != nil {
		t.Fatal(err)
	}

	removed, err := idx.CleanupDeleted(ctx, map[string]bool{"doc-1": true})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("CleanupDeleted removed = %d, want 1", removed)
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats.Total = %d, want 1", stats.Total)
	}
}
