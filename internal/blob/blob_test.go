package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jra3/contexthub/internal/errs"
)

func TestFSResolverStoreFetch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := NewFSResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Store(ctx, "abc123", []byte("payload")); err != nil {
		t.Fatal(err)
	}
	got, err := r.Fetch(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("Fetch() = %q, want payload", got)
	}
}

func TestFSResolverFetchMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := NewFSResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Fetch(context.Background(), "missing")
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFSResolverCalculateSize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := NewFSResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Store(ctx, "a", []byte("12345")); err != nil {
		t.Fatal(err)
	}
	if err := r.Store(ctx, "b", []byte("1234567890")); err != nil {
		t.Fatal(err)
	}
	size, err := r.CalculateSize()
	if err != nil {
		t.Fatal(err)
	}
	if size != 15 {
		t.Fatalf("CalculateSize() = %d, want 15", size)
	}
}

func TestFSResolverGarbageCollect(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := NewFSResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Store(ctx, "keep", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := r.Store(ctx, "orphan-old", []byte("y")); err != nil {
		t.Fatal(err)
	}
	if err := r.Store(ctx, "orphan-recent", []byte("z")); err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "orphan-old"), old, old); err != nil {
		t.Fatal(err)
	}

	removed, bytesFreed, err := r.GarbageCollect(map[string]bool{"keep": true})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1 (only orphan-old is past grace period)", removed)
	}
	if bytesFreed != 1 {
		t.Fatalf("bytesFreed = %d, want 1", bytesFreed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep")); err != nil {
		t.Fatal("keep should still exist")
	}
	if _, err := os.Stat(filepath.Join(dir, "orphan-recent")); err != nil {
		t.Fatal("orphan-recent should still exist (within grace period)")
	}
}

func TestRegistryNoResolver(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(0, 0)
	_, err := reg.Fetch(context.Background(), "blob", "x")
	if !errs.Is(err, errs.NoResolver) {
		t.Fatalf("expected NoResolver, got %v", err)
	}
}

func TestRegistryStoreFetchCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fsResolver, err := NewFSResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(time.Minute, 100)
	reg.Register("blob", fsResolver)

	ctx := context.Background()
	if err := reg.Store(ctx, "blob", "tgt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := reg.Fetch(ctx, "blob", "tgt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("Fetch() = %q, want hello", got)
	}

	// Remove the underlying file; cached fetch should still succeed.
	if err := os.Remove(filepath.Join(dir, "tgt")); err != nil {
		t.Fatal(err)
	}
	got2, err := reg.Fetch(ctx, "blob", "tgt")
	if err != nil {
		t.Fatalf("expected cached fetch to succeed, got %v", err)
	}
	if string(got2) != "hello" {
		t.Fatalf("cached Fetch() = %q, want hello", got2)
	}
}
