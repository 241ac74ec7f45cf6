package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jra3/contexthub/internal/errs"
	"github.com/jra3/contexthub/internal/wal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEnsureRootCreatesOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root1, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	root2, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if root1 != root2 {
		t.Fatalf("EnsureRoot returned different ids on repeat call: %s vs %s", root1, root2)
	}

	doc, ok := s.Get(root1)
	if !ok {
		t.Fatal("root document not found")
	}
	if len(doc.Children) != 1 {
		t.Fatalf("root should have exactly its auto IndexGuide, got %d children", len(doc.Children))
	}
}

func TestBidirectionalParentChild(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	docID, err := s.Create("note.txt", "u1", &root, TypeText)
	if err != nil {
		t.Fatal(err)
	}

	rootDoc, _ := s.Get(root)
	if len(rootDoc.Children) != 2 {
		t.Fatalf("root.children len = %d, want 2 (index guide + note.txt)", len(rootDoc.Children))
	}
	noteDoc, _ := s.Get(docID)
	if noteDoc.ParentFolderID == nil || *noteDoc.ParentFolderID != root {
		t.Fatal("note.txt.parent_folder_id != root")
	}
}

func TestMoveIntoDescendantRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateFolder(root, "child", "u1")
	if err != nil {
		t.Fatal(err)
	}
	grand, err := s.CreateFolder(child, "grand", "u1")
	if err != nil {
		t.Fatal(err)
	}

	err = s.MoveItem(child, grand)
	if !errs.Is(err, errs.InvariantViolated) {
		t.Fatalf("expected InvariantViolated, got %v", err)
	}

	childDoc, _ := s.Get(child)
	if *childDoc.ParentFolderID != root {
		t.Fatal("child.parent_folder_id must remain root after rejected move")
	}
}

func TestAgentScopeDeniesPrivate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	calendar, err := s.CreateFolder(root, "calendar", "u1")
	if err != nil {
		t.Fatal(err)
	}
	private, err := s.CreateFolder(root, "private", "u1")
	if err != nil {
		t.Fatal(err)
	}
	secret, err := s.Create("secret.txt", "u1", &private, TypeText)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetAgentScope("u1", "sched", []ID{calendar}); err != nil {
		t.Fatal(err)
	}

	if s.HasPermission(secret, "u1", "sched", Read) {
		t.Fatal("agent scoped to calendar should not reach secret.txt under private")
	}
	if !s.HasPermission(secret, "u1", "", Read) {
		t.Fatal("owner without an agent should still reach secret.txt")
	}
}

func TestRenameUpdatesParentChildrenMap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create("old.txt", "u1", &root, TypeText)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Rename(id, "new.txt"); err != nil {
		t.Fatal(err)
	}

	rootDoc, _ := s.Get(root)
	if rootDoc.Children[id].Name != "new.txt" {
		t.Fatalf("parent children map not updated, got %q", rootDoc.Children[id].Name)
	}
}

func TestUpdateAndGetText(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create("note.txt", "u1", &root, TypeText)
	if err != nil {
		t.Fatal(err)
	}
	text := "line one\nligne deux: café ☕\n"
	if err := s.Update(id, text); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(id)
	if doc.Text() != text {
		t.Fatalf("Text() = %q, want %q", doc.Text(), text)
	}
}

func TestDeleteIndexGuideDirectlyRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	rootDoc, _ := s.Get(root)
	var guideID ID
	for id, ref := range rootDoc.Children {
		if ref.Type == TypeIndexGuide {
			guideID = id
		}
	}
	err = s.Delete(guideID)
	if !errs.Is(err, errs.InvariantViolated) {
		t.Fatalf("expected InvariantViolated deleting index guide directly, got %v", err)
	}
}

func TestDeleteFolderRecursesAndRemovesIndexGuide(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateFolder(root, "child", "u1")
	if err != nil {
		t.Fatal(err)
	}
	childDoc, _ := s.Get(child)
	var guideID ID
	for id, ref := range childDoc.Children {
		if ref.Type == TypeIndexGuide {
			guideID = id
		}
	}

	if err := s.Delete(child); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get(child); ok {
		t.Fatal("child folder should be gone")
	}
	if _, ok := s.Get(guideID); ok {
		t.Fatal("child's index guide should be gone with its folder")
	}
	rootDoc, _ := s.Get(root)
	if _, ok := rootDoc.Children[child]; ok {
		t.Fatal("root.children should no longer reference deleted child")
	}
}

func TestAddACLDuplicateSinglePermission(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create("shared.txt", "u1", &root, TypeText)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddACL(id, "u2", Read); err != nil {
		t.Fatal(err)
	}
	if err := s.AddACL(id, "u2", Read); err != nil {
		t.Fatal(err)
	}
	if !s.HasPermission(id, "u2", "", Read) {
		t.Fatal("u2 should have read access")
	}
	if s.HasPermission(id, "u2", "", Write) {
		t.Fatal("u2 should not have write access from a Read-only ACL entry")
	}
}

func TestGarbageCollectDocumentsRemovesOrphans(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureRoot("u1"); err != nil {
		t.Fatal(err)
	}

	orphan := NewID()
	if err := os.WriteFile(filepath.Join(dir, orphan.String()+".bin"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, bytesFreed, err := s.GarbageCollectDocuments()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if bytesFreed != int64(len("garbage")) {
		t.Fatalf("bytesFreed = %d, want %d", bytesFreed, len("garbage"))
	}
	if _, err := os.Stat(filepath.Join(dir, orphan.String()+".bin")); !os.IsNotExist(err) {
		t.Fatal("orphan file should have been removed")
	}
}

func TestCollectIndexGuides(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateFolder(root, "projects", "u1")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := s.Create("notes.txt", "u1", &child, TypeText)
	if err != nil {
		t.Fatal(err)
	}

	guides, err := s.CollectIndexGuides(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(guides) != 2 {
		t.Fatalf("len(guides) = %d, want 2 (root + projects)", len(guides))
	}
	if guides[0].Text != "# root" {
		t.Fatalf("guides[0].Text = %q, want root guide first", guides[0].Text)
	}
	if guides[1].Text != "# projects" {
		t.Fatalf("guides[1].Text = %q, want projects guide second", guides[1].Text)
	}
}

func TestCollectBlobReferences(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create("note.txt", "u1", &root, TypeText)
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(id)
	if err := doc.InsertPointer(0, Pointer{PointerType: "blob", Target: "abc123"}); err != nil {
		t.Fatal(err)
	}
	if err := s.persistLocked(doc); err != nil {
		t.Fatal(err)
	}

	refs, err := s.CollectBlobReferences()
	if err != nil {
		t.Fatal(err)
	}
	if !refs["abc123"] {
		t.Fatalf("expected blob ref abc123 in %v", refs)
	}
}

func TestMutationsAppendWALRecords(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	w, err := wal.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })
	s.SetWAL(w)

	root, err := s.EnsureRoot("u1") // 2 creates: root folder + its index guide
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create("note.txt", "u1", &root, TypeText) // 1 create
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Update(id, "hello"); err != nil { // 1 update
		t.Fatal(err)
	}
	if err := s.AddACL(id, "u2", Read); err != nil { // 1 update_acl
		t.Fatal(err)
	}
	child, err := s.CreateFolder(root, "child", "u1") // 2 creates: folder + index guide
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MoveItem(id, child); err != nil { // 1 move
		t.Fatal(err)
	}
	if err := s.Delete(id); err != nil { // 1 delete
		t.Fatal(err)
	}

	entries, err := w.ReadFrom(0)
	if err != nil {
		t.Fatal(err)
	}

	var creates, updates, updateACLs, moves, deletes int
	for _, e := range entries {
		switch e.Op {
		case wal.OpCreate:
			creates++
		case wal.OpUpdate:
			updates++
		case wal.OpUpdateACL:
			updateACLs++
		case wal.OpMove:
			moves++
		case wal.OpDelete:
			deletes++
		}
	}
	if creates != 5 {
		t.Fatalf("creates = %d, want 5", creates)
	}
	if updates != 1 {
		t.Fatalf("updates = %d, want 1", updates)
	}
	if updateACLs != 1 {
		t.Fatalf("update_acls = %d, want 1", updateACLs)
	}
	if moves != 1 {
		t.Fatalf("moves = %d, want 1", moves)
	}
	if deletes != 1 {
		t.Fatalf("deletes = %d, want 1", deletes)
	}
}

func TestReloadRebuildsStateFromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	root, err := s.EnsureRoot("u1")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create("note.txt", "u1", &root, TypeText)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Update(id, "hello world"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAgentScope("u1", "sched", []ID{root}); err != nil {
		t.Fatal(err)
	}

	s2, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := s2.Get(id)
	if !ok {
		t.Fatal("reopened store should find note.txt")
	}
	if doc.Text() != "hello world" {
		t.Fatalf("Text() after reopen = %q, want %q", doc.Text(), "hello world")
	}
	if !s2.HasPermission(root, "u1", "sched", Read) {
		t.Fatal("agent scope should survive reopen")
	}
}
