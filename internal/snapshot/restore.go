package snapshot

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/jra3/contexthub/internal/errs"
	"github.com/jra3/contexthub/internal/store"
)

// ResolveRev resolves rev per spec §4.4: if it parses as RFC-3339, walk
// commits from HEAD backward and return the first commit whose author
// time is at or before the parsed instant; otherwise treat rev as a Git
// revspec.
func (m *Manager) ResolveRev(rev string) (*object.Commit, error) {
	if t, err := time.Parse(time.RFC3339, rev); err == nil {
		return m.resolveByTime(t)
	}

	hash, err := m.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, errs.Wrap("snapshot.resolve_rev", errs.NotFound, err)
	}
	commit, err := m.repo.CommitObject(*hash)
	if err != nil {
		return nil, errs.Wrap("snapshot.resolve_rev", errs.NotFound, err)
	}
	return commit, nil
}

func (m *Manager) resolveByTime(t time.Time) (*object.Commit, error) {
	head, err := m.repo.Head()
	if err != nil {
		return nil, errs.Wrap("snapshot.resolve_rev", errs.NotFound, err)
	}
	iter, err := m.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errs.Wrap("snapshot.resolve_rev", errs.IO, err)
	}
	defer iter.Close()

	for {
		c, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap("snapshot.resolve_rev", errs.IO, err)
		}
		if !c.Author.When.After(t) {
			return c, nil
		}
	}
	return nil, errs.Msg("snapshot.resolve_rev", errs.NotFound, "no commit at or before %s", t.Format(time.RFC3339))
}

// Restore materializes rev's tree into the store's data directory, then
// reloads the store and clears its dirty flag (spec §4.4's restore). The
// caller must hold the store's exclusive lock.
func (m *Manager) Restore(s *store.Store, rev string) error {
	commit, err := m.ResolveRev(rev)
	if err != nil {
		return err
	}
	tree, err := commit.Tree()
	if err != nil {
		return errs.Wrap("snapshot.restore", errs.IO, err)
	}

	dataDir := s.DataDir()
	existing, err := os.ReadDir(dataDir)
	if err != nil {
		return errs.Wrap("snapshot.restore", errs.IO, err)
	}
	for _, e := range existing {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dataDir, e.Name())); err != nil {
			return errs.Wrap("snapshot.restore", errs.IO, err)
		}
	}

	walker := object.NewTreeWalker(tree, false, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.Wrap("snapshot.restore", errs.IO, err)
		}
		if !entry.Mode.IsFile() {
			continue
		}
		blob, err := m.repo.BlobObject(entry.Hash)
		if err != nil {
			return errs.Wrap("snapshot.restore", errs.IO, err)
		}
		if err := writeBlobTo(blob, filepath.Join(dataDir, name)); err != nil {
			return err
		}
	}

	if err := s.Reload(); err != nil {
		return err
	}
	s.ClearDirty()
	return nil
}

func writeBlobTo(blob *object.Blob, dst string) error {
	r, err := blob.Reader()
	if err != nil {
		return errs.Wrap("snapshot.write_blob", errs.IO, err)
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return errs.Wrap("snapshot.write_blob", errs.IO, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return errs.Wrap("snapshot.write_blob", errs.IO, err)
	}
	return f.Close()
}

// LoadDocumentAt resolves rev, locates "<id>.bin" in that commit's tree,
// decodes it, and returns a Document without touching the live store
// (spec §4.4's load_document_at).
func (m *Manager) LoadDocumentAt(id store.ID, rev string) (*store.Document, error) {
	commit, err := m.ResolveRev(rev)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, errs.Wrap("snapshot.load_document_at", errs.IO, err)
	}
	entry, err := tree.FindEntry(id.String() + ".bin")
	if err != nil {
		return nil, errs.Msg("snapshot.load_document_at", errs.NotFound, "document %s not found at rev %s", id, rev)
	}
	blob, err := m.repo.BlobObject(entry.Hash)
	if err != nil {
		return nil, errs.Wrap("snapshot.load_document_at", errs.IO, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, errs.Wrap("snapshot.load_document_at", errs.IO, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap("snapshot.load_document_at", errs.IO, err)
	}
	return store.DecodeDocument(id, data)
}
