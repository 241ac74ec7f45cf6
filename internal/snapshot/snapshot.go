// Package snapshot implements the Git-backed point-in-time image manager
// (spec §4.4): a serialized copy of the store's data directory is staged,
// committed, and lightweight-tagged into a Git working tree on every
// snapshot, permitting restore by commit reference or timestamp. Grounded
// on the go-git/go-git/v5 API as used by the retrieved corpus's own
// go-git repository and its release-tooling consumer
// (ethereum-go-ethereum's libevm/tooling/release).
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"github.com/jra3/contexthub/internal/errs"
	"github.com/jra3/contexthub/internal/logging"
	"github.com/jra3/contexthub/internal/store"
)

const tagPrefix = "snapshot-"

var snapshotSignature = object.Signature{
	Name:  "contexthub",
	Email: "contexthub@localhost",
}

// Manager is single-writer: callers must hold the store's exclusive lock
// for the duration of Snapshot and Restore (spec §4.4's concurrency note).
type Manager struct {
	dir  string
	repo *git.Repository
	log  zerolog.Logger
}

// Open initializes a Git repository at dir if absent, or opens it if
// present (spec §4.4's open_or_init).
func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap("snapshot.open", errs.IO, err)
	}
	repo, err := git.PlainOpen(dir)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, errs.Wrap("snapshot.open", errs.IO, err)
	}
	return &Manager{dir: dir, repo: repo, log: logging.WithComponent("snapshot")}, nil
}

// Snapshot copies every file from s.DataDir() into the Git working tree,
// stages all, and commits with message "Snapshot <rfc3339>", parented on
// the current HEAD (or as a root commit if none exists yet), then tags it
// "snapshot-<unix_seconds>" (spec §4.4's snapshot).
func (m *Manager) Snapshot(s *store.Store) (plumbing.Hash, error) {
	if err := m.syncWorkingTree(s.DataDir()); err != nil {
		return plumbing.ZeroHash, err
	}

	wt, err := m.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, errs.Wrap("snapshot.snapshot", errs.IO, err)
	}
	if _, err := wt.Add("."); err != nil {
		return plumbing.ZeroHash, errs.Wrap("snapshot.snapshot", errs.IO, err)
	}

	now := time.Now().UTC()
	msg := fmt.Sprintf("Snapshot %s", now.Format(time.RFC3339))
	commitHash, err := wt.Commit(msg, &git.CommitOptions{
		Author:    &object.Signature{Name: snapshotSignature.Name, Email: snapshotSignature.Email, When: now},
		Committer: &object.Signature{Name: snapshotSignature.Name, Email: snapshotSignature.Email, When: now},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return plumbing.ZeroHash, errs.Wrap("snapshot.snapshot", errs.IO, err)
	}

	tagName := fmt.Sprintf("%s%d", tagPrefix, now.Unix())
	if _, err := m.repo.CreateTag(tagName, commitHash, nil); err != nil {
		return plumbing.ZeroHash, errs.Wrap("snapshot.snapshot", errs.IO, err)
	}

	m.log.Info().Str("commit", commitHash.String()).Str("tag", tagName).Msg("snapshot committed")
	return commitHash, nil
}

// syncWorkingTree makes the Git working tree's file set match dataDir
// exactly: removes files no longer present, copies the rest. This keeps
// the commit's tree a strict reflection of what's on disk (spec §5's
// "strict prefix" property), not an accretion of stale files.
func (m *Manager) syncWorkingTree(dataDir string) error {
	srcEntries, err := os.ReadDir(dataDir)
	if err != nil {
		return errs.Wrap("snapshot.sync", errs.IO, err)
	}
	want := make(map[string]bool, len(srcEntries))
	for _, e := range srcEntries {
		if e.IsDir() {
			continue
		}
		want[e.Name()] = true
	}

	dstEntries, err := os.ReadDir(m.dir)
	if err != nil {
		return errs.Wrap("snapshot.sync", errs.IO, err)
	}
	for _, e := range dstEntries {
		if e.IsDir() {
			continue // leave .git/ and any subdirectories alone
		}
		if !want[e.Name()] {
			if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
				return errs.Wrap("snapshot.sync", errs.IO, err)
			}
		}
	}

	for name := range want {
		if err := copyFile(filepath.Join(dataDir, name), filepath.Join(m.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap("snapshot.copy_file", errs.IO, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errs.Wrap("snapshot.copy_file", errs.IO, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap("snapshot.copy_file", errs.IO, err)
	}
	return out.Close()
}

// tagCommitTime resolves a lightweight tag reference name to its target
// commit's author time.
func (m *Manager) tagCommitTime(ref *plumbing.Reference) (time.Time, error) {
	commit, err := m.repo.CommitObject(ref.Hash())
	if err != nil {
		return time.Time{}, errs.Wrap("snapshot.tag_commit_time", errs.IO, err)
	}
	return commit.Author.When, nil
}

type tagInfo struct {
	name string
	ref  *plumbing.Reference
	when time.Time
}

func (m *Manager) listSnapshotTags() ([]tagInfo, error) {
	iter, err := m.repo.Tags()
	if err != nil {
		return nil, errs.Wrap("snapshot.list_tags", errs.IO, err)
	}
	var tags []tagInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if !strings.HasPrefix(name, tagPrefix) {
			return nil
		}
		when, err := m.tagCommitTime(ref)
		if err != nil {
			return err
		}
		tags = append(tags, tagInfo{name: name, ref: ref, when: when})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].when.Before(tags[j].when) })
	return tags, nil
}

// PruneOldTags lists tags matching "snapshot-*", sorted by commit time
// ascending, and deletes from the front until at most keep remain (spec
// §4.4's prune_old_tags).
func (m *Manager) PruneOldTags(keep int) error {
	tags, err := m.listSnapshotTags()
	if err != nil {
		return err
	}
	if len(tags) <= keep {
		return nil
	}
	toDelete := tags[:len(tags)-keep]
	for _, t := range toDelete {
		if err := m.repo.DeleteTag(t.name); err != nil {
			return errs.Wrap("snapshot.prune_old_tags", errs.IO, err)
		}
	}
	return nil
}

// History walks from HEAD up to limit commits, returning (commit hash,
// author time) pairs (spec §4.4's history).
func (m *Manager) History(limit int) ([]CommitInfo, error) {
	head, err := m.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil, nil
		}
		return nil, errs.Wrap("snapshot.history", errs.IO, err)
	}
	iter, err := m.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errs.Wrap("snapshot.history", errs.IO, err)
	}
	defer iter.Close()

	var out []CommitInfo
	for len(out) < limit {
		c, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap("snapshot.history", errs.IO, err)
		}
		out = append(out, CommitInfo{Hash: c.Hash, When: c.Author.When})
	}
	return out, nil
}

// CommitInfo is one entry in History's result.
type CommitInfo struct {
	Hash plumbing.Hash
	When time.Time
}
