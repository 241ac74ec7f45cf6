package blob

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jra3/contexthub/internal/errs"
)

// FSResolver is the filesystem-backed Resolver: one file per blob under
// Dir, named by the pointer's target string (spec §4.2). It also exposes the
// size/GC operations the compress service drives directly (those are
// not part of the generic Resolver interface since no other backend in
// this core needs them).
type FSResolver struct {
	Dir string
}

// NewFSResolver creates (if absent) Dir and returns a resolver rooted there.
func NewFSResolver(dir string) (*FSResolver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap("blob.fs_resolver.new", errs.IO, err)
	}
	return &FSResolver{Dir: dir}, nil
}

func (f *FSResolver) path(target string) string {
	return filepath.Join(f.Dir, target)
}

// Store writes bytes to f.Dir/target.
func (f *FSResolver) Store(_ context.Context, target string, data []byte) error {
	if err := os.WriteFile(f.path(target), data, 0o644); err != nil {
		return errs.Wrap("blob.fs_resolver.store", errs.IO, err)
	}
	return nil
}

// Fetch reads bytes from f.Dir/target.
func (f *FSResolver) Fetch(_ context.Context, target string) ([]byte, error) {
	data, err := os.ReadFile(f.path(target))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap("blob.fs_resolver.fetch", errs.NotFound, err)
		}
		return nil, errs.Wrap("blob.fs_resolver.fetch", errs.IO, err)
	}
	return data, nil
}

// CalculateSize sums the size of every file under Dir (spec §4.2).
func (f *FSResolver) CalculateSize() (uint64, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return 0, errs.Wrap("blob.fs_resolver.calculate_size", errs.IO, err)
	}
	var total uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, errs.Wrap("blob.fs_resolver.calculate_size", errs.IO, err)
		}
		total += uint64(info.Size())
	}
	return total, nil
}

// gcGracePeriod is the one-hour grace window below which a file is kept
// even if not in activeRefs, so an in-flight upload can't be GC'd out
// from under a concurrent write (spec §4.2).
const gcGracePeriod = time.Hour

// GarbageCollect removes any file not in activeRefs whose mtime is older
// than the one-hour grace period (spec §4.2).
func (f *FSResolver) GarbageCollect(activeRefs map[string]bool) (removed int, bytesFreed uint64, err error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return 0, 0, errs.Wrap("blob.fs_resolver.garbage_collect", errs.IO, err)
	}

	cutoff := time.Now().Add(-gcGracePeriod)
	for _, e := range entries {
		if e.IsDir() || activeRefs[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return removed, bytesFreed, errs.Wrap("blob.fs_resolver.garbage_collect", errs.IO, err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(f.path(e.Name())); err != nil {
			return removed, bytesFreed, errs.Wrap("blob.fs_resolver.garbage_collect", errs.IO, err)
		}
		removed++
		bytesFreed += uint64(info.Size())
	}
	return removed, bytesFreed, nil
}
