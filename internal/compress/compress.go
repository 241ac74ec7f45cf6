// Package compress implements the compress service (spec §4.5): the
// orchestrator that, under the store's exclusive write lock, runs
// document GC, WAL compaction, blob GC, search-index optimization,
// CRDT-history compaction, and a snapshot commit as one consistent unit.
// Its background monitor loop's start/stop/run shape is grounded on the
// teacher's internal/sync.Worker (mutex-guarded running flag, stopCh/
// doneCh pair, ticker-driven run loop, errors logged and swallowed rather
// than propagated), generalized from Linear-issue syncing to the
// multi-collaborator GC procedure spec §4.5 defines.
package compress

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jra3/contexthub/internal/errs"
	"github.com/jra3/contexthub/internal/index"
	"github.com/jra3/contexthub/internal/logging"
	"github.com/jra3/contexthub/internal/metrics"
	"github.com/jra3/contexthub/internal/snapshot"
	"github.com/jra3/contexthub/internal/store"
	"github.com/jra3/contexthub/internal/wal"
)

// Config holds the semantic compress thresholds (spec §4.5).
type Config struct {
	ThresholdPercent    int
	MinInterval         time.Duration
	MaxInterval         time.Duration
	SnapshotRetention   int
	EnableWALCompact    bool
	EnableBlobCleanup   bool
	EnableIndexOptimize bool
	CheckInterval       time.Duration
}

// DefaultConfig matches spec §4.5's table of defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdPercent:    100,
		MinInterval:         300 * time.Second,
		MaxInterval:         86400 * time.Second,
		SnapshotRetention:   10,
		EnableWALCompact:    true,
		EnableBlobCleanup:   true,
		EnableIndexOptimize: true,
		CheckInterval:       60 * time.Second,
	}
}

// FSResolver is the subset of blob.FSResolver the compress service drives
// directly for size measurement and GC (spec §4.5 step 1, step 5).
type FSResolver interface {
	CalculateSize() (uint64, error)
	GarbageCollect(activeRefs map[string]bool) (removed int, bytesFreed uint64, err error)
}

// Stats is the bundle returned by one compress() run (spec §4.5 step 11).
type Stats struct {
	DocumentsRemoved  int
	WALEntriesRemoved int
	BlobsRemoved      int
	IndexDocsRemoved  int
	SizeBefore        int64
	SizeAfter         int64
	CommitHash        string
}

// Service wires the store together with its WAL, blob resolver, index,
// and snapshot manager collaborators (spec §4.5's "hardest integration
// surface").
type Service struct {
	cfg Config

	store      *store.Store
	wal        *wal.WAL
	blobs      FSResolver
	idx        *index.Index
	idxDBPath  string
	snapshotMgr *snapshot.Manager

	mu               sync.RWMutex
	lastCompress     time.Time
	lastSnapshotSize int64
	running          bool
	stopCh           chan struct{}
	doneCh           chan struct{}

	log zerolog.Logger
}

// New builds a compress Service. idxDBPath is the index's own database
// file path (needed for Optimize's before/after file-size measurement);
// idx or blobs may be nil to disable that collaborator regardless of the
// corresponding feature gate.
func New(cfg Config, s *store.Store, w *wal.WAL, blobs FSResolver, idx *index.Index, idxDBPath string, snapshotMgr *snapshot.Manager) *Service {
	svc := &Service{
		cfg:         cfg,
		store:       s,
		wal:         w,
		blobs:       blobs,
		idx:         idx,
		idxDBPath:   idxDBPath,
		snapshotMgr: snapshotMgr,
		log:         logging.WithComponent("compress"),
	}
	if err := svc.LoadState(s.DataDir()); err != nil {
		svc.log.Warn().Err(err).Msg("failed to load persisted compress state, starting fresh")
	}
	return svc
}

// LastCompress returns the time the last successful compress() completed.
func (svc *Service) LastCompress() time.Time {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.lastCompress
}

// ShouldCompress implements spec §4.5's should_compress decision: true
// iff no compression ran within MinInterval (or the last one was earlier
// than MaxInterval ago, forcing true), AND either no previous snapshot is
// recorded or current size has grown by >= ThresholdPercent.
func (svc *Service) ShouldCompress() (bool, error) {
	svc.mu.RLock()
	last := svc.lastCompress
	lastSize := svc.lastSnapshotSize
	svc.mu.RUnlock()

	now := time.Now()
	if !last.IsZero() {
		sinceLast := now.Sub(last)
		if sinceLast < svc.cfg.MinInterval {
			return false, nil
		}
		if sinceLast >= svc.cfg.MaxInterval {
			return true, nil
		}
	}

	if lastSize == 0 {
		return true, nil
	}

	current, err := svc.store.TotalSize()
	if err != nil {
		return false, err
	}
	total, err := svc.addCollaboratorSizes(current)
	if err != nil {
		return false, err
	}
	growthPercent := int((total - lastSize) * 100 / lastSize)
	return growthPercent >= svc.cfg.ThresholdPercent, nil
}

// totalSizeLocked measures the combined footprint of every collaborator;
// the caller must already hold the store's write lock (used from within
// Compress, which holds it for its whole procedure).
func (svc *Service) totalSizeLocked() (int64, error) {
	docSize, err := svc.store.TotalSizeLocked()
	if err != nil {
		return 0, err
	}
	return svc.addCollaboratorSizes(docSize)
}

func (svc *Service) addCollaboratorSizes(docSize int64) (int64, error) {
	total := docSize
	if svc.idxDBPath != "" {
		if size, err := fileSizeOrZero(svc.idxDBPath); err == nil {
			total += size
		}
	}
	if svc.blobs != nil {
		if size, err := svc.blobs.CalculateSize(); err == nil {
			total += int64(size)
		}
	}
	if svc.wal != nil {
		if size, err := wal.TotalBytes(svc.wal.Dir()); err == nil {
			total += size
		}
	}
	return total, nil
}

func fileSizeOrZero(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Compress runs the full procedure under the store's exclusive write
// lock (spec §4.5's 11 steps). A failure measuring size (1) or in
// document GC (2) aborts the run. Failures from step (3) through (7) are
// logged and the run continues, so lastCompress still advances once the
// snapshot succeeds; a failure at the snapshot step (8) aborts without
// updating lastCompress or clearing dirty.
func (svc *Service) Compress(ctx context.Context) (Stats, error) {
	svc.store.Lock()
	defer svc.store.Unlock()

	start := time.Now()
	var stats Stats

	sizeBefore, err := svc.totalSizeLocked()
	if err != nil {
		metrics.CompressRunsTotal.WithLabelValues("error").Inc()
		return Stats{}, err
	}
	stats.SizeBefore = sizeBefore

	docsRemoved, _, err := svc.store.GarbageCollectDocumentsLocked()
	if err != nil {
		metrics.CompressRunsTotal.WithLabelValues("error").Inc()
		return stats, err
	}
	stats.DocumentsRemoved = docsRemoved

	activeIDs := svc.store.ActiveDocumentIDsLocked()
	activeDocIDs := make(map[wal.DocID]bool, len(activeIDs))
	for id := range activeIDs {
		activeDocIDs[wal.DocID(id)] = true
	}

	if svc.cfg.EnableWALCompact && svc.wal != nil {
		_, entriesRemoved, _, err := svc.wal.Compact(activeDocIDs)
		if err != nil {
			svc.log.Warn().Err(err).Msg("wal compact failed, continuing best effort")
		} else {
			stats.WALEntriesRemoved = entriesRemoved
		}
	}

	if svc.cfg.EnableBlobCleanup && svc.blobs != nil {
		refs, err := svc.store.CollectBlobReferencesLocked()
		if err != nil {
			svc.log.Warn().Err(err).Msg("collect blob references failed, continuing best effort")
		} else {
			removed, _, err := svc.blobs.GarbageCollect(refs)
			if err != nil {
				svc.log.Warn().Err(err).Msg("blob garbage collect failed, continuing best effort")
			} else {
				stats.BlobsRemoved = removed
			}
		}
	}

	if svc.cfg.EnableIndexOptimize && svc.idx != nil {
		activeStrIDs := make(map[string]bool, len(activeIDs))
		for id := range activeIDs {
			activeStrIDs[id.String()] = true
		}
		removed, err := svc.idx.CleanupDeleted(ctx, activeStrIDs)
		if err != nil {
			svc.log.Warn().Err(err).Msg("index cleanup failed, continuing best effort")
		} else {
			stats.IndexDocsRemoved = removed
		}
		if svc.idxDBPath != "" {
			if _, _, err := svc.idx.Optimize(ctx, svc.idxDBPath); err != nil {
				svc.log.Warn().Err(err).Msg("index optimize failed, continuing best effort")
			}
		}
	}

	if err := svc.store.CompactHistoryLocked(); err != nil {
		svc.log.Warn().Err(err).Msg("compact history failed, continuing best effort")
	}

	commitHash, err := svc.snapshotMgr.Snapshot(svc.store)
	if err != nil {
		metrics.CompressRunsTotal.WithLabelValues("snapshot_failed").Inc()
		return stats, errs.Wrap("compress.compress", errs.IO, err)
	}
	stats.CommitHash = commitHash.String()

	if err := svc.snapshotMgr.PruneOldTags(svc.cfg.SnapshotRetention); err != nil {
		svc.log.Warn().Err(err).Msg("prune old tags failed, continuing best effort")
	}

	svc.store.ClearDirtyLocked()

	sizeAfter, err := svc.totalSizeLocked()
	if err != nil {
		sizeAfter = sizeBefore
	}
	stats.SizeAfter = sizeAfter

	svc.mu.Lock()
	svc.lastCompress = start
	svc.lastSnapshotSize = sizeAfter
	svc.mu.Unlock()

	if err := svc.saveState(svc.store.DataDir()); err != nil {
		svc.log.Warn().Err(err).Msg("failed to persist compress state")
	}

	metrics.CompressRunsTotal.WithLabelValues("ok").Inc()
	metrics.CompressLastRunSeconds.Set(float64(start.Unix()))
	metrics.CompressLastDurationSeconds.Set(time.Since(start).Seconds())

	return stats, nil
}
