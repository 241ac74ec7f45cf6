package cmd

import (
	"path/filepath"
	"time"

	"github.com/jra3/contexthub/internal/blob"
	"github.com/jra3/contexthub/internal/compress"
	"github.com/jra3/contexthub/internal/config"
	"github.com/jra3/contexthub/internal/index"
	"github.com/jra3/contexthub/internal/logging"
	"github.com/jra3/contexthub/internal/snapshot"
	"github.com/jra3/contexthub/internal/store"
	"github.com/jra3/contexthub/internal/wal"
)

// node bundles every collaborator a running contexthub process wires
// together: the store plus its WAL, blob resolver, search index, and
// snapshot manager, and the compress service that orchestrates them.
type node struct {
	cfg      *config.Config
	store    *store.Store
	wal      *wal.WAL
	blobs    *blob.FSResolver
	index    *index.Index
	snapshot *snapshot.Manager
	compress *compress.Service
}

// openNode constructs every collaborator from cfg, in the dependency
// order store.New requires (blob registry first, since the store holds
// it for pointer resolution).
func openNode(cfg *config.Config) (*node, error) {
	blobResolver, err := blob.NewFSResolver(cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	registry := blob.NewRegistry(5*time.Minute, 10000)
	registry.Register("blob", blobResolver)

	s, err := store.New(cfg.DataDir, registry)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(cfg.WALDir)
	if err != nil {
		return nil, err
	}
	s.SetWAL(w)

	idxPath := filepath.Join(cfg.IndexDir, "index.db")
	idx, err := index.Open(idxPath)
	if err != nil {
		return nil, err
	}

	snap, err := snapshot.Open(cfg.SnapshotDir)
	if err != nil {
		return nil, err
	}

	compressCfg := compress.Config{
		ThresholdPercent:    cfg.Compress.ThresholdPercent,
		MinInterval:         config.Duration(cfg.Compress.MinIntervalSecs),
		MaxInterval:         config.Duration(cfg.Compress.MaxIntervalSecs),
		SnapshotRetention:   cfg.Compress.SnapshotRetention,
		EnableWALCompact:    cfg.Compress.EnableWALCompact,
		EnableBlobCleanup:   cfg.Compress.EnableBlobCleanup,
		EnableIndexOptimize: cfg.Compress.EnableIndexOptimize,
		CheckInterval:       config.Duration(cfg.Compress.CheckIntervalSecs),
	}
	compressSvc := compress.New(compressCfg, s, w, blobResolver, idx, idxPath, snap)

	return &node{
		cfg:      cfg,
		store:    s,
		wal:      w,
		blobs:    blobResolver,
		index:    idx,
		snapshot: snap,
		compress: compressSvc,
	}, nil
}

func (n *node) Close() {
	if err := n.wal.Close(); err != nil {
		logging.WithComponent("cmd").Warn().Err(err).Msg("wal close failed")
	}
	if err := n.index.Close(); err != nil {
		logging.WithComponent("cmd").Warn().Err(err).Msg("index close failed")
	}
}
