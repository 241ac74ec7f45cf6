package compress

import (
	"context"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Start begins the background compress-check loop (teacher's
// sync.Worker.Start shape: mutex-guarded running flag, single goroutine).
func (svc *Service) Start(ctx context.Context) {
	svc.mu.Lock()
	if svc.running {
		svc.mu.Unlock()
		return
	}
	svc.running = true
	svc.stopCh = make(chan struct{})
	svc.doneCh = make(chan struct{})
	svc.mu.Unlock()

	go svc.run(ctx)
}

// Stop gracefully stops the monitor loop, waiting for the in-flight tick
// (if any) to finish.
func (svc *Service) Stop() {
	svc.mu.Lock()
	if !svc.running {
		svc.mu.Unlock()
		return
	}
	stopCh, doneCh := svc.stopCh, svc.doneCh
	svc.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Running reports whether the monitor loop is active.
func (svc *Service) Running() bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.running
}

func (svc *Service) run(ctx context.Context) {
	defer func() {
		svc.mu.Lock()
		svc.running = false
		svc.mu.Unlock()
		close(svc.doneCh)
	}()

	interval := svc.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-svc.stopCh:
			return
		case <-ticker.C:
			svc.tick(ctx)
		}
	}
}

func (svc *Service) tick(ctx context.Context) {
	should, err := svc.ShouldCompress()
	if err != nil {
		svc.log.Warn().Err(err).Msg("should_compress check failed")
		return
	}
	if !should {
		return
	}
	stats, err := svc.Compress(ctx)
	if err != nil {
		svc.log.Warn().Err(err).Msg("compress run failed")
		return
	}
	svc.log.Info().
		Int("documents_removed", stats.DocumentsRemoved).
		Int("wal_entries_removed", stats.WALEntriesRemoved).
		Int("blobs_removed", stats.BlobsRemoved).
		Str("size_before", humanize.Bytes(uint64(stats.SizeBefore))).
		Str("size_after", humanize.Bytes(uint64(stats.SizeAfter))).
		Str("commit", stats.CommitHash).
		Msg("compress run complete")
}
