package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scholaragent/core/pkg/store"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for tasks stuck in 'processing'
// whose queue entry was claimed longer than the orphan threshold ago; worker
// liveness is not checked. All
// instances run this independently — the underlying store operation is
// idempotent, so overlapping scans across processes are harmless.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans(ctx)
		}
	}
}

// detectAndRecoverOrphans requeues tasks claimed longer than OrphanThreshold
// ago without completing. Per spec.md §4.6, orphans are recoverable — they
// return to 'queued', not a terminal failure state, since the work itself
// may not have actually been lost.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) {
	recovered, err := p.store.ReclaimOrphans(ctx, p.config.OrphanThreshold)
	if err != nil {
		slog.Error("orphan detection failed", "error", err)
		return
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if recovered > 0 {
		slog.Warn("recovered orphaned tasks", "count", recovered)
	}
}

// CleanupStartupOrphans performs a one-time cleanup of tasks left
// 'processing' from a previous, uncleanly-terminated process. It is exported
// for a caller to run once at startup; WorkerPool.Start does not call it.
func CleanupStartupOrphans(ctx context.Context, st *store.Store) error {
	n, err := st.StartupCleanup(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("requeued tasks left processing by a previous run", "count", n)
	}
	return nil
}
