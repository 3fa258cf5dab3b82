package storage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var orphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fileshare_orphans_removed_total",
	Help: "Stored blobs removed because no file record references them.",
})

// RecordIndex answers whether a file record owns a storage name in a user's
// namespace. Lookups never depend on where the store is rooted.
type RecordIndex interface {
	FileExists(ctx context.Context, ownerID uuid.UUID, fileName string) (bool, error)
}

// Sweeper periodically removes stored blobs that no file record references,
// such as bytes left behind by a crash between write and commit. Blobs
// younger than the grace period are skipped so in-flight uploads are never
// touched.
type Sweeper struct {
	index    RecordIndex
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewSweeper creates a new sweeper.
func NewSweeper(index RecordIndex, store Store, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		index:    index,
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	slog.Info("orphan sweeper started", "interval", sw.interval, "grace", sw.grace)

	go func() {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		sw.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				sw.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("orphan sweeper stopping")
				close(sw.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (sw *Sweeper) Wait() {
	<-sw.done
}

// RunOnce performs a single sweep and returns the number of removed blobs.
func (sw *Sweeper) RunOnce(ctx context.Context) int {
	cutoff := sw.now().Add(-sw.grace)
	var removed, failed, skipped, scanned int

	err := sw.store.Walk(ctx, func(obj Object) error {
		scanned++
		if obj.ModTime.After(cutoff) {
			return nil
		}

		owner, name, _ := strings.Cut(obj.Key, "/")
		ownerID, err := uuid.Parse(owner)
		if err != nil {
			// Not a user namespace; leave it alone.
			skipped++
			return nil
		}

		exists, err := sw.index.FileExists(ctx, ownerID, name)
		if err != nil {
			// The index is unreachable; stop rather than guess.
			return err
		}
		if exists {
			return nil
		}

		if err := sw.store.Delete(ctx, obj.Key); err != nil {
			slog.Error("failed to remove orphaned blob", "key", obj.Key, "error", err)
			failed++
			return nil
		}
		removed++
		orphansRemovedTotal.Inc()
		slog.Info("removed orphaned blob", "key", obj.Key, "size", obj.Size)
		return nil
	})
	if err != nil {
		slog.Error("orphan sweep aborted", "error", err)
	}

	slog.Info("orphan sweep complete",
		"scanned", scanned,
		"removed", removed,
		"skipped", skipped,
		"failed", failed,
	)
	return removed
}
