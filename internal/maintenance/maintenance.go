// Package maintenance runs periodic background tasks as Go tickers.
// Retention of the view-count history is driven from here so every backend
// gets the same behaviour without database-side jobs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
	"github.com/albapepper/viewcount-tracker/internal/telemetry"
	"github.com/albapepper/viewcount-tracker/internal/video"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	PruneInterval time.Duration // History pruning
	Retention     time.Duration // Samples older than this are deleted
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		PruneInterval: 24 * time.Hour,
		Retention:     90 * 24 * time.Hour,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, repo *video.Repository, cfg Config, metrics *telemetry.Metrics, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"prune", cfg.PruneInterval,
		"retention", cfg.Retention)

	tickers := make([]*time.Ticker, 0, 1)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Prune: drop samples past the retention window
	if cfg.PruneInterval > 0 && cfg.Retention > 0 {
		t := time.NewTicker(cfg.PruneInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "prune", func() {
			result, err := PruneViewHistory(ctx, repo, cfg.Retention, logger)
			metrics.AddPruned(result.Deleted)
			if err != nil {
				logger.Warn("Prune: failed", "error", err)
				return
			}
			if err := ReportOldestSample(ctx, repo, logger); err != nil {
				logger.Warn("Prune: failed to read oldest sample", "error", err)
			}
		})
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, name string, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// PruneResult summarizes one prune pass.
type PruneResult struct {
	Videos  int // videos scanned
	Deleted int // samples deleted
	Batches int // delete batches committed
	Cutoff  time.Time
}

// now is swapped in tests.
var now = time.Now

// PruneViewHistory deletes, for every video, the samples created before
// now - retention. Deletions go out in chunked batches that commit
// concurrently; a failed chunk does not undo the others.
func PruneViewHistory(ctx context.Context, repo *video.Repository, retention time.Duration, logger *slog.Logger) (PruneResult, error) {
	result := PruneResult{Cutoff: now().Add(-retention)}
	if retention <= 0 {
		return result, fmt.Errorf("prune: retention must be positive, got %s", retention)
	}

	videos, err := repo.GetAll(ctx)
	if err != nil {
		return result, fmt.Errorf("prune: %w", err)
	}
	result.Videos = len(videos)

	var refs []docstore.DocumentRef[video.ViewHistory]
	for docID := range videos {
		old, err := repo.GetViewHistoriesBetween(ctx, docID, time.Time{}, result.Cutoff)
		if err != nil {
			return result, fmt.Errorf("prune: %w", err)
		}
		for _, e := range old {
			refs = append(refs, e.Ref)
		}
	}
	if len(refs) == 0 {
		logger.Info("Prune: nothing to delete", "videos", result.Videos, "cutoff", result.Cutoff)
		return result, nil
	}

	batches, err := repo.DeleteViewHistories(ctx, refs)
	if err != nil {
		return result, fmt.Errorf("prune: %w", err)
	}
	result.Batches = batches
	result.Deleted = len(refs)
	logger.Info("Prune: deleted old samples",
		"count", result.Deleted, "batches", batches, "videos", result.Videos, "cutoff", result.Cutoff)
	return result, nil
}

// ReportOldestSample logs the age of the oldest remaining sample.
func ReportOldestSample(ctx context.Context, repo *video.Repository, logger *slog.Logger) error {
	oldest, ok, err := repo.GetOldestViewHistory(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("No view history stored")
		return nil
	}
	logger.Info("Oldest view history",
		"doc_id", oldest.VideoDocID(),
		"created", oldest.Created,
		"age", now().Sub(oldest.Created).Round(time.Second))
	return nil
}
