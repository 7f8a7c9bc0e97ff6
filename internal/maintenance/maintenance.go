// Package maintenance runs periodic background tasks as Go tickers.
// Scheduled sync cycles and retention sweeps are driven from Go since the
// API process is already persistent and long-running.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/cache"
	syncer "github.com/tkdmetrics/rankwatch/internal/sync"
)

// RunPurger deletes old sync run records.
type RunPurger interface {
	PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	SyncInterval      time.Duration // Scheduled synchronization cycles
	RetentionInterval time.Duration // sync_runs purge sweep
	RetentionDays     int           // Keep run records this many days
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:      6 * time.Hour,
		RetentionInterval: 24 * time.Hour,
		RetentionDays:     90,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, orch *syncer.Orchestrator, purger RunPurger, appCache *cache.Cache, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"sync", cfg.SyncInterval,
		"retention", cfg.RetentionInterval,
		"retention_days", cfg.RetentionDays)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Scheduled sync: run a full cycle on the configured interval
	if cfg.SyncInterval > 0 && orch != nil {
		t := time.NewTicker(cfg.SyncInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { runCycle(ctx, orch, appCache, logger) })
	}

	// Retention: purge old sync run records
	if cfg.RetentionInterval > 0 && purger != nil {
		t := time.NewTicker(cfg.RetentionInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { purgeRuns(ctx, purger, cfg.RetentionDays, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
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

// runCycle executes one scheduled synchronization cycle and invalidates the
// response cache when anything was persisted.
func runCycle(ctx context.Context, orch *syncer.Orchestrator, appCache *cache.Cache, logger *slog.Logger) {
	result, err := orch.RunCycle(ctx, syncer.Options{})
	if err != nil {
		logger.Warn("Scheduled sync cycle failed", "error", err)
		return
	}
	logger.Info("Scheduled sync cycle finished", "run_id", result.RunID, "summary", result.Summary())

	if appCache != nil && result.Updated > 0 {
		appCache.Invalidate("snapshot:")
		appCache.Invalidate("changes:")
		appCache.Invalidate("trend:")
		appCache.Invalidate("history:")
	}
}

// purgeRuns removes sync run records older than the retention window.
func purgeRuns(ctx context.Context, purger RunPurger, retentionDays int, logger *slog.Logger) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := purger.PurgeRunsBefore(ctx, cutoff)
	if err != nil {
		logger.Warn("Retention sweep: failed to purge sync runs", "error", err)
	} else if n > 0 {
		logger.Info("Retention sweep: purged old sync runs", "count", n)
	}
}
