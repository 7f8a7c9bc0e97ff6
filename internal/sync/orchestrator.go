package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/detect"
	"github.com/tkdmetrics/rankwatch/internal/fetch"
	"github.com/tkdmetrics/rankwatch/internal/freshness"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// Guard errors for fetches that look like source outages rather than real
// ranking changes. An empty list must never be interpreted as "everyone
// dropped out".
var (
	ErrEmptyFetch    = errors.New("fetch returned no entries")
	ErrTooFewEntries = errors.New("fetch returned suspiciously few entries")
)

// Fetcher retrieves the current raw ranked list for a category.
type Fetcher interface {
	FetchRankings(ctx context.Context, category string) (fetch.Result, error)
}

// RunRecorder persists cycle summaries for the audit trail.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec snapshot.RunRecord) error
}

// Options tunes a single cycle.
type Options struct {
	Categories []string // empty = full registry
	Force      bool     // bypass the freshness policy
	DryRun     bool     // fetch and detect but write nothing
	Workers    int      // 0 = configured default
}

// Orchestrator runs synchronization cycles over the category registry.
type Orchestrator struct {
	store    snapshot.Store
	meta     snapshot.MetaStore
	recorder RunRecorder // may be nil
	fetcher  Fetcher
	sinks    []EventSink
	metrics  *Metrics // may be nil
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires a sync orchestrator. recorder and metrics are
// optional; nowFn may be nil for time.Now.
func NewOrchestrator(
	store snapshot.Store,
	meta snapshot.MetaStore,
	recorder RunRecorder,
	fetcher Fetcher,
	sinks []EventSink,
	metrics *Metrics,
	cfg *config.Config,
	logger *slog.Logger,
	nowFn func() time.Time,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Orchestrator{
		store:    store,
		meta:     meta,
		recorder: recorder,
		fetcher:  fetcher,
		sinks:    sinks,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      nowFn,
	}
}

// RunCycle synchronizes the selected categories with a worker pool and
// returns the aggregated result. The cycle runs under its own deadline; a
// storage failure in any worker aborts the remainder of the cycle since
// every category would hit the same store.
func (o *Orchestrator) RunCycle(ctx context.Context, opts Options) (*RunResult, error) {
	start := o.now()
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
	}

	categories, err := o.selectCategories(opts.Categories)
	if err != nil {
		return nil, err
	}

	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.CycleTimeout)
	defer cancel()

	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.SyncWorkers
	}
	if workers > len(categories) {
		workers = len(categories)
	}

	o.logger.Info("starting sync cycle",
		"run_id", result.RunID, "categories", len(categories),
		"workers", workers, "force", opts.Force, "dry_run", opts.DryRun)

	jobs := make(chan config.CategoryConfig, len(categories))
	var mu stdsync.Mutex
	var wg stdsync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cat := range jobs {
				cr := o.syncCategory(cycleCtx, cat, opts)
				if cr.Status == StatusFailed && isStorageError(cr.Error) {
					cancel()
				}
				o.metrics.observe(cr)
				mu.Lock()
				result.add(cr)
				mu.Unlock()
			}
		}()
	}

	for _, cat := range categories {
		jobs <- cat
	}
	close(jobs)
	wg.Wait()

	result.Duration = o.now().Sub(start)
	if o.metrics != nil {
		o.metrics.CycleDuration.Observe(result.Duration.Seconds())
	}
	o.logger.Info("sync cycle finished", "run_id", result.RunID, "summary", result.Summary())

	if o.recorder != nil && !opts.DryRun {
		if err := o.recordRun(ctx, result); err != nil {
			o.logger.Error("failed to record sync run", "run_id", result.RunID, "error", err)
		}
	}
	return result, nil
}

func (o *Orchestrator) selectCategories(ids []string) ([]config.CategoryConfig, error) {
	if len(ids) == 0 {
		return config.CategoryRegistry, nil
	}
	out := make([]config.CategoryConfig, 0, len(ids))
	for _, id := range ids {
		cat, ok := config.CategoryByID(id)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", id)
		}
		out = append(out, cat)
	}
	return out, nil
}

// syncCategory runs the full pipeline for one category:
// freshness check → fetch → normalize → guard → detect → persist → emit.
func (o *Orchestrator) syncCategory(ctx context.Context, cat config.CategoryConfig, opts Options) CategoryResult {
	begin := o.now()
	cr := CategoryResult{Category: cat.ID}
	defer func() { cr.Duration = o.now().Sub(begin) }()

	if err := ctx.Err(); err != nil {
		return fail(cr, fmt.Errorf("cycle aborted: %w", err))
	}

	meta, err := o.meta.Meta(ctx, cat.ID)
	if err != nil {
		return fail(cr, fmt.Errorf("load category meta: %w", err))
	}

	policy := freshness.Policy{
		Cadence:  cat.Cadence,
		Lookback: time.Duration(o.cfg.LookbackDays) * 24 * time.Hour,
	}
	due, reason := freshness.ShouldUpdate(meta, policy, o.now())
	cr.Reason = reason
	if !due && !opts.Force {
		cr.Status = StatusSkipped
		return cr
	}

	if !opts.DryRun {
		if err := o.meta.MarkAttempt(ctx, cat.ID, o.now().UTC()); err != nil {
			return fail(cr, fmt.Errorf("mark attempt: %w", err))
		}
	}

	fetchStart := o.now()
	raw, err := o.fetcher.FetchRankings(ctx, cat.ID)
	if o.metrics != nil {
		o.metrics.FetchDuration.Observe(o.now().Sub(fetchStart).Seconds())
	}
	if err != nil {
		return fail(cr, err)
	}

	entries := Normalize(cat.ID, raw.Entries, o.logger)
	cr.Entries = len(entries)
	if len(entries) == 0 {
		return fail(cr, ErrEmptyFetch)
	}
	if len(entries) < o.cfg.MinSnapshotEntries {
		return fail(cr, fmt.Errorf("%w: got %d, want at least %d",
			ErrTooFewEntries, len(entries), o.cfg.MinSnapshotEntries))
	}

	latest, err := o.store.LatestSnapshot(ctx, cat.ID)
	if err != nil {
		return fail(cr, fmt.Errorf("load latest snapshot: %w", err))
	}
	var stored []snapshot.Entry
	if latest != nil {
		stored = latest.Entries
	}

	res := detect.Detect(entries, stored)
	if !res.Changed {
		if !opts.DryRun {
			if err := o.meta.MarkRefreshed(ctx, cat.ID, o.now().UTC()); err != nil {
				return fail(cr, fmt.Errorf("mark refreshed: %w", err))
			}
		}
		cr.Status = StatusUnchanged
		return cr
	}

	cr.NewEntries = len(res.Diff.NewEntries)
	cr.Dropped = len(res.Diff.DroppedEntries)
	cr.RankChanges = len(res.Diff.RankChanges)

	snap := snapshot.Snapshot{
		Category:    cat.ID,
		Date:        snapshot.DateOnly(raw.RetrievedAt),
		Entries:     entries,
		RetrievedAt: raw.RetrievedAt,
	}

	if opts.DryRun {
		cr.Status = StatusUpdated
		cr.Events = len(detect.Events(cat.ID, res.Diff, raw.RetrievedAt))
		return cr
	}

	err = o.store.Append(ctx, snap)
	switch {
	case errors.Is(err, snapshot.ErrDuplicateSnapshot):
		// Another writer got there first for this date. The stored
		// snapshot wins; emit nothing.
		o.logger.Info("snapshot already recorded for date",
			"category", cat.ID, "date", snap.Date.Format("2006-01-02"))
		if err := o.meta.MarkRefreshed(ctx, cat.ID, o.now().UTC()); err != nil {
			return fail(cr, fmt.Errorf("mark refreshed: %w", err))
		}
		cr.Status = StatusUnchanged
		return cr
	case err != nil:
		return fail(cr, fmt.Errorf("append snapshot: %w", err))
	}

	if o.metrics != nil {
		o.metrics.SnapshotEntries.Observe(float64(len(entries)))
	}
	if err := o.meta.MarkRefreshed(ctx, cat.ID, o.now().UTC()); err != nil {
		return fail(cr, fmt.Errorf("mark refreshed: %w", err))
	}

	events := detect.Events(cat.ID, res.Diff, raw.RetrievedAt)
	cr.Events = len(events)
	for _, sink := range o.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			o.logger.Error("event sink publish failed", "category", cat.ID, "error", err)
		}
	}

	cr.Status = StatusUpdated
	return cr
}

func (o *Orchestrator) recordRun(ctx context.Context, result *RunResult) error {
	detail, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run detail: %w", err)
	}
	rec := snapshot.RunRecord{
		ID:         result.RunID,
		StartedAt:  result.StartedAt,
		FinishedAt: result.StartedAt.Add(result.Duration),
		Checked:    result.Checked,
		Updated:    result.Updated,
		Skipped:    result.Skipped + result.Unchanged,
		Failed:     result.Failed,
		Detail:     detail,
	}
	return o.recorder.RecordRun(ctx, rec)
}

func fail(cr CategoryResult, err error) CategoryResult {
	cr.Status = StatusFailed
	cr.Error = err.Error()
	return cr
}

// isStorageError sniffs whether a category failure came from the store
// rather than the fetch path. Store errors poison the whole cycle.
func isStorageError(msg string) bool {
	for _, prefix := range []string{
		"load category meta", "mark attempt", "mark refreshed",
		"load latest snapshot", "append snapshot",
	} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
