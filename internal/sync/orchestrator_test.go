package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/fetch"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// stubFetcher serves canned raw entries per category.
type stubFetcher struct {
	entries     map[string][]fetch.RawEntry
	err         error
	retrievedAt time.Time
	calls       int
}

func (f *stubFetcher) FetchRankings(_ context.Context, category string) (fetch.Result, error) {
	f.calls++
	if f.err != nil {
		return fetch.Result{}, f.err
	}
	return fetch.Result{Entries: f.entries[category], RetrievedAt: f.retrievedAt}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MinSnapshotEntries: 5,
		LookbackDays:       30,
		SyncWorkers:        2,
		CycleTimeout:       time.Minute,
	}
}

func rawList(n int) []fetch.RawEntry {
	out := make([]fetch.RawEntry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, fetch.RawEntry{
			Rank:    fmt.Sprintf("%d", i),
			Name:    fmt.Sprintf("Athlete %02d", i),
			Country: "USA",
			Points:  fmt.Sprintf("%d", 500-i*10),
		})
	}
	return out
}

func newTestOrchestrator(store *snapshot.MemoryStore, fetcher Fetcher, sink EventSink, now time.Time) *Orchestrator {
	var sinks []EventSink
	if sink != nil {
		sinks = []EventSink{sink}
	}
	return NewOrchestrator(store, store, store, fetcher, sinks, nil, testConfig(), nil,
		func() time.Time { return now })
}

func TestRunCycleFirstObservation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()
	sink := &MemorySink{}
	fetcher := &stubFetcher{
		entries:     map[string][]fetch.RawEntry{"M-68kg": rawList(10)},
		retrievedAt: now,
	}

	orch := newTestOrchestrator(store, fetcher, sink, now)
	result, err := orch.RunCycle(ctx, Options{Categories: []string{"M-68kg"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Failed)
	assert.NotEmpty(t, result.RunID)

	// Snapshot persisted with day precision.
	latest, err := store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snapshot.DateOnly(now), latest.Date)
	assert.Len(t, latest.Entries, 10)

	// First observation: every entry is a new entrant event.
	assert.Len(t, sink.Events(), 10)

	// Both meta timestamps recorded.
	meta, err := store.Meta(ctx, "M-68kg")
	require.NoError(t, err)
	assert.NotNil(t, meta.LastAttemptedAt)
	assert.NotNil(t, meta.LastRefreshedAt)

	// Cycle summary recorded.
	runs := store.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, 1, runs[0].Updated)
}

func TestRunCycleUnchangedSecondRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	day1 := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()
	sink := &MemorySink{}
	fetcher := &stubFetcher{
		entries:     map[string][]fetch.RawEntry{"M-68kg": rawList(10)},
		retrievedAt: day1,
	}

	orch := newTestOrchestrator(store, fetcher, sink, day1)
	_, err := orch.RunCycle(ctx, Options{Categories: []string{"M-68kg"}})
	require.NoError(t, err)
	require.Len(t, sink.Events(), 10)

	// Next day the source returns identical data. The category is due via
	// the lookback window, compares unchanged, and emits nothing.
	day2 := day1.Add(24 * time.Hour)
	fetcher.retrievedAt = day2
	orch2 := newTestOrchestrator(store, fetcher, sink, day2)

	result, err := orch2.RunCycle(ctx, Options{Categories: []string{"M-68kg"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 0, result.Updated)
	assert.Len(t, sink.Events(), 10) // no new events

	// No second snapshot persisted.
	dates, err := store.Dates(ctx, "M-68kg", 10)
	require.NoError(t, err)
	assert.Len(t, dates, 1)
}

func TestRunCycleEmptyFetchIsFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()
	fetcher := &stubFetcher{
		entries:     map[string][]fetch.RawEntry{"M-68kg": nil},
		retrievedAt: now,
	}

	orch := newTestOrchestrator(store, fetcher, nil, now)
	result, err := orch.RunCycle(ctx, Options{Categories: []string{"M-68kg"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Error, ErrEmptyFetch.Error())

	// Nothing persisted: an empty list is never "everyone dropped".
	latest, err := store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	assert.Nil(t, latest)

	// The attempt is recorded so the category stays eligible for retry,
	// but the refresh timestamp does not move.
	meta, err := store.Meta(ctx, "M-68kg")
	require.NoError(t, err)
	assert.NotNil(t, meta.LastAttemptedAt)
	assert.Nil(t, meta.LastRefreshedAt)
}

func TestRunCycleTooFewEntriesIsFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()
	fetcher := &stubFetcher{
		entries:     map[string][]fetch.RawEntry{"M-68kg": rawList(3)},
		retrievedAt: now,
	}

	orch := newTestOrchestrator(store, fetcher, nil, now)
	result, err := orch.RunCycle(ctx, Options{Categories: []string{"M-68kg"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Results[0].Error, ErrTooFewEntries.Error())
}

func TestRunCycleSkipsFreshCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()

	// M-54kg is a weekly category. Refreshed 2 days ago with a 1-day
	// lookback it is neither cadence-due nor inside the correction window.
	refreshed := now.Add(-2 * 24 * time.Hour)
	require.NoError(t, store.MarkRefreshed(ctx, "M-54kg", refreshed))

	fetcher := &stubFetcher{entries: map[string][]fetch.RawEntry{}, retrievedAt: now}
	cfg := testConfig()
	cfg.LookbackDays = 1
	orch := NewOrchestrator(store, store, store, fetcher, nil, nil, cfg, nil,
		func() time.Time { return now })

	result, err := orch.RunCycle(ctx, Options{Categories: []string{"M-54kg"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, fetcher.calls)

	// Force bypasses the policy and hits the fetcher.
	fetcher.entries["M-54kg"] = rawList(6)
	result, err = orch.RunCycle(ctx, Options{Categories: []string{"M-54kg"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, fetcher.calls)
}

func TestRunCycleDuplicateAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()
	sink := &MemorySink{}

	// A snapshot already exists for today with different content, as if a
	// concurrent writer landed first.
	require.NoError(t, store.Append(ctx, snapshot.Snapshot{
		Category: "M-68kg",
		Date:     snapshot.DateOnly(now),
		Entries: []snapshot.Entry{
			{Key: "OTHER WRITER|USA", Name: "Other Writer", Rank: 1, Points: 10},
		},
		RetrievedAt: now.Add(-time.Hour),
	}))

	// Detect sees a change but Append hits the uniqueness rule. The stored
	// snapshot wins and no events are emitted.
	fetcher := &stubFetcher{
		entries:     map[string][]fetch.RawEntry{"M-68kg": rawList(10)},
		retrievedAt: now,
	}
	orch := newTestOrchestrator(store, fetcher, sink, now)

	result, err := orch.RunCycle(ctx, Options{Categories: []string{"M-68kg"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, sink.Events())

	latest, err := store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	assert.Equal(t, "OTHER WRITER|USA", latest.Entries[0].Key)
}

func TestRunCycleDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()
	fetcher := &stubFetcher{
		entries:     map[string][]fetch.RawEntry{"M-68kg": rawList(10)},
		retrievedAt: now,
	}

	orch := newTestOrchestrator(store, fetcher, nil, now)
	result, err := orch.RunCycle(ctx, Options{Categories: []string{"M-68kg"}, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 10, result.Events)

	latest, err := store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	assert.Nil(t, latest)

	meta, err := store.Meta(ctx, "M-68kg")
	require.NoError(t, err)
	assert.Nil(t, meta.LastAttemptedAt)

	assert.Empty(t, store.Runs())
}

func TestRunCycleUnknownCategory(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(snapshot.NewMemoryStore(), &stubFetcher{}, nil, time.Now())
	_, err := orch.RunCycle(context.Background(), Options{Categories: []string{"M-999kg"}})
	assert.Error(t, err)
}

func TestRunCycleFullRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	store := snapshot.NewMemoryStore()

	entries := make(map[string][]fetch.RawEntry, len(config.CategoryRegistry))
	for _, c := range config.CategoryRegistry {
		entries[c.ID] = rawList(8)
	}
	fetcher := &stubFetcher{entries: entries, retrievedAt: now}

	orch := newTestOrchestrator(store, fetcher, nil, now)
	result, err := orch.RunCycle(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, len(config.CategoryRegistry), result.Checked)
	assert.Equal(t, len(config.CategoryRegistry), result.Updated)
	assert.Equal(t, 0, result.Failed)
}
