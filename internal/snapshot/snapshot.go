// Package snapshot provides append-only persistence of per-category,
// per-date ranked entries, plus the category refresh metadata used by the
// freshness policy. Two implementations share the same interfaces: a
// Postgres store backed by prepared statements and an in-memory store for
// tests and offline runs.
package snapshot

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrDuplicateSnapshot is returned by Append when a snapshot already exists
// for the same (category, date). Callers treat it as idempotent success:
// the stored snapshot is left untouched and no events should be emitted.
var ErrDuplicateSnapshot = errors.New("snapshot already exists for category and date")

// Entry is one competitor's row within a snapshot. Rank 1 is best.
type Entry struct {
	Key     string  // stable entity key, see EntityKey
	Name    string
	Country string
	Rank    int
	Points  float64
}

// Snapshot is the complete ranked list for one category at one observation
// date. Dates carry day precision in UTC.
type Snapshot struct {
	Category    string
	Date        time.Time
	Entries     []Entry
	RetrievedAt time.Time
}

// HistoryPoint is one observation in an entity's time series.
type HistoryPoint struct {
	Date   time.Time
	Rank   int
	Points float64
}

// CategoryMeta records refresh bookkeeping for one category.
// LastAttemptedAt moves on every fetch attempt; LastRefreshedAt moves only
// after a successful fetch and comparison, so failed fetches keep the
// category eligible for retry without hot-looping.
type CategoryMeta struct {
	Category        string
	LastAttemptedAt *time.Time
	LastRefreshedAt *time.Time
}

// RunRecord summarizes one orchestration cycle for the sync_runs table.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Updated    int
	Skipped    int
	Failed     int
	Detail     []byte // JSON blob with per-category outcomes
}

// Store is the append-only snapshot repository.
type Store interface {
	// Append stores a complete snapshot atomically. Returns
	// ErrDuplicateSnapshot if any snapshot already exists for
	// (snap.Category, snap.Date).
	Append(ctx context.Context, snap Snapshot) error

	// LatestSnapshot returns the most recent snapshot for a category,
	// or nil if the category has never been observed.
	LatestSnapshot(ctx context.Context, category string) (*Snapshot, error)

	// RecentSnapshots returns up to limit snapshots for a category,
	// newest first. Used by the change feed to recompute diffs.
	RecentSnapshots(ctx context.Context, category string, limit int) ([]Snapshot, error)

	// History returns an entity's (date, rank, points) series within
	// [from, to], ascending by date. Empty slice if nothing recorded.
	History(ctx context.Context, entityKey string, from, to time.Time) ([]HistoryPoint, error)

	// Dates returns up to limit observation dates for a category, newest
	// first, without loading entries.
	Dates(ctx context.Context, category string, limit int) ([]time.Time, error)
}

// MetaStore tracks per-category refresh timestamps.
type MetaStore interface {
	Meta(ctx context.Context, category string) (CategoryMeta, error)
	MarkAttempt(ctx context.Context, category string, t time.Time) error
	MarkRefreshed(ctx context.Context, category string, t time.Time) error
}

// EntityKey derives the stable identity key for a competitor. No durable
// numeric ID exists in the source data, so identity is name-based
// (plus country when available) and best-effort across snapshots.
func EntityKey(name, country string) string {
	n := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	c := strings.ToUpper(strings.TrimSpace(country))
	if c == "" {
		return n
	}
	return n + "|" + c
}

// DateOnly truncates a timestamp to day precision in UTC, the granularity
// snapshots are keyed on.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
