package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store, MetaStore, and run recording on top of a
// pgxpool connection pool. All queries go through the prepared statements
// registered in internal/db.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed snapshot store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append writes all entries of a snapshot in a single transaction.
// The uniqueness constraint on (category, snapshot_date, entity_key)
// resolves concurrent appends for the same date: if the snapshot already
// exists — fully or from a racing writer — ErrDuplicateSnapshot is returned
// and nothing is modified.
func (s *PostgresStore) Append(ctx context.Context, snap Snapshot) error {
	if len(snap.Entries) == 0 {
		return fmt.Errorf("append %s: snapshot has no entries", snap.Category)
	}
	date := DateOnly(snap.Date)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "snapshot_exists", snap.Category, date).Scan(&exists); err != nil {
		return fmt.Errorf("check existing snapshot: %w", err)
	}
	if exists {
		return ErrDuplicateSnapshot
	}

	for _, e := range snap.Entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO ranking_snapshots
				(category, snapshot_date, entity_key, name, country, rank, points, retrieved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			snap.Category, date, e.Key, e.Name, e.Country, e.Rank, e.Points, snap.RetrievedAt,
		)
		if err != nil {
			// A racing writer committed the same (category, date) between
			// our existence check and this insert.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateSnapshot
			}
			return fmt.Errorf("insert entry %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for a category, or nil if the
// category has never been observed.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, category string) (*Snapshot, error) {
	var date *time.Time
	if err := s.pool.QueryRow(ctx, "latest_snapshot_date", category).Scan(&date); err != nil {
		return nil, fmt.Errorf("latest snapshot date: %w", err)
	}
	if date == nil {
		return nil, nil
	}
	return s.loadSnapshot(ctx, category, *date)
}

// Dates returns up to limit observation dates for a category, newest first.
func (s *PostgresStore) Dates(ctx context.Context, category string, limit int) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, "snapshot_dates", category, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan snapshot date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// RecentSnapshots returns up to limit snapshots for a category, newest first.
func (s *PostgresStore) RecentSnapshots(ctx context.Context, category string, limit int) ([]Snapshot, error) {
	dates, err := s.Dates(ctx, category, limit)
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(dates))
	for _, d := range dates {
		snap, err := s.loadSnapshot(ctx, category, d)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

func (s *PostgresStore) loadSnapshot(ctx context.Context, category string, date time.Time) (*Snapshot, error) {
	rows, err := s.pool.Query(ctx, "snapshot_entries", category, date)
	if err != nil {
		return nil, fmt.Errorf("snapshot entries: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{Category: category, Date: DateOnly(date)}
	for rows.Next() {
		var e Entry
		var retrieved time.Time
		if err := rows.Scan(&e.Key, &e.Name, &e.Country, &e.Rank, &e.Points, &retrieved); err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}
		snap.RetrievedAt = retrieved
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

// History returns an entity's ordered time series within [from, to].
func (s *PostgresStore) History(ctx context.Context, entityKey string, from, to time.Time) ([]HistoryPoint, error) {
	rows, err := s.pool.Query(ctx, "entity_history", entityKey, DateOnly(from), DateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("entity history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Date, &p.Rank, &p.Points); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// --------------------------------------------------------------------------
// MetaStore
// --------------------------------------------------------------------------

// Meta returns refresh bookkeeping for a category. Both timestamps are nil
// when the category has never been attempted.
func (s *PostgresStore) Meta(ctx context.Context, category string) (CategoryMeta, error) {
	meta := CategoryMeta{Category: category}
	err := s.pool.QueryRow(ctx, "category_meta", category).
		Scan(&meta.LastAttemptedAt, &meta.LastRefreshedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("category meta %s: %w", category, err)
	}
	return meta, nil
}

// MarkAttempt records a fetch attempt, successful or not.
func (s *PostgresStore) MarkAttempt(ctx context.Context, category string, t time.Time) error {
	if _, err := s.pool.Exec(ctx, "mark_attempt", category, t); err != nil {
		return fmt.Errorf("mark attempt %s: %w", category, err)
	}
	return nil
}

// MarkRefreshed records a successful fetch and comparison.
func (s *PostgresStore) MarkRefreshed(ctx context.Context, category string, t time.Time) error {
	if _, err := s.pool.Exec(ctx, "mark_refreshed", category, t); err != nil {
		return fmt.Errorf("mark refreshed %s: %w", category, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Run records
// --------------------------------------------------------------------------

// RecordRun persists a cycle summary to sync_runs.
func (s *PostgresStore) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.pool.Exec(ctx, "insert_sync_run",
		rec.ID, rec.StartedAt, rec.FinishedAt,
		rec.Checked, rec.Updated, rec.Skipped, rec.Failed,
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// PurgeRunsBefore deletes run records finished before the cutoff.
// Returns the number of rows removed.
func (s *PostgresStore) PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "purge_sync_runs", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sync runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
