// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tkdmetrics/rankwatch/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the API and sync
// layers use. Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Snapshot store: point queries
		"latest_snapshot_date": `
			SELECT MAX(snapshot_date) FROM ranking_snapshots WHERE category = $1`,
		"snapshot_exists": `
			SELECT EXISTS (
				SELECT 1 FROM ranking_snapshots
				WHERE category = $1 AND snapshot_date = $2)`,
		"snapshot_entries": `
			SELECT entity_key, name, country, rank, points, retrieved_at
			FROM ranking_snapshots
			WHERE category = $1 AND snapshot_date = $2
			ORDER BY rank ASC`,
		"snapshot_dates": `
			SELECT DISTINCT snapshot_date FROM ranking_snapshots
			WHERE category = $1
			ORDER BY snapshot_date DESC
			LIMIT $2`,

		// Snapshot store: range queries
		"entity_history": `
			SELECT snapshot_date, rank, points
			FROM ranking_snapshots
			WHERE entity_key = $1 AND snapshot_date >= $2 AND snapshot_date <= $3
			ORDER BY snapshot_date ASC`,

		// Category metadata (freshness bookkeeping)
		"category_meta": `
			SELECT last_attempted_at, last_refreshed_at
			FROM category_meta WHERE category = $1`,
		"mark_attempt": `
			INSERT INTO category_meta (category, last_attempted_at)
			VALUES ($1, $2)
			ON CONFLICT (category) DO UPDATE SET last_attempted_at = EXCLUDED.last_attempted_at`,
		"mark_refreshed": `
			INSERT INTO category_meta (category, last_attempted_at, last_refreshed_at)
			VALUES ($1, $2, $2)
			ON CONFLICT (category) DO UPDATE SET last_refreshed_at = EXCLUDED.last_refreshed_at`,

		// Sync run reports
		"insert_sync_run": `
			INSERT INTO sync_runs (
				id, started_at, finished_at,
				categories_checked, categories_updated, categories_skipped, categories_failed,
				detail
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		"purge_sync_runs": `
			DELETE FROM sync_runs WHERE finished_at < $1`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
