// Package backfill imports historical snapshots from a JSON export file.
// Used to seed the store with rankings observed before the engine existed;
// the same append path and uniqueness rules apply as for live syncs.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// fileSnapshot is one snapshot in the export format.
type fileSnapshot struct {
	Category     string      `json:"category"`
	SnapshotDate string      `json:"snapshot_date"` // YYYY-MM-DD
	RetrievedAt  *time.Time  `json:"retrieved_at,omitempty"`
	Entries      []fileEntry `json:"entries"`
}

type fileEntry struct {
	Name    string  `json:"name"`
	Country string  `json:"country,omitempty"`
	Rank    int     `json:"rank"`
	Points  float64 `json:"points"`
}

// Result tracks counts and errors from a backfill import.
type Result struct {
	SnapshotsImported int
	EntriesImported   int
	Duplicates        int
	Errors            []string
}

// AddErrorf records a formatted error message.
func (r *Result) AddErrorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary.
func (r *Result) Summary() string {
	return fmt.Sprintf("snapshots=%d entries=%d duplicates=%d errors=%d",
		r.SnapshotsImported, r.EntriesImported, r.Duplicates, len(r.Errors))
}

// Import reads a JSON export file and appends every snapshot it contains.
// Snapshots already present for their (category, date) are counted as
// duplicates and left untouched. Malformed snapshots are skipped with an
// error; the rest of the file still imports.
func Import(ctx context.Context, store snapshot.Store, path string, logger *slog.Logger) (Result, error) {
	var result Result

	data, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("read backfill file: %w", err)
	}

	var snaps []fileSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return result, fmt.Errorf("parse backfill file: %w", err)
	}

	for i, fs := range snaps {
		snap, err := toSnapshot(fs)
		if err != nil {
			result.AddErrorf("snapshot %d: %v", i, err)
			continue
		}

		err = store.Append(ctx, snap)
		switch {
		case errors.Is(err, snapshot.ErrDuplicateSnapshot):
			result.Duplicates++
			logger.Info("backfill: snapshot already recorded",
				"category", snap.Category, "date", snap.Date.Format("2006-01-02"))
		case err != nil:
			result.AddErrorf("snapshot %d (%s %s): %v",
				i, fs.Category, fs.SnapshotDate, err)
		default:
			result.SnapshotsImported++
			result.EntriesImported += len(snap.Entries)
		}
	}
	return result, nil
}

func toSnapshot(fs fileSnapshot) (snapshot.Snapshot, error) {
	if _, ok := config.CategoryByID(fs.Category); !ok {
		return snapshot.Snapshot{}, fmt.Errorf("unknown category %q", fs.Category)
	}
	date, err := time.Parse("2006-01-02", fs.SnapshotDate)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("parse date %q: %w", fs.SnapshotDate, err)
	}
	if len(fs.Entries) == 0 {
		return snapshot.Snapshot{}, fmt.Errorf("no entries")
	}

	entries := make([]snapshot.Entry, 0, len(fs.Entries))
	for _, e := range fs.Entries {
		if e.Name == "" || e.Rank < 1 {
			return snapshot.Snapshot{}, fmt.Errorf("invalid entry (name=%q rank=%d)", e.Name, e.Rank)
		}
		// Country takes the same canonical form as live-sync ingestion, so
		// a backfilled snapshot fingerprints equal to an identical fetch.
		country := strings.ToUpper(strings.TrimSpace(e.Country))
		entries = append(entries, snapshot.Entry{
			Key:     snapshot.EntityKey(e.Name, country),
			Name:    e.Name,
			Country: country,
			Rank:    e.Rank,
			Points:  e.Points,
		})
	}

	retrieved := date
	if fs.RetrievedAt != nil {
		retrieved = *fs.RetrievedAt
	}
	return snapshot.Snapshot{
		Category:    fs.Category,
		Date:        snapshot.DateOnly(date),
		Entries:     entries,
		RetrievedAt: retrieved,
	}, nil
}
