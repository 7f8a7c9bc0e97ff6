// Package sync orchestrates one synchronization cycle: evaluate the
// freshness policy per category, fetch due categories through the external
// rankings source, normalize and guard the raw rows, detect changes
// against the stored latest snapshot, persist changed snapshots, and emit
// change events to the configured sinks.
package sync

import (
	"fmt"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/freshness"
)

// Status classifies a category's outcome within one cycle.
type Status string

const (
	StatusUpdated   Status = "updated"   // changed snapshot persisted
	StatusUnchanged Status = "unchanged" // fetched, identical to stored
	StatusSkipped   Status = "skipped"   // freshness policy said not due
	StatusFailed    Status = "failed"    // fetch or storage failure
)

// CategoryResult tracks the outcome of syncing a single category.
type CategoryResult struct {
	Category    string           `json:"category"`
	Status      Status           `json:"status"`
	Reason      freshness.Reason `json:"reason,omitempty"`
	Entries     int              `json:"entries,omitempty"`
	NewEntries  int              `json:"new_entries,omitempty"`
	Dropped     int              `json:"dropped,omitempty"`
	RankChanges int              `json:"rank_changes,omitempty"`
	Events      int              `json:"events,omitempty"`
	Error       string           `json:"error,omitempty"`
	Duration    time.Duration    `json:"duration_ns,omitempty"`
}

// Summary returns a human-readable summary.
func (r *CategoryResult) Summary() string {
	return fmt.Sprintf("category=%s status=%s reason=%s entries=%d events=%d dur=%s",
		r.Category, r.Status, r.Reason, r.Entries, r.Events,
		r.Duration.Round(time.Millisecond))
}

// RunResult tracks the outcome of a full orchestration cycle.
type RunResult struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	Checked    int              `json:"checked"`
	Updated    int              `json:"updated"`
	Unchanged  int              `json:"unchanged"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Events     int              `json:"events"`
	Duration   time.Duration    `json:"duration_ns"`
	Errors     []string         `json:"errors,omitempty"`
	Results    []CategoryResult `json:"results"`
}

// Summary returns a human-readable summary.
func (r *RunResult) Summary() string {
	return fmt.Sprintf(
		"checked=%d updated=%d unchanged=%d skipped=%d failed=%d events=%d dur=%s",
		r.Checked, r.Updated, r.Unchanged, r.Skipped, r.Failed, r.Events,
		r.Duration.Round(time.Second))
}

// add merges a category outcome into the run totals. Callers hold the
// result mutex.
func (r *RunResult) add(cr CategoryResult) {
	r.Checked++
	r.Results = append(r.Results, cr)
	r.Events += cr.Events

	switch cr.Status {
	case StatusUpdated:
		r.Updated++
	case StatusUnchanged:
		r.Unchanged++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", cr.Category, cr.Error))
	}
}
