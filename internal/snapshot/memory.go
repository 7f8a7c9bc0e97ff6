package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store + MetaStore used by tests and dry runs.
// It enforces the same (category, date) uniqueness rule as the Postgres
// store so orchestrator behavior matches either backend.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]Snapshot // category -> snapshots ascending by date
	meta  map[string]CategoryMeta
	runs  []RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps: make(map[string][]Snapshot),
		meta:  make(map[string]CategoryMeta),
	}
}

// Append stores a snapshot, rejecting duplicates per (category, date).
func (s *MemoryStore) Append(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Date = DateOnly(snap.Date)
	for _, existing := range s.snaps[snap.Category] {
		if existing.Date.Equal(snap.Date) {
			return ErrDuplicateSnapshot
		}
	}

	entries := make([]Entry, len(snap.Entries))
	copy(entries, snap.Entries)
	snap.Entries = entries

	s.snaps[snap.Category] = append(s.snaps[snap.Category], snap)
	sort.Slice(s.snaps[snap.Category], func(i, j int) bool {
		return s.snaps[snap.Category][i].Date.Before(s.snaps[snap.Category][j].Date)
	})
	return nil
}

// LatestSnapshot returns the newest snapshot, or nil when absent.
func (s *MemoryStore) LatestSnapshot(_ context.Context, category string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snaps[category]
	if len(snaps) == 0 {
		return nil, nil
	}
	latest := snaps[len(snaps)-1]
	return &latest, nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *MemoryStore) RecentSnapshots(_ context.Context, category string, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snaps[category]
	var out []Snapshot
	for i := len(snaps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, snaps[i])
	}
	return out, nil
}

// Dates returns up to limit observation dates, newest first.
func (s *MemoryStore) Dates(_ context.Context, category string, limit int) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snaps[category]
	var out []time.Time
	for i := len(snaps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, snaps[i].Date)
	}
	return out, nil
}

// History returns the entity's series within [from, to], ascending by date.
func (s *MemoryStore) History(_ context.Context, entityKey string, from, to time.Time) ([]HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = DateOnly(from), DateOnly(to)
	var points []HistoryPoint
	for _, snaps := range s.snaps {
		for _, snap := range snaps {
			if snap.Date.Before(from) || snap.Date.After(to) {
				continue
			}
			for _, e := range snap.Entries {
				if e.Key == entityKey {
					points = append(points, HistoryPoint{Date: snap.Date, Rank: e.Rank, Points: e.Points})
				}
			}
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// Meta returns refresh bookkeeping for a category.
func (s *MemoryStore) Meta(_ context.Context, category string) (CategoryMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.meta[category]; ok {
		return m, nil
	}
	return CategoryMeta{Category: category}, nil
}

// MarkAttempt records a fetch attempt.
func (s *MemoryStore) MarkAttempt(_ context.Context, category string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.meta[category]
	m.Category = category
	m.LastAttemptedAt = &t
	s.meta[category] = m
	return nil
}

// MarkRefreshed records a successful fetch and comparison.
func (s *MemoryStore) MarkRefreshed(_ context.Context, category string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.meta[category]
	m.Category = category
	m.LastRefreshedAt = &t
	if m.LastAttemptedAt == nil {
		m.LastAttemptedAt = &t
	}
	s.meta[category] = m
	return nil
}

// RecordRun appends a cycle summary.
func (s *MemoryStore) RecordRun(_ context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	return nil
}

// Runs returns recorded cycle summaries, oldest first.
func (s *MemoryStore) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, len(s.runs))
	copy(out, s.runs)
	return out
}
