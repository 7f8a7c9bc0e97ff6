// Package detect compares a freshly retrieved snapshot against the last
// stored one. A fingerprint over the canonical (entity-key sorted) form
// decides changed vs unchanged; only changed snapshots get a structured
// diff of new entrants, dropped entries, and rank/points movements.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// Result is the outcome of comparing incoming entries to the stored latest.
type Result struct {
	Changed bool
	Diff    Diff
}

// Diff describes how two consecutive snapshots differ.
type Diff struct {
	NewEntries     []EntryRef
	DroppedEntries []EntryRef
	RankChanges    []RankChange
	PointsChanges  []PointsChange
}

// EntryRef identifies one entry on a single side of the comparison.
type EntryRef struct {
	Key  string
	Name string
	Rank int
}

// RankChange is a rank movement for an entity present on both sides.
// Delta = old − new: positive means the entity moved to a better rank.
type RankChange struct {
	Key     string
	Name    string
	OldRank int
	NewRank int
	Delta   int
}

// PointsChange is a points movement for an entity present on both sides.
// Delta = new − old.
type PointsChange struct {
	Key       string
	Name      string
	OldPoints float64
	NewPoints float64
	Delta     float64
}

// Empty reports whether the diff carries no movements at all.
func (d Diff) Empty() bool {
	return len(d.NewEntries) == 0 && len(d.DroppedEntries) == 0 &&
		len(d.RankChanges) == 0 && len(d.PointsChanges) == 0
}

// Detect classifies incoming entries against the stored latest snapshot.
// A nil or empty stored side means first observation: everything incoming
// is a new entry and nothing is classified as dropped or rank-changed.
//
// Callers must reject empty or suspiciously small incoming sets before
// calling Detect — an empty fetch is a failure, not "everyone dropped".
func Detect(incoming, stored []snapshot.Entry) Result {
	if len(stored) == 0 {
		diff := Diff{NewEntries: refs(canonicalize(incoming))}
		return Result{Changed: true, Diff: diff}
	}

	newSide := canonicalize(incoming)
	oldSide := canonicalize(stored)

	if Fingerprint(newSide) == Fingerprint(oldSide) {
		return Result{Changed: false}
	}

	oldByKey := make(map[string]snapshot.Entry, len(oldSide))
	for _, e := range oldSide {
		oldByKey[e.Key] = e
	}
	newByKey := make(map[string]snapshot.Entry, len(newSide))
	for _, e := range newSide {
		newByKey[e.Key] = e
	}

	var diff Diff
	for _, e := range newSide {
		old, ok := oldByKey[e.Key]
		if !ok {
			diff.NewEntries = append(diff.NewEntries, EntryRef{Key: e.Key, Name: e.Name, Rank: e.Rank})
			continue
		}
		if old.Rank != e.Rank {
			diff.RankChanges = append(diff.RankChanges, RankChange{
				Key:     e.Key,
				Name:    e.Name,
				OldRank: old.Rank,
				NewRank: e.Rank,
				Delta:   old.Rank - e.Rank,
			})
		}
		if old.Points != e.Points {
			diff.PointsChanges = append(diff.PointsChanges, PointsChange{
				Key:       e.Key,
				Name:      e.Name,
				OldPoints: old.Points,
				NewPoints: e.Points,
				Delta:     e.Points - old.Points,
			})
		}
	}
	for _, e := range oldSide {
		if _, ok := newByKey[e.Key]; !ok {
			diff.DroppedEntries = append(diff.DroppedEntries, EntryRef{Key: e.Key, Name: e.Name, Rank: e.Rank})
		}
	}

	// Biggest movers first, matching the report ordering downstream expects.
	sort.Slice(diff.RankChanges, func(i, j int) bool {
		return abs(diff.RankChanges[i].Delta) > abs(diff.RankChanges[j].Delta)
	})

	return Result{Changed: true, Diff: diff}
}

// Fingerprint computes a deterministic content hash over entries already in
// canonical order. Two snapshots with the same entries always produce the
// same fingerprint regardless of original ordering. Points are hashed at
// full float precision so the hash agrees with the exact comparison the
// diff uses; rounding here would swallow small movements.
func Fingerprint(canonical []snapshot.Entry) string {
	h := sha256.New()
	for _, e := range canonical {
		fmt.Fprintf(h, "%d|%s|%s|%s\n",
			e.Rank, e.Key, e.Country, strconv.FormatFloat(e.Points, 'g', -1, 64))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize returns a copy sorted by entity key ascending, making the
// comparison order-independent.
func canonicalize(entries []snapshot.Entry) []snapshot.Entry {
	out := make([]snapshot.Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

func refs(entries []snapshot.Entry) []EntryRef {
	out := make([]EntryRef, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryRef{Key: e.Key, Name: e.Name, Rank: e.Rank})
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// --------------------------------------------------------------------------
// Change events
// --------------------------------------------------------------------------

// ChangeEvent is a derived record describing how one entity's rank or
// points moved between two consecutive snapshots. Events are ephemeral:
// recomputed from stored snapshots, never persisted as primary data.
type ChangeEvent struct {
	EntityKey  string    `json:"entity_key"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	OldRank    int       `json:"old_rank"` // 0 for new entrants
	NewRank    int       `json:"new_rank"` // 0 for dropped entries
	OldPoints  float64   `json:"old_points"`
	NewPoints  float64   `json:"new_points"`
	RankDelta  int       `json:"rank_delta"` // old − new, positive = improvement
	ObservedAt time.Time `json:"observed_at"`
}

// Events flattens a diff into one event per moved entity. Rank and points
// movements for the same entity merge into a single event.
func Events(category string, diff Diff, observedAt time.Time) []ChangeEvent {
	byKey := make(map[string]*ChangeEvent)
	var order []string

	get := func(key, name string) *ChangeEvent {
		if ev, ok := byKey[key]; ok {
			return ev
		}
		ev := &ChangeEvent{EntityKey: key, Name: name, Category: category, ObservedAt: observedAt}
		byKey[key] = ev
		order = append(order, key)
		return ev
	}

	for _, rc := range diff.RankChanges {
		ev := get(rc.Key, rc.Name)
		ev.OldRank = rc.OldRank
		ev.NewRank = rc.NewRank
		ev.RankDelta = rc.Delta
	}
	for _, pc := range diff.PointsChanges {
		ev := get(pc.Key, pc.Name)
		ev.OldPoints = pc.OldPoints
		ev.NewPoints = pc.NewPoints
	}
	for _, ne := range diff.NewEntries {
		ev := get(ne.Key, ne.Name)
		ev.NewRank = ne.Rank
	}
	for _, de := range diff.DroppedEntries {
		ev := get(de.Key, de.Name)
		ev.OldRank = de.Rank
	}

	events := make([]ChangeEvent, 0, len(order))
	for _, key := range order {
		events = append(events, *byKey[key])
	}
	return events
}
