package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

func entry(name string, rank int, points float64) snapshot.Entry {
	return snapshot.Entry{
		Key:     snapshot.EntityKey(name, "USA"),
		Name:    name,
		Country: "USA",
		Rank:    rank,
		Points:  points,
	}
}

func TestDetectFirstObservation(t *testing.T) {
	t.Parallel()

	incoming := []snapshot.Entry{
		entry("Alice Smith", 1, 300),
		entry("Bob Jones", 2, 250),
	}

	res := Detect(incoming, nil)
	assert.True(t, res.Changed)
	assert.Len(t, res.Diff.NewEntries, 2)
	assert.Empty(t, res.Diff.DroppedEntries)
	assert.Empty(t, res.Diff.RankChanges)
	assert.Empty(t, res.Diff.PointsChanges)
}

func TestDetectUnchangedIgnoresOrder(t *testing.T) {
	t.Parallel()

	a := entry("Alice Smith", 1, 300)
	b := entry("Bob Jones", 2, 250)

	res := Detect([]snapshot.Entry{b, a}, []snapshot.Entry{a, b})
	assert.False(t, res.Changed)
	assert.True(t, res.Diff.Empty())
}

func TestDetectRankAndPointsChanges(t *testing.T) {
	t.Parallel()

	stored := []snapshot.Entry{
		entry("Alice Smith", 5, 200),
		entry("Bob Jones", 2, 250),
		entry("Carol White", 3, 220),
	}
	incoming := []snapshot.Entry{
		entry("Alice Smith", 3, 240), // moved up two places
		entry("Bob Jones", 2, 250),   // unchanged
		entry("Dan Brown", 4, 180),   // new entrant
	}

	res := Detect(incoming, stored)
	require.True(t, res.Changed)

	require.Len(t, res.Diff.RankChanges, 1)
	rc := res.Diff.RankChanges[0]
	assert.Equal(t, snapshot.EntityKey("Alice Smith", "USA"), rc.Key)
	assert.Equal(t, 5, rc.OldRank)
	assert.Equal(t, 3, rc.NewRank)
	assert.Equal(t, 2, rc.Delta) // positive delta = improvement

	require.Len(t, res.Diff.PointsChanges, 1)
	pc := res.Diff.PointsChanges[0]
	assert.Equal(t, snapshot.EntityKey("Alice Smith", "USA"), pc.Key)
	assert.InDelta(t, 40, pc.Delta, 0.001)

	require.Len(t, res.Diff.NewEntries, 1)
	assert.Equal(t, "Dan Brown", res.Diff.NewEntries[0].Name)

	require.Len(t, res.Diff.DroppedEntries, 1)
	assert.Equal(t, "Carol White", res.Diff.DroppedEntries[0].Name)
}

func TestDetectRankChangesSortedByMagnitude(t *testing.T) {
	t.Parallel()

	stored := []snapshot.Entry{
		entry("Alice Smith", 2, 100),
		entry("Bob Jones", 10, 90),
		entry("Carol White", 5, 80),
	}
	incoming := []snapshot.Entry{
		entry("Alice Smith", 3, 100), // delta -1
		entry("Bob Jones", 4, 90),    // delta +6
		entry("Carol White", 8, 80),  // delta -3
	}

	res := Detect(incoming, stored)
	require.Len(t, res.Diff.RankChanges, 3)
	assert.Equal(t, "Bob Jones", res.Diff.RankChanges[0].Name)
	assert.Equal(t, "Carol White", res.Diff.RankChanges[1].Name)
	assert.Equal(t, "Alice Smith", res.Diff.RankChanges[2].Name)
}

func TestFingerprintStableAcrossOrder(t *testing.T) {
	t.Parallel()

	a := entry("Alice Smith", 1, 300)
	b := entry("Bob Jones", 2, 250)

	fp1 := Fingerprint(canonicalize([]snapshot.Entry{a, b}))
	fp2 := Fingerprint(canonicalize([]snapshot.Entry{b, a}))
	assert.Equal(t, fp1, fp2)

	c := entry("Alice Smith", 2, 300)
	fp3 := Fingerprint(canonicalize([]snapshot.Entry{c, b}))
	assert.NotEqual(t, fp1, fp3)
}

func TestDetectSubCentPointsMovement(t *testing.T) {
	t.Parallel()

	// A points movement smaller than 0.005 must still flip the fingerprint,
	// or the diff and the hash would disagree about whether anything moved.
	stored := []snapshot.Entry{entry("Alice Smith", 1, 100.001)}
	incoming := []snapshot.Entry{entry("Alice Smith", 1, 100.002)}

	assert.NotEqual(t,
		Fingerprint(canonicalize(stored)),
		Fingerprint(canonicalize(incoming)))

	res := Detect(incoming, stored)
	require.True(t, res.Changed)
	require.Len(t, res.Diff.PointsChanges, 1)
	assert.InDelta(t, 0.001, res.Diff.PointsChanges[0].Delta, 1e-9)
	assert.Empty(t, res.Diff.RankChanges)
}

func TestEventsMergeRankAndPoints(t *testing.T) {
	t.Parallel()

	observed := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	key := snapshot.EntityKey("Alice Smith", "USA")

	diff := Diff{
		RankChanges: []RankChange{
			{Key: key, Name: "Alice Smith", OldRank: 5, NewRank: 3, Delta: 2},
		},
		PointsChanges: []PointsChange{
			{Key: key, Name: "Alice Smith", OldPoints: 200, NewPoints: 240, Delta: 40},
		},
		NewEntries: []EntryRef{
			{Key: snapshot.EntityKey("Dan Brown", "USA"), Name: "Dan Brown", Rank: 4},
		},
	}

	events := Events("M-68kg", diff, observed)
	require.Len(t, events, 2)

	alice := events[0]
	assert.Equal(t, key, alice.EntityKey)
	assert.Equal(t, 5, alice.OldRank)
	assert.Equal(t, 3, alice.NewRank)
	assert.Equal(t, 2, alice.RankDelta)
	assert.InDelta(t, 240, alice.NewPoints, 0.001)
	assert.Equal(t, observed, alice.ObservedAt)

	dan := events[1]
	assert.Equal(t, 0, dan.OldRank) // new entrant
	assert.Equal(t, 4, dan.NewRank)
}
