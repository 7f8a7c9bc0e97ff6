package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func snap(category, date string, entries ...Entry) Snapshot {
	return Snapshot{
		Category:    category,
		Date:        day(date),
		Entries:     entries,
		RetrievedAt: day(date).Add(9 * time.Hour),
	}
}

func TestEntityKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ALICE SMITH|USA", EntityKey("Alice Smith", "usa"))
	assert.Equal(t, "ALICE SMITH|USA", EntityKey("  alice   SMITH ", " USA "))
	assert.Equal(t, "ALICE SMITH", EntityKey("Alice Smith", ""))
}

func TestDateOnly(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 15, 23, 45, 12, 999, time.FixedZone("CET", 3600))
	got := DateOnly(ts)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestMemoryStoreAppendDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	e := Entry{Key: "ALICE SMITH|USA", Name: "Alice Smith", Country: "USA", Rank: 1, Points: 300}

	require.NoError(t, store.Append(ctx, snap("M-68kg", "2026-03-01", e)))

	// Same (category, date) is rejected regardless of content.
	e2 := e
	e2.Rank = 2
	err := store.Append(ctx, snap("M-68kg", "2026-03-01", e2))
	assert.ErrorIs(t, err, ErrDuplicateSnapshot)

	// The stored snapshot is untouched.
	latest, err := store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.Entries[0].Rank)

	// Other categories and dates are unaffected.
	assert.NoError(t, store.Append(ctx, snap("F-57kg", "2026-03-01", e)))
	assert.NoError(t, store.Append(ctx, snap("M-68kg", "2026-03-02", e)))
}

func TestMemoryStoreLatestAndDates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	e := Entry{Key: "ALICE SMITH|USA", Name: "Alice Smith", Rank: 1}

	latest, err := store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	assert.Nil(t, latest)

	// Appended out of order; latest is by date, not insertion.
	require.NoError(t, store.Append(ctx, snap("M-68kg", "2026-03-10", e)))
	require.NoError(t, store.Append(ctx, snap("M-68kg", "2026-03-01", e)))
	require.NoError(t, store.Append(ctx, snap("M-68kg", "2026-03-05", e)))

	latest, err = store.LatestSnapshot(ctx, "M-68kg")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, day("2026-03-10"), latest.Date)

	dates, err := store.Dates(ctx, "M-68kg", 2)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, day("2026-03-10"), dates[0])
	assert.Equal(t, day("2026-03-05"), dates[1])

	recent, err := store.RecentSnapshots(ctx, "M-68kg", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, day("2026-03-10"), recent[0].Date)
}

func TestMemoryStoreHistoryAscendingWithinWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	key := "ALICE SMITH|USA"

	points := map[string]int{
		"2026-01-01": 9,
		"2026-02-01": 7,
		"2026-03-01": 4,
	}
	for d, rank := range points {
		require.NoError(t, store.Append(ctx, snap("M-68kg", d,
			Entry{Key: key, Name: "Alice Smith", Rank: rank, Points: 100})))
	}

	history, err := store.History(ctx, key, day("2026-01-15"), day("2026-03-15"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, day("2026-02-01"), history[0].Date)
	assert.Equal(t, day("2026-03-01"), history[1].Date)
	assert.Equal(t, 7, history[0].Rank)

	history, err = store.History(ctx, "NOBODY|XXX", day("2026-01-01"), day("2026-12-31"))
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryStoreMeta(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	meta, err := store.Meta(ctx, "M-68kg")
	require.NoError(t, err)
	assert.Nil(t, meta.LastAttemptedAt)
	assert.Nil(t, meta.LastRefreshedAt)

	attempt := day("2026-03-01").Add(8 * time.Hour)
	require.NoError(t, store.MarkAttempt(ctx, "M-68kg", attempt))

	meta, err = store.Meta(ctx, "M-68kg")
	require.NoError(t, err)
	require.NotNil(t, meta.LastAttemptedAt)
	assert.Nil(t, meta.LastRefreshedAt)

	refreshed := attempt.Add(time.Minute)
	require.NoError(t, store.MarkRefreshed(ctx, "M-68kg", refreshed))

	meta, err = store.Meta(ctx, "M-68kg")
	require.NoError(t, err)
	require.NotNil(t, meta.LastRefreshedAt)
	assert.Equal(t, refreshed, *meta.LastRefreshedAt)
}
