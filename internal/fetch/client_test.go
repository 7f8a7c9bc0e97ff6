package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string, fm FieldMap, maxRetries int) *Client {
	return NewClient(baseURL, "test-key", fm, 6000, maxRetries, 5*time.Second, nil)
}

func TestFetchRankings(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rankings", r.URL.Path)
		assert.Equal(t, "M-68kg", r.URL.Query().Get("category"))
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"rank": 1, "name": "Alice Smith", "country": "USA", "points": 300.5},
			{"rank": "2", "name": "Bob Jones", "country": "GBR", "points": "250"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, DefaultFieldMap(), 3)
	res, err := c.FetchRankings(context.Background(), "M-68kg")
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.False(t, res.RetrievedAt.IsZero())

	// Values stay textual; numbers keep their representation, strings lose
	// their quotes.
	assert.Equal(t, RawEntry{Rank: "1", Name: "Alice Smith", Country: "USA", Points: "300.5"}, res.Entries[0])
	assert.Equal(t, RawEntry{Rank: "2", Name: "Bob Jones", Country: "GBR", Points: "250"}, res.Entries[1])
}

func TestFetchRankingsAppliesFieldMap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"position": 1, "athlete_name": "Alice Smith", "nation": "USA", "ranking_points": 300}]`))
	}))
	defer srv.Close()

	fm := FieldMap{Version: 2, Rank: "position", Name: "athlete_name", Country: "nation", Points: "ranking_points"}
	c := newTestClient(srv.URL, fm, 3)

	res, err := c.FetchRankings(context.Background(), "M-68kg")
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "Alice Smith", res.Entries[0].Name)
	assert.Equal(t, "1", res.Entries[0].Rank)
}

func TestFetchRankingsRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"rank": 1, "name": "Alice Smith", "country": "USA", "points": 300}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, DefaultFieldMap(), 5)
	res, err := c.FetchRankings(context.Background(), "M-68kg")
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRankingsClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, DefaultFieldMap(), 5)
	_, err := c.FetchRankings(context.Background(), "M-68kg")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRankingsMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "an array"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, DefaultFieldMap(), 2)
	_, err := c.FetchRankings(context.Background(), "M-68kg")
	assert.Error(t, err)
}
