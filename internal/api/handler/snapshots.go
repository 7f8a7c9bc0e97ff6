package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tkdmetrics/rankwatch/internal/api/respond"
	"github.com/tkdmetrics/rankwatch/internal/cache"
	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/detect"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

type entryView struct {
	EntityKey string  `json:"entity_key"`
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Rank      int     `json:"rank"`
	Points    float64 `json:"points"`
}

// GetLatestSnapshot returns the most recent ranked list for a category.
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	category, ok := h.requireCategory(w, r)
	if !ok {
		return
	}

	cacheKey := "snapshot:latest:" + category
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLLatest, true)
		return
	}

	snap, err := h.store.LatestSnapshot(r.Context(), category)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load snapshot")
		return
	}
	if snap == nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("No snapshots recorded for category %s", category))
		return
	}

	entries := make([]entryView, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, entryView{
			EntityKey: e.Key, Name: e.Name, Country: e.Country,
			Rank: e.Rank, Points: e.Points,
		})
	}

	data, err := json.Marshal(map[string]interface{}{
		"category":      snap.Category,
		"snapshot_date": snap.Date.Format("2006-01-02"),
		"retrieved_at":  snap.RetrievedAt.UTC().Format(time.RFC3339),
		"entries":       entries,
		"count":         len(entries),
	})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode snapshot")
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLLatest)
	respond.WriteJSON(w, data, etag, cache.TTLLatest, false)
}

// GetSnapshotDates returns observation dates for a category, newest first.
func (h *Handler) GetSnapshotDates(w http.ResponseWriter, r *http.Request) {
	category, ok := h.requireCategory(w, r)
	if !ok {
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	dates, err := h.store.Dates(r.Context(), category, limit)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load snapshot dates")
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format("2006-01-02"))
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"dates":    out,
		"count":    len(out),
	})
}

// GetChanges recomputes the diff between the two most recent snapshots of a
// category and returns it as change events.
func (h *Handler) GetChanges(w http.ResponseWriter, r *http.Request) {
	category, ok := h.requireCategory(w, r)
	if !ok {
		return
	}

	cacheKey := "changes:" + category
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLChanges, true)
		return
	}

	snaps, err := h.store.RecentSnapshots(r.Context(), category, 2)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load snapshots")
		return
	}
	if len(snaps) == 0 {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("No snapshots recorded for category %s", category))
		return
	}

	// RecentSnapshots is newest first: snaps[0] is incoming, snaps[1] the
	// previous state. A single snapshot diffs against nothing and reports
	// everyone as a new entry.
	var stored []snapshot.Entry
	if len(snaps) > 1 {
		stored = snaps[1].Entries
	}
	res := detect.Detect(snaps[0].Entries, stored)

	var events []detect.ChangeEvent
	if res.Changed {
		events = detect.Events(category, res.Diff, snaps[0].RetrievedAt)
	}

	data, err := json.Marshal(map[string]interface{}{
		"category":      category,
		"snapshot_date": snaps[0].Date.Format("2006-01-02"),
		"changed":       res.Changed,
		"events":        events,
		"count":         len(events),
	})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode changes")
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLChanges)
	respond.WriteJSON(w, data, etag, cache.TTLChanges, false)
}

// requireCategory validates the {category} URL parameter against the
// registry.
func (h *Handler) requireCategory(w http.ResponseWriter, r *http.Request) (string, bool) {
	category := chi.URLParam(r, "category")
	if _, ok := config.CategoryByID(category); !ok {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_CATEGORY",
			fmt.Sprintf("Unknown category %q", category))
		return "", false
	}
	return category, true
}
