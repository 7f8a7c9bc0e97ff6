package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/api/respond"
	"github.com/tkdmetrics/rankwatch/internal/cache"
	"github.com/tkdmetrics/rankwatch/internal/config"
)

type categoryView struct {
	ID      string `json:"id"`
	Gender  string `json:"gender"`
	Weight  string `json:"weight"`
	Cadence string `json:"cadence"`
	Olympic bool   `json:"olympic"`
}

// GetCategories returns the tracked category registry.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "categories"

	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLCategories, true)
		return
	}

	views := make([]categoryView, 0, len(config.CategoryRegistry))
	for _, c := range config.CategoryRegistry {
		views = append(views, categoryView{
			ID:      c.ID,
			Gender:  c.Gender,
			Weight:  c.Weight,
			Cadence: string(c.Cadence),
			Olympic: c.Olympic,
		})
	}

	data, err := json.Marshal(map[string]interface{}{
		"categories": views,
		"count":      len(views),
	})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode categories")
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLCategories)
	respond.WriteJSON(w, data, etag, cache.TTLCategories, false)
}

// GetSyncStatus returns refresh bookkeeping for every category.
func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	type statusView struct {
		Category        string     `json:"category"`
		Cadence         string     `json:"cadence"`
		LastAttemptedAt *time.Time `json:"last_attempted_at"`
		LastRefreshedAt *time.Time `json:"last_refreshed_at"`
	}

	statuses := make([]statusView, 0, len(config.CategoryRegistry))
	for _, c := range config.CategoryRegistry {
		meta, err := h.meta.Meta(r.Context(), c.ID)
		if err != nil {
			respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load category status")
			return
		}
		statuses = append(statuses, statusView{
			Category:        c.ID,
			Cadence:         string(c.Cadence),
			LastAttemptedAt: meta.LastAttemptedAt,
			LastRefreshedAt: meta.LastRefreshedAt,
		})
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"categories": statuses,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
