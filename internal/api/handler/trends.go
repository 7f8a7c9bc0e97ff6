package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tkdmetrics/rankwatch/internal/api/respond"
	"github.com/tkdmetrics/rankwatch/internal/cache"
)

// GetTrend returns the derived movement trend for one entity.
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	entityKey, ok := requireEntityKey(w, r)
	if !ok {
		return
	}

	days := h.cfg.TrendDefaultDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 3650 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_DAYS", "days must be between 1 and 3650")
			return
		}
		days = n
	}

	cacheKey := fmt.Sprintf("trend:%s:%d", entityKey, days)
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLTrend, true)
		return
	}

	result, err := h.trends.ComputeTrend(r.Context(), entityKey, days)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to compute trend")
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"trend":         result,
		"lookback_days": days,
	})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode trend")
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLTrend)
	respond.WriteJSON(w, data, etag, cache.TTLTrend, false)
}

// GetHistory returns an entity's raw (date, rank, points) series.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entityKey, ok := requireEntityKey(w, r)
	if !ok {
		return
	}

	days := h.cfg.HistoryDefaultDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 3650 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_DAYS", "days must be between 1 and 3650")
			return
		}
		days = n
	}

	cacheKey := fmt.Sprintf("history:%s:%d", entityKey, days)
	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLHistory, true)
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -days)
	points, err := h.store.History(r.Context(), entityKey, from, now)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load history")
		return
	}

	type pointView struct {
		Date   string  `json:"date"`
		Rank   int     `json:"rank"`
		Points float64 `json:"points"`
	}
	views := make([]pointView, 0, len(points))
	for _, p := range points {
		views = append(views, pointView{
			Date: p.Date.Format("2006-01-02"), Rank: p.Rank, Points: p.Points,
		})
	}

	data, err := json.Marshal(map[string]interface{}{
		"entity_key":    entityKey,
		"lookback_days": days,
		"history":       views,
		"count":         len(views),
	})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode history")
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLHistory)
	respond.WriteJSON(w, data, etag, cache.TTLHistory, false)
}

// requireEntityKey extracts and URL-decodes the {entityKey} parameter.
// Keys contain "|" and spaces, so clients must percent-encode them.
func requireEntityKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "entityKey")
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ENTITY_KEY", "Entity key is required")
		return "", false
	}
	return key, true
}
