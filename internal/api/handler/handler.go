// Package handler provides HTTP handlers for all API endpoints.
// Handlers read from the snapshot store and derive changes and trends on
// demand; nothing here writes ranking data.
package handler

import (
	"net/http"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/api/respond"
	"github.com/tkdmetrics/rankwatch/internal/cache"
	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/db"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
	"github.com/tkdmetrics/rankwatch/internal/trend"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool   *db.Pool
	store  snapshot.Store
	meta   snapshot.MetaStore
	cache  *cache.Cache
	cfg    *config.Config
	trends *trend.Calculator
}

// New creates a Handler with shared dependencies. pool may be nil when the
// store is not Postgres-backed; /health/db then reports unavailable.
func New(pool *db.Pool, store snapshot.Store, meta snapshot.MetaStore, c *cache.Cache, cfg *config.Config) *Handler {
	return &Handler{
		pool:   pool,
		store:  store,
		meta:   meta,
		cache:  c,
		cfg:    cfg,
		trends: trend.NewCalculator(store, nil),
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Rankwatch API",
		"version": "1.0.0",
		"status":  "running",
		"optimizations": []string{
			"pgxpool_connection_pooling",
			"prepared_statements",
			"gzip_compression",
			"in_memory_cache",
			"etag_support",
		},
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "not configured",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
