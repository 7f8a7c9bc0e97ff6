package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	corslib "github.com/rs/cors"

	"github.com/tkdmetrics/rankwatch/internal/api/handler"
	"github.com/tkdmetrics/rankwatch/internal/cache"
	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/db"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
// registry may be nil to skip the /metrics endpoint.
func NewRouter(pool *db.Pool, store snapshot.Store, meta snapshot.MetaStore, appCache *cache.Cache, registry *prometheus.Registry, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "Link", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, store, meta, appCache, cfg)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Prometheus metrics
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Category registry and freshness status
		r.Get("/categories", h.GetCategories)
		r.Get("/status", h.GetSyncStatus)

		// Snapshots
		r.Get("/snapshots/{category}/latest", h.GetLatestSnapshot)
		r.Get("/snapshots/{category}/dates", h.GetSnapshotDates)

		// Change feed (recomputed from the two most recent snapshots)
		r.Get("/changes/{category}", h.GetChanges)

		// Derived trends and raw history
		r.Get("/trend/{entityKey}", h.GetTrend)
		r.Get("/history/{entityKey}", h.GetHistory)
	})

	return r
}
