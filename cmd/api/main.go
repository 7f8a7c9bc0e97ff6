// Command api is the Rankwatch API server.
//
// Usage:
//
//	rankwatch-api
//	API_PORT=8080 rankwatch-api
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tkdmetrics/rankwatch/internal/api"
	"github.com/tkdmetrics/rankwatch/internal/cache"
	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/db"
	"github.com/tkdmetrics/rankwatch/internal/fetch"
	"github.com/tkdmetrics/rankwatch/internal/maintenance"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
	syncer "github.com/tkdmetrics/rankwatch/internal/sync"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := syncer.NewMetrics(registry)

	store := snapshot.NewPostgresStore(pool.Pool)

	// Start scheduled sync cycles when a rankings source is configured
	if cfg.RankingsAPIURL != "" {
		fieldMap, err := fetch.LoadFieldMap(cfg.FieldMapFile)
		if err != nil {
			logger.Error("Failed to load field map", "error", err)
			os.Exit(1)
		}
		client := fetch.NewClient(
			cfg.RankingsAPIURL, cfg.RankingsAPIKey, fieldMap,
			cfg.FetchRatePerMinute, cfg.FetchMaxRetries, cfg.FetchTimeout, logger,
		)
		sinks := []syncer.EventSink{&syncer.LogSink{Logger: logger}}
		if hook := syncer.NewWebhookSink(cfg.EventWebhookURL, cfg.FetchTimeout, cfg.FetchMaxRetries, logger); hook != nil {
			sinks = append(sinks, hook)
			logger.Info("Webhook event delivery enabled", "url", cfg.EventWebhookURL)
		}
		orch := syncer.NewOrchestrator(
			store, store, store, client,
			sinks, metrics, cfg, logger, nil,
		)
		go maintenance.Start(ctx, orch, store, appCache, maintenance.Config{
			SyncInterval:      cfg.SyncInterval,
			RetentionInterval: 24 * time.Hour,
			RetentionDays:     cfg.RunRetentionDays,
		}, logger)
	} else {
		logger.Info("Scheduled sync disabled (no RANKINGS_API_URL)")
		go maintenance.Start(ctx, nil, store, appCache, maintenance.Config{
			RetentionInterval: 24 * time.Hour,
			RetentionDays:     cfg.RunRetentionDays,
		}, logger)
	}

	// Create router
	router := api.NewRouter(pool, store, store, appCache, registry, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Rankwatch API",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
