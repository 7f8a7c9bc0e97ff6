// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/sync.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Category registry — the 16 world-ranking weight categories
// --------------------------------------------------------------------------

// Cadence classifies how often a category's rankings are expected to move.
type Cadence string

const (
	CadenceHigh   Cadence = "high"   // re-check daily
	CadenceMedium Cadence = "medium" // re-check weekly
	CadenceLow    Cadence = "low"    // re-check monthly
)

// CategoryConfig is immutable reference data for one ranking category.
type CategoryConfig struct {
	ID      string // e.g. "M-68kg"
	Gender  string // "M" or "F"
	Weight  string // e.g. "-68kg"
	Cadence Cadence
	Olympic bool // contested at the Olympic Games
}

// CategoryRegistry lists every tracked category in scan order. Olympic
// categories move the most between Grand Prix events, so they default to
// the high cadence class.
var CategoryRegistry = buildRegistry()

func buildRegistry() []CategoryConfig {
	weights := map[string][]string{
		"M": {"-54kg", "-58kg", "-63kg", "-68kg", "-74kg", "-80kg", "-87kg", "+87kg"},
		"F": {"-46kg", "-49kg", "-53kg", "-57kg", "-62kg", "-67kg", "-73kg", "+73kg"},
	}
	olympic := map[string]bool{
		"M-58kg": true, "M-68kg": true, "M-80kg": true, "M+87kg": true,
		"F-49kg": true, "F-57kg": true, "F-67kg": true, "F+73kg": true,
	}

	var registry []CategoryConfig
	for _, gender := range []string{"M", "F"} {
		for _, w := range weights[gender] {
			id := gender + w
			cadence := CadenceMedium
			if olympic[id] {
				cadence = CadenceHigh
			}
			registry = append(registry, CategoryConfig{
				ID:      id,
				Gender:  gender,
				Weight:  w,
				Cadence: cadence,
				Olympic: olympic[id],
			})
		}
	}
	return registry
}

// CategoryByID returns the registry entry for an ID, or false if unknown.
func CategoryByID(id string) (CategoryConfig, bool) {
	for _, c := range CategoryRegistry {
		if c.ID == id {
			return c, true
		}
	}
	return CategoryConfig{}, false
}

// --------------------------------------------------------------------------
// Table names — single source of truth, matches schema.sql
// --------------------------------------------------------------------------

const (
	SnapshotsTable    = "ranking_snapshots"
	CategoryMetaTable = "category_meta"
	SyncRunsTable     = "sync_runs"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Rankings source (the external Fetcher)
	RankingsAPIURL     string
	RankingsAPIKey     string
	FieldMapFile       string // YAML schema mapping for raw entries
	FetchTimeout       time.Duration
	FetchMaxRetries    int
	FetchRatePerMinute int

	// Change event delivery
	EventWebhookURL string // empty disables webhook delivery

	// Sync engine
	MinSnapshotEntries int // smaller fetches are treated as failures
	LookbackDays       int // correction window for recently-observed categories
	SyncWorkers        int
	CycleTimeout       time.Duration
	SyncInterval       time.Duration // 0 disables scheduled cycles
	RunRetentionDays   int
	TrendDefaultDays   int
	HistoryDefaultDays int

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("RANKWATCH_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or RANKWATCH_DATABASE_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		RankingsAPIURL:     envOr("RANKINGS_API_URL", ""),
		RankingsAPIKey:     envOr("RANKINGS_API_KEY", ""),
		FieldMapFile:       envOr("RANKINGS_FIELDMAP_FILE", "fieldmap.yaml"),
		FetchTimeout:       time.Duration(envInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		FetchMaxRetries:    envInt("FETCH_MAX_RETRIES", 3),
		FetchRatePerMinute: envInt("FETCH_RATE_PER_MINUTE", 30),

		EventWebhookURL: envOr("EVENT_WEBHOOK_URL", ""),

		MinSnapshotEntries: envInt("MIN_SNAPSHOT_ENTRIES", 5),
		LookbackDays:       envInt("LOOKBACK_DAYS", 30),
		SyncWorkers:        envInt("SYNC_WORKERS", 4),
		CycleTimeout:       time.Duration(envInt("CYCLE_TIMEOUT_MINUTES", 20)) * time.Minute,
		SyncInterval:       time.Duration(envInt("SYNC_INTERVAL_MINUTES", 360)) * time.Minute,
		RunRetentionDays:   envInt("RUN_RETENTION_DAYS", 90),
		TrendDefaultDays:   envInt("TREND_DEFAULT_DAYS", 180),
		HistoryDefaultDays: envInt("HISTORY_DEFAULT_DAYS", 365),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
