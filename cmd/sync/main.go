// Command sync is the Rankwatch synchronization CLI.
//
// Usage:
//
//	rankwatch-sync run
//	rankwatch-sync run --category M-68kg --force
//	rankwatch-sync run --dry-run
//	rankwatch-sync categories
//	rankwatch-sync changes --category F-57kg
//	rankwatch-sync trend --entity "JOHN DOE|USA" --days 180
//	rankwatch-sync history --entity "JOHN DOE|USA" --days 365
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tkdmetrics/rankwatch/internal/backfill"
	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/db"
	"github.com/tkdmetrics/rankwatch/internal/detect"
	"github.com/tkdmetrics/rankwatch/internal/fetch"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
	syncer "github.com/tkdmetrics/rankwatch/internal/sync"
	"github.com/tkdmetrics/rankwatch/internal/trend"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "rankwatch-sync",
		Short: "Rankwatch synchronization CLI",
	}

	root.AddCommand(runCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(categoriesCmd())
	root.AddCommand(changesCmd())
	root.AddCommand(trendCmd())
	root.AddCommand(historyCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var (
		categories []string
		workers    int
		force      bool
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one synchronization cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				if cfg.RankingsAPIURL == "" {
					return fmt.Errorf("RANKINGS_API_URL is required")
				}
				fieldMap, err := fetch.LoadFieldMap(cfg.FieldMapFile)
				if err != nil {
					return err
				}
				client := fetch.NewClient(
					cfg.RankingsAPIURL, cfg.RankingsAPIKey, fieldMap,
					cfg.FetchRatePerMinute, cfg.FetchMaxRetries, cfg.FetchTimeout, logger,
				)

				store := snapshot.NewPostgresStore(pool.Pool)
				sinks := []syncer.EventSink{&syncer.LogSink{Logger: logger}}
				if hook := syncer.NewWebhookSink(cfg.EventWebhookURL, cfg.FetchTimeout, cfg.FetchMaxRetries, logger); hook != nil {
					sinks = append(sinks, hook)
				}
				orch := syncer.NewOrchestrator(
					store, store, store, client,
					sinks, nil, cfg, logger, nil,
				)

				start := time.Now()
				result, err := orch.RunCycle(ctx, syncer.Options{
					Categories: categories,
					Force:      force,
					DryRun:     dryRun,
					Workers:    workers,
				})
				if err != nil {
					return err
				}
				logger.Info("Sync finished",
					"duration", time.Since(start).Round(time.Second),
					"summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("sync error", "error", e)
				}
				if result.Failed > 0 {
					return fmt.Errorf("%d categories failed", result.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Category to sync (repeatable); empty = all")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent worker count (0 = configured default)")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the freshness policy")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and detect but write nothing")
	return cmd
}

// --------------------------------------------------------------------------
// backfill command
// --------------------------------------------------------------------------

func backfillCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import historical snapshots from a JSON export file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := snapshot.NewPostgresStore(pool.Pool)
				start := time.Now()
				result, err := backfill.Import(ctx, store, file, logger)
				if err != nil {
					return err
				}
				logger.Info("Backfill finished",
					"duration", time.Since(start).Round(time.Second),
					"summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("backfill error", "error", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the JSON export file")
	cmd.MarkFlagRequired("file")
	return cmd
}

// --------------------------------------------------------------------------
// categories command
// --------------------------------------------------------------------------

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List tracked weight categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range config.CategoryRegistry {
				marker := " "
				if c.Olympic {
					marker = "*"
				}
				fmt.Printf("%s %-8s cadence=%s\n", marker, c.ID, c.Cadence)
			}
			fmt.Println("\n* Olympic category")
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// changes command
// --------------------------------------------------------------------------

func changesCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show changes between the two most recent snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := config.CategoryByID(category); !ok {
				return fmt.Errorf("unknown category %q", category)
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := snapshot.NewPostgresStore(pool.Pool)
				snaps, err := store.RecentSnapshots(ctx, category, 2)
				if err != nil {
					return err
				}
				if len(snaps) == 0 {
					return fmt.Errorf("no snapshots recorded for %s", category)
				}

				var stored []snapshot.Entry
				if len(snaps) > 1 {
					stored = snaps[1].Entries
				}
				res := detect.Detect(snaps[0].Entries, stored)
				if !res.Changed {
					fmt.Printf("%s: no changes between last two snapshots\n", category)
					return nil
				}
				events := detect.Events(category, res.Diff, snaps[0].RetrievedAt)
				return printJSON(events)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category ID (e.g. M-68kg)")
	cmd.MarkFlagRequired("category")
	return cmd
}

// --------------------------------------------------------------------------
// trend / history commands
// --------------------------------------------------------------------------

func trendCmd() *cobra.Command {
	var entity string
	var days int
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Compute the movement trend for an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := snapshot.NewPostgresStore(pool.Pool)
				calc := trend.NewCalculator(store, nil)
				if days == 0 {
					days = cfg.TrendDefaultDays
				}
				result, err := calc.ComputeTrend(ctx, entity, days)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", `Entity key (e.g. "JOHN DOE|USA")`)
	cmd.Flags().IntVar(&days, "days", 0, "Lookback window in days (0 = configured default)")
	cmd.MarkFlagRequired("entity")
	return cmd
}

func historyCmd() *cobra.Command {
	var entity string
	var days int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show an entity's rank and points history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := snapshot.NewPostgresStore(pool.Pool)
				if days == 0 {
					days = cfg.HistoryDefaultDays
				}
				now := time.Now().UTC()
				points, err := store.History(ctx, entity, now.AddDate(0, 0, -days), now)
				if err != nil {
					return err
				}
				if len(points) == 0 {
					return fmt.Errorf("no history recorded for %q", entity)
				}
				for _, p := range points {
					fmt.Printf("%s  rank=%-4d points=%.2f\n",
						p.Date.Format("2006-01-02"), p.Rank, p.Points)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", `Entity key (e.g. "JOHN DOE|USA")`)
	cmd.Flags().IntVar(&days, "days", 0, "Lookback window in days (0 = configured default)")
	cmd.MarkFlagRequired("entity")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withPool handles config loading, DB connection, and context cancellation.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
