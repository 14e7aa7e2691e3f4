// Command tracker is the view-count tracker CLI.
//
// Usage:
//
//	viewcount-tracker run
//	viewcount-tracker run --ids dQw4w9WgXcQ,9bZkp7q19f0
//	viewcount-tracker schedule --interval 10m --timezone Asia/Tokyo
//	viewcount-tracker prune --retention-days 30
//	viewcount-tracker videos
package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/viewcount-tracker/internal/bootstrap"
	"github.com/albapepper/viewcount-tracker/internal/config"
	"github.com/albapepper/viewcount-tracker/internal/maintenance"
	"github.com/albapepper/viewcount-tracker/internal/viewcount"
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "viewcount-tracker",
		Short:         "YouTube view-count tracker",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(runCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(pruneCmd())
	root.AddCommand(videosCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracker once for the target videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, app *bootstrap.App) error {
				if err := requireAPIKey(app.Config); err != nil {
					return err
				}
				targets := ids
				if len(targets) == 0 {
					var err error
					if targets, err = app.Config.Targets(); err != nil {
						return err
					}
				}
				result, err := app.UseCase.RunOnce(ctx, targets)
				app.Logger.Info("Run finished", "summary", result.Summary())
				for _, id := range result.MissingHistory {
					app.Logger.Error("first sample missing", "video_id", id)
				}
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Video ids to track (default: TARGET_VIDEO_IDS / TARGETS_FILE)")
	return cmd
}

// --------------------------------------------------------------------------
// schedule command
// --------------------------------------------------------------------------

func scheduleCmd() *cobra.Command {
	var (
		interval  time.Duration
		timezone  string
		skipPrune bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the tracker on every interval boundary until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, app *bootstrap.App) error {
				cfg := app.Config
				if err := requireAPIKey(cfg); err != nil {
					return err
				}
				if cmd.Flags().Changed("interval") {
					cfg.RunInterval = interval
				}
				if cmd.Flags().Changed("timezone") {
					cfg.RunTimezone = timezone
				}
				loc, err := cfg.Location()
				if err != nil {
					return err
				}
				if _, err := cfg.Targets(); err != nil {
					return err
				}

				if !skipPrune {
					go maintenance.Start(ctx, app.Videos, maintenance.Config{
						PruneInterval: cfg.PruneInterval,
						Retention:     cfg.HistoryRetention,
					}, app.Metrics, app.Logger)
				}
				logger := app.Logger
				logger.Info("Next run scheduled", "at", viewcount.NextRun(time.Now(), cfg.RunInterval, loc))
				viewcount.StartWorker(ctx, viewcount.NewExclusive(app.UseCase),
					bootstrap.ScheduledTargets(cfg.Targets, logger), cfg.RunInterval, loc, logger)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "Run interval (default: RUN_INTERVAL)")
	cmd.Flags().StringVar(&timezone, "timezone", "Asia/Tokyo", "IANA zone the interval is aligned in (default: RUN_TIMEZONE)")
	cmd.Flags().BoolVar(&skipPrune, "skip-prune", false, "Do not prune old view history while scheduling")
	return cmd
}

// --------------------------------------------------------------------------
// prune command
// --------------------------------------------------------------------------

func pruneCmd() *cobra.Command {
	var retentionDays int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete view history older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, app *bootstrap.App) error {
				retention := app.Config.HistoryRetention
				if cmd.Flags().Changed("retention-days") {
					retention = time.Duration(retentionDays) * 24 * time.Hour
				}
				start := time.Now()
				result, err := maintenance.PruneViewHistory(ctx, app.Videos, retention, app.Logger)
				app.Logger.Info("Prune finished",
					"deleted", result.Deleted,
					"batches", result.Batches,
					"videos", result.Videos,
					"duration", time.Since(start).Round(time.Millisecond))
				if err != nil {
					return err
				}
				return maintenance.ReportOldestSample(ctx, app.Videos, app.Logger)
			})
		},
	}
	cmd.Flags().IntVar(&retentionDays, "retention-days", 90, "Days of history to keep (default: HISTORY_RETENTION_DAYS)")
	return cmd
}

// --------------------------------------------------------------------------
// videos command
// --------------------------------------------------------------------------

func videosCmd() *cobra.Command {
	var withNews bool
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List tracked videos and their next milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, app *bootstrap.App) error {
				all, err := app.Videos.GetAll(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DOC ID\tVIDEO ID\tMILESTONE\tUPDATED\tTITLE")
				for _, docID := range slices.Sorted(maps.Keys(all)) {
					v := all[docID]
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", docID, v.VideoID, v.Milestone, v.Updated.Format(time.RFC3339), v.Title)
					if !withNews {
						continue
					}
					items, err := app.News.ListByVideo(ctx, v.VideoID)
					if err != nil {
						return err
					}
					for _, n := range items {
						fmt.Fprintf(tw, "\t\t%d\t%s\t%s at %d views\n", n.Properties.Milestone, n.Created.Format(time.RFC3339), n.Category, n.Properties.ViewCount)
					}
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&withNews, "news", false, "Also list the milestone news of each video")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runApp handles config loading, store connection, and context cancellation.
func runApp(fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("Close error", "error", err)
		}
	}()

	return fn(ctx, app)
}

func requireAPIKey(cfg *config.Config) error {
	if cfg.YouTubeAPIKey == "" {
		return fmt.Errorf("YOUTUBE_DATA_API_KEY is required")
	}
	return nil
}
