// Package bootstrap turns configuration into a wired application: document
// store backend, repositories, the view-count use case, metrics and tracing.
// Shared by cmd/api and cmd/tracker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/albapepper/viewcount-tracker/internal/config"
	"github.com/albapepper/viewcount-tracker/internal/db"
	"github.com/albapepper/viewcount-tracker/internal/docstore"
	"github.com/albapepper/viewcount-tracker/internal/docstore/memstore"
	"github.com/albapepper/viewcount-tracker/internal/docstore/pgstore"
	"github.com/albapepper/viewcount-tracker/internal/docstore/sqlitestore"
	"github.com/albapepper/viewcount-tracker/internal/milestone"
	"github.com/albapepper/viewcount-tracker/internal/news"
	"github.com/albapepper/viewcount-tracker/internal/provider/youtube"
	"github.com/albapepper/viewcount-tracker/internal/telemetry"
	"github.com/albapepper/viewcount-tracker/internal/video"
	"github.com/albapepper/viewcount-tracker/internal/viewcount"
)

// Version is reported by the API root and the tracer resource.
const Version = "1.0.0"

// App holds every long-lived dependency.
type App struct {
	Config  *config.Config
	Store   *docstore.Store
	Videos  *video.Repository
	News    *news.Repository
	UseCase *viewcount.UseCase
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	health  func(ctx context.Context) error
	stats   func(ctx context.Context) (map[string]int64, error)
	closers []func(ctx context.Context) error
}

// NewLogger returns the process logger for a LOG_LEVEL value.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Open connects the configured backend and wires the application. The
// YouTube client is optional here; commands that run the tracker check
// for the API key themselves.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Metrics: telemetry.NewMetrics()}

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	app.closers = append(app.closers, shutdown)

	if err := app.openStore(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	policy, err := milestone.New(cfg.MilestonePolicy, cfg.MilestoneStep, cfg.ApproachDistance, cfg.ApproachRatio)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("milestone policy: %w", err)
	}

	app.Videos = video.NewRepository(app.Store, logger)
	app.News = news.NewRepository(app.Store, logger)
	source := youtube.NewClient(cfg.YouTubeBaseURL, cfg.YouTubeAPIKey, cfg.YouTubeRequestsPerMinute, logger)
	app.UseCase = viewcount.New(source, app.Store, policy, logger, viewcount.WithMetrics(app.Metrics))
	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		a.Logger.Info("Connecting to database...")
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		backend, err := pgstore.New(ctx, pool.Pool)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		a.Store = docstore.New(backend)
		a.health = pool.HealthCheck
		a.stats = pool.CollectionStats
		a.Logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)

	case config.DriverSQLite:
		backend, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.Store = docstore.New(backend)
		a.health = backend.Ping
		a.Logger.Info("SQLite store opened", "path", cfg.SQLitePath)

	case config.DriverMemory:
		a.Store = docstore.New(memstore.New())
		a.health = func(context.Context) error { return nil }
		a.Logger.Warn("Using in-memory store; data is lost on exit")

	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Store.Close() })
	return nil
}

// HealthCheck verifies the backend is reachable.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.health == nil {
		return errors.New("store not open")
	}
	return a.health(ctx)
}

// CollectionStats returns document counts per collection id. Only the
// postgres driver reports them; other drivers return nil.
func (a *App) CollectionStats(ctx context.Context) (map[string]int64, error) {
	if a.stats == nil {
		return nil, nil
	}
	return a.stats(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ScheduledTargets adapts a fallible target source to the worker, which
// runs with no ids when the source fails.
func ScheduledTargets(targets func() ([]string, error), logger *slog.Logger) func() []string {
	return func() []string {
		ids, err := targets()
		if err != nil {
			logger.Error("Failed to load target video ids", "error", err)
			return nil
		}
		return ids
	}
}
