// Command api is the View Count Tracker API server.
//
// Usage:
//
//	viewcount-api
//	API_PORT=8080 WORKER_ENABLED=true viewcount-api

// @title View Count Tracker API
// @version 1.0.0
// @description Tracks YouTube view counts, records a history sample per run, and emits milestone news.
// @BasePath /api/v1
// @schemes http https
// @contact.name Viewcount Tracker
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/viewcount-tracker/internal/api"
	"github.com/albapepper/viewcount-tracker/internal/api/handler"
	"github.com/albapepper/viewcount-tracker/internal/bootstrap"
	"github.com/albapepper/viewcount-tracker/internal/cache"
	"github.com/albapepper/viewcount-tracker/internal/config"
	"github.com/albapepper/viewcount-tracker/internal/maintenance"
	"github.com/albapepper/viewcount-tracker/internal/viewcount"

	_ "github.com/albapepper/viewcount-tracker/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootstrap.NewLogger("info").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("Close error", "error", err)
		}
	}()

	// Initialize cache
	appCache := cache.New(true)
	go appCache.EvictLoop(ctx.Done(), 5*time.Minute)

	// One run at a time, whether triggered over HTTP or by the schedule.
	runner := viewcount.NewExclusive(app.UseCase)
	targets := cfg.Targets

	if cfg.WorkerEnabled {
		loc, err := cfg.Location()
		if err != nil {
			logger.Error("Invalid timezone", "error", err)
			os.Exit(1)
		}
		go viewcount.StartWorker(ctx, runner, bootstrap.ScheduledTargets(targets, logger), cfg.RunInterval, loc, logger)
	} else {
		logger.Info("View count worker disabled (WORKER_ENABLED=false)")
	}

	// Start maintenance tickers (history pruning)
	go maintenance.Start(ctx, app.Videos, maintenance.Config{
		PruneInterval: cfg.PruneInterval,
		Retention:     cfg.HistoryRetention,
	}, app.Metrics, logger)

	// Create router
	h := handler.New(handler.Deps{
		Videos:  app.Videos,
		News:    app.News,
		Runner:  runner,
		Targets: targets,
		Health:  app.HealthCheck,
		Stats:   app.CollectionStats,
		Cache:   appCache,
		Config:  cfg,
		Logger:  logger,
		Version: bootstrap.Version,
	})
	router := api.NewRouter(h, app.Metrics.Handler(), cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: handler.DefaultRunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting View Count Tracker API",
			"addr", addr,
			"environment", cfg.Environment,
			"store", cfg.StoreDriver,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			cancel()
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
