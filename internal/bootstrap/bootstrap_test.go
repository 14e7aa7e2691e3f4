package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/albapepper/viewcount-tracker/internal/config"
	"github.com/albapepper/viewcount-tracker/internal/video"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		StoreDriver:      driver,
		MilestonePolicy:  "magnitude",
		ApproachRatio:    0.05,
		ServiceName:      "test",
		YouTubeBaseURL:   "http://127.0.0.1:0",
		RunTimezone:      "UTC",
		HistoryRetention: 0,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	app, err := Open(ctx, testConfig(config.DriverMemory), discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close(ctx)

	if err := app.HealthCheck(ctx); err != nil {
		t.Errorf("unexpected health error: %v", err)
	}
	if app.UseCase == nil || app.Videos == nil || app.News == nil || app.Metrics == nil {
		t.Fatalf("app not fully wired: %+v", app)
	}
	if _, err := app.Videos.AddVideos(ctx, []video.Video{{VideoID: "a", Milestone: 10}}); err != nil {
		t.Errorf("store not usable: %v", err)
	}
	if stats, err := app.CollectionStats(ctx); err != nil || stats != nil {
		t.Errorf("expected no collection stats for memory driver, got %v, %v", stats, err)
	}
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(config.DriverSQLite)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "tracker.db")

	app, err := Open(ctx, cfg, discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := app.HealthCheck(ctx); err != nil {
		t.Errorf("unexpected health error: %v", err)
	}
	if err := app.Close(ctx); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, testConfig("cassandra"), discard()); err == nil {
		t.Error("expected unknown driver error")
	}
	cfg := testConfig(config.DriverMemory)
	cfg.MilestonePolicy = "fibonacci"
	if _, err := Open(ctx, cfg, discard()); err == nil {
		t.Error("expected milestone policy error")
	}
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	if !NewLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
	if NewLogger("warn").Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !NewLogger("bogus").Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info default")
	}
}
