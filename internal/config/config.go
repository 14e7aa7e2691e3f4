// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/tracker.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// Store drivers
// --------------------------------------------------------------------------

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Document store
	StoreDriver    string
	DatabaseURL    string
	SQLitePath     string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// YouTube Data API
	YouTubeAPIKey            string
	YouTubeBaseURL           string
	YouTubeRequestsPerMinute int

	// Targets
	TargetVideoIDs []string
	TargetsFile    string

	// Scheduling
	RunInterval   time.Duration
	RunTimezone   string
	WorkerEnabled bool // run the scheduler inside cmd/api

	// Milestones
	MilestonePolicy  string // magnitude, fixed
	MilestoneStep    int64
	ApproachDistance int64
	ApproachRatio    float64

	// Maintenance
	HistoryRetention time.Duration
	PruneInterval    time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	LogLevel    string

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Telemetry
	OTelEnabled bool
	ServiceName string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StoreDriver:    strings.ToLower(envOr("DOCSTORE_DRIVER", DriverPostgres)),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		SQLitePath:     envOr("SQLITE_PATH", "viewcount.db"),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		YouTubeAPIKey:            envOr("YOUTUBE_DATA_API_KEY", ""),
		YouTubeBaseURL:           envOr("YOUTUBE_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		YouTubeRequestsPerMinute: envInt("YOUTUBE_REQUESTS_PER_MINUTE", 60),

		TargetVideoIDs: envList("TARGET_VIDEO_IDS", nil),
		TargetsFile:    envOr("TARGETS_FILE", ""),

		RunInterval:   envDuration("RUN_INTERVAL", 10*time.Minute),
		RunTimezone:   envOr("RUN_TIMEZONE", "Asia/Tokyo"),
		WorkerEnabled: envBool("WORKER_ENABLED", false),

		MilestonePolicy:  envOr("MILESTONE_POLICY", "magnitude"),
		MilestoneStep:    int64(envInt("MILESTONE_STEP", 0)),
		ApproachDistance: int64(envInt("APPROACH_DISTANCE", 0)),
		ApproachRatio:    envFloat("APPROACH_RATIO", 0.05),

		HistoryRetention: time.Duration(envInt("HISTORY_RETENTION_DAYS", 90)) * 24 * time.Hour,
		PruneInterval:    envDuration("PRUNE_INTERVAL", 24*time.Hour),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envOr("LOG_LEVEL", "info"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		OTelEnabled: envBool("OTEL_ENABLED", false),
		ServiceName: envOr("OTEL_SERVICE_NAME", "viewcount-tracker"),
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set for the %s driver", DriverPostgres)
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH must be set for the %s driver", DriverSQLite)
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("unknown DOCSTORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.RunInterval < 0 {
		return nil, fmt.Errorf("RUN_INTERVAL must not be negative, got %s", cfg.RunInterval)
	}
	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location resolves RunTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.RunTimezone)
	if err != nil {
		return nil, fmt.Errorf("load RUN_TIMEZONE %q: %w", c.RunTimezone, err)
	}
	return loc, nil
}

// --------------------------------------------------------------------------
// Targets
// --------------------------------------------------------------------------

// ErrNoTargets is returned when neither TARGET_VIDEO_IDS nor TARGETS_FILE
// yields a video id.
var ErrNoTargets = errors.New("no target video ids configured")

// TargetsFile is the YAML layout of TARGETS_FILE:
//
//	videos:
//	  - id: dQw4w9WgXcQ
//	    note: launch video
type TargetsFile struct {
	Videos []struct {
		ID   string `yaml:"id"`
		Note string `yaml:"note,omitempty"`
	} `yaml:"videos"`
}

// Targets returns the tracked video ids: TARGET_VIDEO_IDS first, then the
// ids in TARGETS_FILE, de-duplicated in order. The file is re-read on every
// call so edits apply to the next run.
func (c *Config) Targets() ([]string, error) {
	ids := append([]string(nil), c.TargetVideoIDs...)
	if c.TargetsFile != "" {
		fromFile, err := LoadTargetsFile(c.TargetsFile)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}

	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	return out, nil
}

// LoadTargetsFile reads the video ids listed in a YAML targets file.
func LoadTargetsFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var f TargetsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}
	ids := make([]string, 0, len(f.Videos))
	for _, v := range f.Videos {
		if id := strings.TrimSpace(v.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
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
