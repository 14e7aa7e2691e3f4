// Package handler provides HTTP handlers for all API endpoints.
// Handlers read through the repositories directly; there is no service
// layer beyond the view-count use case.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/api/respond"
	"github.com/albapepper/viewcount-tracker/internal/cache"
	"github.com/albapepper/viewcount-tracker/internal/config"
	"github.com/albapepper/viewcount-tracker/internal/news"
	"github.com/albapepper/viewcount-tracker/internal/video"
	"github.com/albapepper/viewcount-tracker/internal/viewcount"
)

// Deps are the handler dependencies.
type Deps struct {
	Videos  *video.Repository
	News    *news.Repository
	Runner  viewcount.Runner
	Targets func() ([]string, error)
	Health  func(ctx context.Context) error
	Stats   func(ctx context.Context) (map[string]int64, error)
	Cache   *cache.Cache
	Config  *config.Config
	Logger  *slog.Logger
	Version string
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	videos  *video.Repository
	news    *news.Repository
	runner  viewcount.Runner
	targets func() ([]string, error)
	health  func(ctx context.Context) error
	stats   func(ctx context.Context) (map[string]int64, error)
	cache   *cache.Cache
	cfg     *config.Config
	logger  *slog.Logger
	version string
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	c := d.Cache
	if c == nil {
		c = cache.New(false)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		videos:  d.Videos,
		news:    d.News,
		runner:  d.Runner,
		targets: d.Targets,
		health:  d.Health,
		stats:   d.Stats,
		cache:   c,
		cfg:     d.Config,
		logger:  logger,
		version: d.Version,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status, and store driver.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	driver := ""
	if h.cfg != nil {
		driver = h.cfg.StoreDriver
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "View Count Tracker API",
		"version": h.version,
		"status":  "running",
		"docs":    "/docs",
		"store":   driver,
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies document store connectivity.
// @Summary Store health check
// @Description Verifies the document store backend is reachable.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	if h.health == nil || h.health(r.Context()) != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"store":     "disconnected",
			"error":     "Store connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	body := map[string]any{
		"status":    "healthy",
		"store":     "connected",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		counts, err := h.stats(r.Context())
		if err != nil {
			h.logger.Warn("Collection stats unavailable", "error", err)
		} else if counts != nil {
			body["collections"] = counts
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, body)
}
