package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/albapepper/viewcount-tracker/internal/api/handler"
	"github.com/albapepper/viewcount-tracker/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
// metrics serves /metrics; nil leaves the route out.
func NewRouter(h *handler.Handler, metrics http.Handler, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "X-Request-Id", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/store", h.HealthCheckStore)
	})

	// Prometheus
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitEnabled {
			r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		// Runs
		r.Post("/runs", h.TriggerRun)

		// Videos
		r.Get("/videos", h.ListVideos)
		r.Get("/videos/{docID}/history", h.GetVideoHistory)
		r.Get("/videos/{docID}/news", h.GetVideoNews)
	})

	return r
}
