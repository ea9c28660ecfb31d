package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the complete HTTP route tree.
type RouterConfig struct {
	// Handlers
	ExtractionHandler *handlers.ExtractionHandler
	HealthHandler     *handlers.HealthHandler

	// Middleware
	LoggingMiddleware   *middleware.LoggingMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware

	// Infrastructure
	Logger           logging.Logger
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string
}

// NewRouter constructs the complete HTTP route tree from the given configuration.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware (applied to every request) ---
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if cfg.LoggingMiddleware != nil {
		r.Use(cfg.LoggingMiddleware.Handler)
	}
	r.Use(chimw.Recoverer)
	if cfg.RateLimitMiddleware != nil {
		r.Use(cfg.RateLimitMiddleware.Handler)
	}

	// --- Public health endpoints ---
	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/healthz/detail", cfg.HealthHandler.Detailed)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}

	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsCollector.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		registerExtractionRoutes(api, cfg.ExtractionHandler)
	})

	return r
}

func registerExtractionRoutes(r chi.Router, h *handlers.ExtractionHandler) {
	if h == nil {
		return
	}
	r.Post("/extract", h.Extract)
	r.Get("/mode", h.Mode)
	r.Get("/patterns", h.Patterns)
}

//Personal.AI order the ending
