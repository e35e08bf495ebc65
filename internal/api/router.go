package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/voicewidget/internal/config"
	"github.com/ashureev/voicewidget/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      config.RateLimitConfig
	// Dashboard serves every path not claimed by an API route. Optional.
	Dashboard http.Handler
}

// NewRouter mounts the host routes behind the standard middleware stack.
func NewRouter(h *Handler, health *HealthHandler, stream *Stream, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	health.RegisterHealth(r)

	var limit func(http.Handler) http.Handler
	if cfg.RateLimit.RequestsPerWindow > 0 && cfg.RateLimit.WindowDuration > 0 {
		limit = middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimit.RequestsPerWindow,
			WindowSize:   cfg.RateLimit.WindowDuration,
		})
	}
	h.RegisterRoutes(r, limit)
	stream.RegisterRoutes(r)

	if cfg.Dashboard != nil {
		r.Handle("/*", cfg.Dashboard)
	}
	return r
}
