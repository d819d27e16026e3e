package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/metrics"
	"github.com/lalithlochan/autopilot/internal/redis"
)

// RouterConfig carries the edge concerns of the HTTP surface.
type RouterConfig struct {
	CronSecret string
	// Limiter may be nil to disable per-tenant API limits.
	Limiter   *redis.RateLimiter
	RateLimit int
	// Health reports dependency health; nil means always healthy.
	Health func(context.Context) error
}

// NewRouter mounts the API, cron, health and metrics routes.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimit, logger, TenantKeyFunc))

			r.Post("/outbox", h.Enqueue)
			r.Get("/outbox", h.ListItems)
			r.Get("/outbox/{id}", h.GetItem)
			r.Post("/outbox/{id}/retry", h.RetryItem)

			r.Route("/tenants/{tenantID}", func(r chi.Router) {
				r.Get("/schedule", h.GetSchedule)
				r.Put("/schedule", h.PutSchedule)
				r.Post("/runs", h.RunNow)
				r.Get("/runs", h.ListRuns)
			})
		})

		r.Route("/cron", func(r chi.Router) {
			// Per-IP limit ahead of auth so secret guessing is throttled too.
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimit, logger, IPKeyFunc))
			r.Use(CronAuth(cfg.CronSecret, logger))
			r.Post("/outbox", h.CronOutbox)
			r.Post("/automation", h.CronAutomation)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("UNAVAILABLE"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
