package api

import (
	"log/slog"
	"net/http"
	"time"

	"secret.vault/config"
	"secret.vault/internal/metrics"
	"secret.vault/internal/secrets"
	"secret.vault/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Dependencies struct {
	Secrets *secrets.Service
	Store   store.Store
	Metrics *metrics.Collector
	Log     *slog.Logger
}

func SetupRouter(deps Dependencies, cfg *config.Config) *chi.Mux {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	h := NewHandler(deps.Secrets, deps.Store, m, log)

	r := chi.NewRouter()

	// Global middleware
	if cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(Metrics(m))
	r.Use(SecurityHeaders)

	r.Use(CORS(CORSConfig{
		AllowedOrigins: cfg.Origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}))

	r.Get("/health", h.Health)
	r.Get("/readyz", h.Ready)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(JSONOnly)

		unlock := func(next http.Handler) http.Handler { return next }
		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter("api", cfg.RateLimit.RequestsPerMin, time.Minute, m)
			unlockLimiter := NewRateLimiter("unlock", cfg.RateLimit.UnlockPerMin, time.Minute, m)

			r.Use(apiLimiter.Middleware)
			unlock = unlockLimiter.Middleware
		}

		r.Route("/secret", func(r chi.Router) {
			r.Post("/", h.CreateSecret)
			r.Get("/{id}", h.GetMetadata)
			r.With(unlock).Post("/{id}/unlock", h.UnlockSecret)
		})
		r.Get("/generator", h.GeneratePassword)
	})

	return r
}
