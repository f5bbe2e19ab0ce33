// Package handler builds the companion daemon's HTTP surface.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siraat/companion/internal/config"
	appmiddleware "github.com/siraat/companion/internal/middleware"
	"github.com/siraat/companion/pkg/health"
	pkgmiddleware "github.com/siraat/companion/pkg/middleware"
)

// Deps are the components the router serves.
type Deps struct {
	Health  *health.Handler
	Session *SessionHandler
	// Proxy receives /api/* with the /api prefix stripped.
	Proxy http.Handler
}

// NewRouter creates a chi router with global middleware, health and metrics
// endpoints, the session API and the backend proxy. Background work started
// by middleware stops when ctx is done.
func NewRouter(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	cors := pkgmiddleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.AllowCredentials = true
	r.Use(pkgmiddleware.CORS(cors))
	r.Use(appmiddleware.RateLimit(ctx, appmiddleware.PerSecond(cfg.RateLimitRPS, cfg.RateLimitBurst), logger))
	r.Use(pkgmiddleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.HTTPTimeout + 5*time.Second))
	r.Use(pkgmiddleware.RequestLogging(logger))
	r.Use(pkgmiddleware.PrometheusMetrics(config.ServiceName))
	r.Use(pkgmiddleware.Tracing(config.ServiceName))
	r.Use(pkgmiddleware.RequestLogger(logger))

	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())

	r.With(pkgmiddleware.IPAllowlist(cfg.MetricsAllowedCIDRs, logger)).
		Handle("/metrics", promhttp.Handler())

	pkgmiddleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	r.Route("/session", func(r chi.Router) {
		r.Use(pkgmiddleware.NoStore)
		r.Get("/", deps.Session.Status)
		login := http.Handler(http.HandlerFunc(deps.Session.Login))
		if cfg.LoginPerMinute > 0 {
			login = appmiddleware.RateLimit(ctx, appmiddleware.PerMinute(cfg.LoginPerMinute), logger)(login)
		}
		r.Method(http.MethodPost, "/login", login)
		r.Post("/logout", deps.Session.Logout)
	})

	api := http.StripPrefix("/api", deps.Proxy)
	r.Handle("/api", api)
	r.Handle("/api/*", api)

	return r
}
