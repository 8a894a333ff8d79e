package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-pantry/pizza-pantry/internal/account"
	"github.com/pizza-pantry/pizza-pantry/internal/auth"
	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/observability"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/ratelimit"
	"github.com/pizza-pantry/pizza-pantry/internal/preferences"
	"github.com/pizza-pantry/pizza-pantry/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Auth               *auth.Middleware
	SessionHandler     *auth.Handler
	UserHandler        *account.Handler
	WebhookHandler     *auth.WebhookHandler
	InventoryHandler   *inventory.Handler
	PreferencesHandler *preferences.Handler
	JobHandler         *jobs.Handler
	UserLimiter        *ratelimit.Limiter
	Database           Pinger
	Cache              Pinger
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusNotFound, httpx.KindNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, httpx.KindValidation, "Method not allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/api/health", HealthHandler(params.Database, params.Cache, logger))

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.WebhookHandler != nil {
		r.Route("/api/webhooks", params.WebhookHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		if params.Auth != nil {
			r.Use(params.Auth.Require)
		}
		if params.UserLimiter != nil {
			r.Use(params.UserLimiter.Mutations)
		}
		r.Route("/api/auth", func(r chi.Router) {
			if params.SessionHandler != nil {
				params.SessionHandler.MountRoutes(r)
			}
			if params.UserHandler != nil {
				params.UserHandler.MountRoutes(r)
			}
			if params.PreferencesHandler != nil {
				params.PreferencesHandler.MountRoutes(r)
			}
		})
		if params.InventoryHandler != nil {
			r.Route("/api/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/api/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
