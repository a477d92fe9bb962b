package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ShemaiahYaba/academic-repo/internal/authstate"
	"github.com/ShemaiahYaba/academic-repo/internal/guard"
	"github.com/ShemaiahYaba/academic-repo/internal/observability"
	"github.com/ShemaiahYaba/academic-repo/internal/papers"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
	"github.com/ShemaiahYaba/academic-repo/internal/rbac"
	"github.com/ShemaiahYaba/academic-repo/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *authstate.Handler
	ProfileHandler *authstate.ProfileHandler
	PapersHandler  *papers.Handler
	JobsHandler    *jobs.Handler
	Guard          guard.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/auth", func(api chi.Router) {
		api.Use(AuthRateLimiter(params.Config))
		params.AuthHandler.MountRoutes(api)
	})

	r.Route("/api/profile", func(api chi.Router) {
		api.Use(params.Guard.RequireAuth())
		params.ProfileHandler.MountRoutes(api)
	})

	r.Route("/api/papers", func(api chi.Router) {
		protect := params.Guard.Protect(guard.Requirement{Permission: rbac.PermUploadJournal})
		params.PapersHandler.MountRoutes(api, protect)
	})

	if params.JobsHandler != nil {
		r.Route("/api/jobs", func(api chi.Router) {
			api.Use(params.Guard.Protect(guard.Requirement{Role: profiles.RoleAdmin}))
			params.JobsHandler.MountRoutes(api)
		})
	}

	return r
}
