package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShemaiahYaba/academic-repo/internal/authstate"
	"github.com/ShemaiahYaba/academic-repo/internal/guard"
	"github.com/ShemaiahYaba/academic-repo/internal/papers"
	"github.com/ShemaiahYaba/academic-repo/jobs"
)

func newTestRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := authstate.New(authstate.Config{Logger: logger})
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{},
		AuthHandler:    authstate.NewHandler(logger, engine),
		ProfileHandler: authstate.NewProfileHandler(logger, engine),
		PapersHandler:  papers.NewHandler(logger, nil, nil, engine),
		JobsHandler:    jobs.NewHandler(nil, logger),
		Guard:          guard.Middleware{Engine: engine, Logger: logger},
	})
}

func TestHealthzRoute(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// The jobs surface is mounted behind the route guard; before the engine has
// resolved its first state the guard answers with a retryable placeholder,
// which also proves the route exists.
func TestJobsRouteMountedBehindGuard(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	router := newTestRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
