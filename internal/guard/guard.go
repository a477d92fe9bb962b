// Package guard gates access to protected routes based on the reconciled
// authentication state.
package guard

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ShemaiahYaba/academic-repo/internal/authstate"
	"github.com/ShemaiahYaba/academic-repo/internal/platform/httpx"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
	"github.com/ShemaiahYaba/academic-repo/internal/rbac"
)

// RedirectParam carries the originally-requested location through the
// sign-in redirect so the client can return after authenticating.
const RedirectParam = "redirect_to"

// StateSource exposes the current reconciled authentication state. The
// engine satisfies it.
type StateSource interface {
	Snapshot() authstate.State
}

// Middleware builds route-guard middleware over the engine's state.
type Middleware struct {
	Engine    StateSource
	Logger    *slog.Logger
	LoginPath string
}

// Requirement narrows a guarded route to a role and/or a permission.
// Zero-valued fields are not enforced.
type Requirement struct {
	Role       profiles.Role
	Permission string
}

// Protect evaluates the guard contract for every request. Exactly one of
// {loading, redirect, access-denied, content} is produced, checked in that
// fixed order:
//
//  1. engine not initialized or mid-resolution: a retryable placeholder,
//     never a redirect (avoids bouncing users before state settles);
//  2. not authenticated: redirect to the sign-in path, preserving the
//     requested location;
//  3. required role or permission missing: access denied;
//  4. otherwise: the guarded content.
func (m Middleware) Protect(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := m.Engine.Snapshot()

			if !state.IsInitialized || state.IsLoading {
				w.Header().Set("Retry-After", "1")
				httpx.Problem(w, http.StatusServiceUnavailable, "Initializing", "authentication state is resolving")
				return
			}

			if !state.IsAuthenticated {
				target := m.loginPath() + "?" + RedirectParam + "=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}

			if req.Role != "" && !rbac.HasRole(state.Profile, req.Role) {
				m.denied(w, r, "role", string(req.Role))
				return
			}
			if req.Permission != "" && !rbac.HasPermission(state.Profile, req.Permission) {
				m.denied(w, r, "permission", req.Permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth guards a route with no role or permission constraint.
func (m Middleware) RequireAuth() func(http.Handler) http.Handler {
	return m.Protect(Requirement{})
}

func (m Middleware) denied(w http.ResponseWriter, r *http.Request, kind, value string) {
	if m.Logger != nil {
		m.Logger.Warn("access denied",
			slog.String("path", r.URL.Path),
			slog.String(kind, value),
		)
	}
	httpx.Problem(w, http.StatusForbidden, "Access Denied", "you do not have access to this resource")
}

func (m Middleware) loginPath() string {
	if m.LoginPath == "" {
		return "/login"
	}
	return m.LoginPath
}
