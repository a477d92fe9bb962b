package authstate

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ShemaiahYaba/academic-repo/internal/apperr"
	"github.com/ShemaiahYaba/academic-repo/internal/credentials"
	"github.com/ShemaiahYaba/academic-repo/internal/platform/httpx"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
	"github.com/ShemaiahYaba/academic-repo/internal/rbac"
)

// Handler exposes the auth core over HTTP. It is a thin consumer of the
// engine contract: every state mutation goes through engine operations.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{
		logger:    logger,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signup", h.handleSignUp)
	r.Post("/signin", h.handleSignIn)
	r.Post("/signout", h.handleSignOut)
	r.Post("/reset-password", h.handleResetPassword)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/session", h.handleSession)
}

type credentialsForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type resetForm struct {
	Email string `json:"email" validate:"required,email"`
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type sessionResponse struct {
	User            *userResponse    `json:"user"`
	Profile         *profileResponse `json:"profile"`
	IsAuthenticated bool             `json:"is_authenticated"`
	IsLoading       bool             `json:"is_loading"`
	IsInitialized   bool             `json:"is_initialized"`
	Permissions     []string         `json:"permissions,omitempty"`
}

type profileResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role"`
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var form credentialsForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	user, err := h.engine.SignUp(r.Context(), form.Email, form.Password)
	if err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var form credentialsForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	user, err := h.engine.SignIn(r.Context(), form.Email, form.Password)
	if err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	// Local state is already cleared when a remote revocation error comes
	// back; the client is signed out either way.
	if err := h.engine.SignOut(r.Context()); err != nil {
		h.logger.Warn("remote sign-out failed", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var form resetForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	if err := h.engine.ResetPassword(r.Context(), form.Email); err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "reset_email_queued"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RefreshSession(r.Context()); err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	state := h.engine.Snapshot()
	resp := sessionResponse{
		IsAuthenticated: state.IsAuthenticated,
		IsLoading:       state.IsLoading,
		IsInitialized:   state.IsInitialized,
	}
	if state.User != nil {
		resp.User = toUserResponse(state.User)
	}
	if state.Profile != nil {
		resp.Profile = toProfileResponse(state.Profile)
		resp.Permissions = rbac.PermissionsFor(state.Profile.Role)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// ProfileHandler exposes the signed-in user's profile.
type ProfileHandler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(logger *slog.Logger, engine *Engine) *ProfileHandler {
	return &ProfileHandler{
		logger:    logger,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers profile routes. Callers wrap these with the route
// guard; the handlers still re-check authentication for defense in depth.
func (h *ProfileHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleGet)
	r.Patch("/", h.handleUpdate)
}

type profilePatchForm struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=40"`
	FirstName *string `json:"first_name" validate:"omitempty,max=80"`
	LastName  *string `json:"last_name" validate:"omitempty,max=80"`
	FullName  *string `json:"full_name" validate:"omitempty,max=160"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

func (h *ProfileHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	state := h.engine.Snapshot()
	if state.Profile == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Not Authenticated", "sign in to view your profile")
		return
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(state.Profile))
}

func (h *ProfileHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var form profilePatchForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		appErr := apperr.Normalize(h.logger, err)
		httpx.Problem(w, http.StatusBadRequest, appErr.Title, appErr.Message)
		return
	}

	patch := profiles.Patch{
		Username:  form.Username,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		FullName:  form.FullName,
		AvatarURL: form.AvatarURL,
	}
	updated, err := h.engine.UpdateProfile(r.Context(), patch)
	if err != nil {
		h.respondAppError(w, apperr.Normalize(h.logger, err))
		return
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(updated))
}

func (h *Handler) respondAppError(w http.ResponseWriter, appErr *apperr.AppError) {
	respondAppError(w, appErr)
}

func (h *ProfileHandler) respondAppError(w http.ResponseWriter, appErr *apperr.AppError) {
	respondAppError(w, appErr)
}

func respondAppError(w http.ResponseWriter, appErr *apperr.AppError) {
	if appErr == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.Problem(w, statusFor(appErr), appErr.Title, appErr.Message)
}

func statusFor(appErr *apperr.AppError) int {
	switch appErr.Category {
	case apperr.CategoryAuthentication:
		return http.StatusUnauthorized
	case apperr.CategoryValidation:
		return http.StatusBadRequest
	case apperr.CategoryPermission:
		return http.StatusForbidden
	case apperr.CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toUserResponse(user *credentials.User) *userResponse {
	return &userResponse{
		ID:            user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
	}
}

func toProfileResponse(profile *profiles.Profile) *profileResponse {
	return &profileResponse{
		ID:        profile.ID,
		Email:     profile.Email,
		Username:  profile.Username,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
		Role:      string(profile.Role),
	}
}
