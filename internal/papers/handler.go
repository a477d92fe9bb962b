package papers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ShemaiahYaba/academic-repo/internal/authstate"
	"github.com/ShemaiahYaba/academic-repo/internal/docstore"
	"github.com/ShemaiahYaba/academic-repo/internal/platform/httpx"
)

const maxUploadSize = 32 << 20 // 32 MiB

// Handler wires the papers HTTP surface.
type Handler struct {
	logger    *slog.Logger
	repo      Repository
	uploads   docstore.Uploader
	engine    *authstate.Engine
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo Repository, uploads docstore.Uploader, engine *authstate.Engine) *Handler {
	return &Handler{
		logger:    logger,
		repo:      repo,
		uploads:   uploads,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers papers routes. Reads are public; publishing goes
// through the provided guard middleware.
func (h *Handler) MountRoutes(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	if protect != nil {
		r.With(protect).Post("/", h.handleCreate)
	} else {
		r.Post("/", h.handleCreate)
	}
}

type createPaperForm struct {
	Title    string   `json:"title" validate:"required,min=3,max=300"`
	Abstract string   `json:"abstract" validate:"max=5000"`
	Authors  []string `json:"authors" validate:"required,min=1,dive,required"`
	Keywords []string `json:"keywords" validate:"dive,required"`
	FileURL  string   `json:"file_url" validate:"omitempty,url"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list papers", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"papers": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "paper id must be numeric")
		return
	}
	paper, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "paper does not exist")
			return
		}
		h.logger.Error("get paper", slog.Int64("id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, paper)
}

// handleCreate accepts either a JSON body with an already-uploaded file URL
// or a multipart form carrying the document, which is pushed to the
// document store keyed by the uploader's email.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	state := h.engine.Snapshot()
	if state.Profile == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Not Authenticated", "sign in to publish")
		return
	}

	var form createPaperForm
	fileURL := ""
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		uploaded, err := h.acceptUpload(w, r, state.Profile.Email, &form)
		if err != nil {
			return // response already written
		}
		fileURL = uploaded
	} else {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
			return
		}
		fileURL = form.FileURL
	}

	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Error", err.Error())
		return
	}

	paper, err := h.repo.Create(r.Context(), Paper{
		Title:      form.Title,
		Abstract:   form.Abstract,
		Authors:    form.Authors,
		Keywords:   form.Keywords,
		FileURL:    fileURL,
		UploadedBy: state.Profile.ID,
	})
	if err != nil {
		h.logger.Error("create paper", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, paper)
}

func (h *Handler) acceptUpload(w http.ResponseWriter, r *http.Request, email string, form *createPaperForm) (string, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed multipart form")
		return "", err
	}
	form.Title = r.FormValue("title")
	form.Abstract = r.FormValue("abstract")
	form.Authors = splitList(r.FormValue("authors"))
	form.Keywords = splitList(r.FormValue("keywords"))

	file, header, err := r.FormFile("document")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "document file is required")
		return "", err
	}
	defer func() { _ = file.Close() }()

	url, err := h.uploads.Upload(r.Context(), email, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Error("upload document", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Upload Failed", "document store rejected the upload")
		return "", err
	}
	return url, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
