package preferences

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

var editable = map[string]bool{"theme": true, "notifications": true, "inventory": true}

// Handler exposes preference endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers the preference routes behind authentication.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/preferences", h.handleGet)
	r.Put("/preferences", h.handleUpdate)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.service.Get(r.Context(), shared.UserFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, prefs, "Preferences fetched successfully")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := httpx.DecodeJSON(w, r, &raw); err != nil {
		h.writeError(w, r, err)
		return
	}
	invalid := map[string]string{}
	for field := range raw {
		if !editable[field] {
			invalid[field] = "is not allowed"
		}
	}
	if len(invalid) > 0 {
		h.writeError(w, r, &ValidationError{Fields: invalid})
		return
	}
	var update Update
	if err := remarshal(raw, &update); err != nil {
		h.writeError(w, r, httpx.ErrBadBody)
		return
	}
	prefs, err := h.service.Update(r.Context(), shared.UserFromContext(r.Context()), update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, prefs, "Preferences updated successfully")
}

func remarshal(raw map[string]json.RawMessage, target any) error {
	body, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.Fail(w, http.StatusBadRequest, httpx.KindValidation, "Validation failed", verr.Fields)
	case errors.Is(err, httpx.ErrBadBody):
		httpx.Fail(w, http.StatusBadRequest, httpx.KindValidation, "Invalid request body", nil)
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Fail(w, http.StatusUnauthorized, httpx.KindUnauthorized, "Unauthorized", nil)
	default:
		h.logger.Error("preferences request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, httpx.KindInternal, "Internal error", nil)
	}
}
