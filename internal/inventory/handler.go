package inventory

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

// MaxAdjustment bounds the magnitude of a single adjustment request.
const MaxAdjustment = 100000

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	retryAfter time.Duration
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, retryAfter time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return &Handler{logger: logger, service: service, retryAfter: retryAfter}
}

// MountRoutes registers inventory routes. Callers mount it behind authentication.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/meta", h.handleMeta)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/adjust", h.handleAdjust)
		r.Get("/adjustments", h.handleHistory)
	})
}

type adjustRequest struct {
	Adjustment *float64 `json:"adjustment"`
	Reason     string   `json:"reason"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Category: q.Get("category"), Search: q.Get("search")}
	if raw := q.Get("lowStock"); raw != "" {
		low, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, &ValidationError{Fields: map[string]string{"lowStock": "must be true or false"}})
			return
		}
		filter.LowStock = low
	}
	items, err := h.service.ListItems(r.Context(), shared.UserFromContext(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, items, "")
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), shared.UserFromContext(r.Context()), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusCreated, item, "Item created successfully")
}

func (h *Handler) handleMeta(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, http.StatusOK, DefaultCatalog(), "")
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetItem(r.Context(), chi.URLParam(r, "id"), shared.UserFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, detail, "")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch ItemPatch
	if err := httpx.DecodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), chi.URLParam(r, "id"), shared.UserFromContext(r.Context()), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, item, "Item updated successfully")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteItem(r.Context(), chi.URLParam(r, "id"), shared.UserFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil, "Item deleted successfully")
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fields := map[string]string{}
	if req.Adjustment == nil {
		fields["adjustment"] = "is required"
	} else if math.Abs(*req.Adjustment) > MaxAdjustment {
		fields["adjustment"] = "must be at most " + strconv.Itoa(MaxAdjustment) + " in magnitude"
	}
	if strings.TrimSpace(req.Reason) == "" {
		fields["reason"] = "is required"
	}
	if len(fields) > 0 {
		h.writeError(w, r, &ValidationError{Fields: fields})
		return
	}
	res, err := h.service.AdjustQuantity(r.Context(), AdjustInput{
		ItemID:         chi.URLParam(r, "id"),
		OwnerID:        shared.UserFromContext(r.Context()),
		Delta:          *req.Adjustment,
		Reason:         req.Reason,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	message := "Quantity adjusted successfully"
	if res.Replayed {
		message = "Adjustment already applied"
	}
	httpx.OK(w, http.StatusOK, res, message)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.writeError(w, r, &ValidationError{Fields: map[string]string{"limit": "must be between 1 and 100"}})
			return
		}
		limit = n
	}
	history, err := h.service.History(r.Context(), chi.URLParam(r, "id"), shared.UserFromContext(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, history, "")
}

// writeError maps service errors onto the envelope. Storage details never
// reach the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	var partial *PartialFailure
	switch {
	case errors.As(err, &verr):
		httpx.Fail(w, http.StatusBadRequest, httpx.KindValidation, "Validation failed", verr.Fields)
	case errors.Is(err, httpx.ErrBadBody):
		httpx.Fail(w, http.StatusBadRequest, httpx.KindValidation, "Invalid request body", nil)
	case errors.Is(err, ErrInvalidAdjustment):
		httpx.Fail(w, http.StatusBadRequest, httpx.KindInvalidAdjustment, "Adjustment must be a non-zero number", nil)
	case errors.Is(err, ErrInvalidReason):
		httpx.Fail(w, http.StatusBadRequest, httpx.KindInvalidReason, "Reason is required and must not exceed the allowed length", nil)
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Fail(w, http.StatusUnauthorized, httpx.KindUnauthorized, "Unauthorized", nil)
	case errors.Is(err, ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, httpx.KindNotFound, "Item not found", nil)
	case errors.Is(err, ErrIdempotencyConflict):
		httpx.Fail(w, http.StatusConflict, httpx.KindConflict, "Idempotency key already used", nil)
	case errors.Is(err, ErrNegativeResult):
		httpx.Fail(w, http.StatusUnprocessableEntity, httpx.KindNegativeResult, "Quantity cannot be negative", nil)
	case errors.As(err, &partial):
		h.logger.Error("partial failure", slog.String("path", r.URL.Path), slog.String("item_id", partial.ItemID), slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, httpx.KindPartialFailure, "The change was saved but its history entry is pending repair", nil)
	case errors.Is(err, ErrStorageTimeout):
		h.logger.Warn("storage timeout", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Unavailable(w, h.retryAfter, "Storage temporarily unavailable, retry shortly")
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, httpx.KindInternal, "Internal error", nil)
	}
}
