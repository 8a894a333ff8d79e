package account

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

// StatsSource summarises an owner's inventory.
type StatsSource interface {
	Stats(ctx context.Context, ownerID string) (inventory.Stats, error)
}

// Profile is the authenticated user's summary.
type Profile struct {
	LastActive     string          `json:"lastActive"`
	InventoryStats inventory.Stats `json:"inventoryStats"`
}

// UserInfo is returned by GET /api/auth/user.
type UserInfo struct {
	UserID  string  `json:"userId"`
	Profile Profile `json:"profile"`
}

// Handler serves the user summary endpoint.
type Handler struct {
	stats      StatsSource
	logger     *slog.Logger
	now        func() time.Time
	retryAfter time.Duration
}

// NewHandler constructs Handler.
func NewHandler(stats StatsSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{stats: stats, logger: logger, now: time.Now, retryAfter: time.Second}
}

// MountRoutes registers the user route behind Require.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/user", h.handleUser)
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserFromContext(r.Context())
	stats, err := h.stats.Stats(r.Context(), userID)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrUnauthorized):
		httpx.Fail(w, http.StatusUnauthorized, httpx.KindUnauthorized, "Unauthorized", nil)
		return
	case errors.Is(err, inventory.ErrStorageTimeout):
		h.logger.Warn("storage timeout", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Unavailable(w, h.retryAfter, "Storage temporarily unavailable, retry shortly")
		return
	default:
		h.logger.Error("user stats failed", slog.String("user_id", userID), slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, httpx.KindInternal, "Internal error", nil)
		return
	}
	httpx.OK(w, http.StatusOK, UserInfo{
		UserID: userID,
		Profile: Profile{
			LastActive:     h.now().UTC().Format(time.RFC3339),
			InventoryStats: stats,
		},
	}, "User info fetched successfully")
}
