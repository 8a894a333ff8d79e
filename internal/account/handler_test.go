package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

type fakeStats struct {
	stats inventory.Stats
	err   error
	asked []string
}

func (f *fakeStats) Stats(_ context.Context, ownerID string) (inventory.Stats, error) {
	f.asked = append(f.asked, ownerID)
	if ownerID == "" {
		return inventory.Stats{}, shared.ErrUnauthorized
	}
	return f.stats, f.err
}

func serveUser(t *testing.T, h *Handler, userID string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api/auth", h.MountRoutes)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	if userID != "" {
		req = req.WithContext(shared.ContextWithUser(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHandleUserReturnsInventoryStats(t *testing.T) {
	stats := &fakeStats{stats: inventory.Stats{TotalItems: 3, LowStockItems: 1, OutOfStockItems: 1, TotalValue: 42.5}}
	h := NewHandler(stats, nil)
	h.now = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }

	rec, env := serveUser(t, h, "user_1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.Equal(t, "User info fetched successfully", env.Message)
	require.Equal(t, []string{"user_1"}, stats.asked)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var info UserInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	require.Equal(t, "user_1", info.UserID)
	require.Equal(t, "2026-10-17T09:00:00Z", info.Profile.LastActive)
	require.Equal(t, stats.stats, info.Profile.InventoryStats)
	require.Contains(t, string(raw), `"outOfStockItems":1`)
}

func TestHandleUserErrors(t *testing.T) {
	rec, env := serveUser(t, NewHandler(&fakeStats{}, nil), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.KindUnauthorized, env.Kind)

	timeout := &fakeStats{err: fmt.Errorf("%w: deadline", inventory.ErrStorageTimeout)}
	rec, env = serveUser(t, NewHandler(timeout, nil), "user_1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, httpx.KindUnavailable, env.Kind)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, env = serveUser(t, NewHandler(&fakeStats{err: context.Canceled}, nil), "user_1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, httpx.KindInternal, env.Kind)
}
