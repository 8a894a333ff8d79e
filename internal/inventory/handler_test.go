package inventory

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Fields  map[string]string `json:"fields"`
	Message string            `json:"message"`
}

func newTestRouter(f *fixture, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(shared.ContextWithUser(req.Context(), userID))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/inventory", NewHandler(nil, f.svc, 2*time.Second).MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHandlerCreateAndAdjust(t *testing.T) {
	f := newFixture(ServiceConfig{})
	h := newTestRouter(f, owner)

	rec, env := doJSON(t, h, http.MethodPost, "/api/inventory", map[string]any{
		"name": "Mozzarella", "category": "Cheeses", "quantity": 10, "minStock": 2,
		"unit": "kg", "price": 8.5, "supplier": "Dairy Co",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)
	var item Item
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.InDelta(t, 10, item.Quantity, 0.0001)

	rec, env = doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust",
		map[string]any{"adjustment": -7, "reason": "Production Usage"},
		map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res AdjustResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.InDelta(t, 3, res.Item.Quantity, 0.0001)

	rec, env = doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust",
		map[string]any{"adjustment": -7, "reason": "Production Usage"},
		map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.True(t, res.Replayed)

	rec, env = doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust",
		map[string]any{"adjustment": -5, "reason": "Production Usage"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, httpx.KindNegativeResult, env.Kind)

	rec, env = doJSON(t, h, http.MethodGet, "/api/inventory/"+item.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail ItemDetail
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	require.InDelta(t, 3, detail.Quantity, 0.0001)
	require.Len(t, detail.Adjustments, 2)

	rec, env = doJSON(t, h, http.MethodGet, "/api/inventory/"+item.ID+"/adjustments?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []Adjustment
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
}

func TestHandlerValidationErrors(t *testing.T) {
	f := newFixture(ServiceConfig{})
	h := newTestRouter(f, owner)
	item := f.create(t, "Basil", 1)

	rec, env := doJSON(t, h, http.MethodPost, "/api/inventory", map[string]any{"name": "", "quantity": -1}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, httpx.KindValidation, env.Kind)
	require.Contains(t, env.Fields, "name")
	require.Contains(t, env.Fields, "quantity")

	rec, env = doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust", map[string]any{"adjustment": 0, "reason": "Other"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, httpx.KindInvalidAdjustment, env.Kind)

	rec, env = doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust",
		map[string]any{"adjustment": 1, "reason": strings.Repeat("x", DefaultMaxReasonLength+1)}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, httpx.KindInvalidReason, env.Kind)

	rec, env = doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust", map[string]any{"adjustment": 200000}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Fields, "adjustment")
	require.Contains(t, env.Fields, "reason")

	rec, env = doJSON(t, h, http.MethodPut, "/api/inventory/"+item.ID, map[string]any{"quantity": 99}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Fields, "quantity")

	rec, _ = doJSON(t, h, http.MethodGet, "/api/inventory/"+item.ID+"/adjustments?limit=0", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/inventory", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestHandlerNotFoundAndUnauthorized(t *testing.T) {
	f := newFixture(ServiceConfig{})
	item := f.create(t, "Ham", 1)

	rec, env := doJSON(t, newTestRouter(f, "user_2"), http.MethodGet, "/api/inventory/"+item.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, httpx.KindNotFound, env.Kind)

	rec, env = doJSON(t, newTestRouter(f, ""), http.MethodGet, "/api/inventory", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.KindUnauthorized, env.Kind)
}

func TestHandlerPartialFailureAndTimeout(t *testing.T) {
	f := newFixture(ServiceConfig{StorageTimeout: 10 * time.Millisecond})
	h := newTestRouter(f, owner)
	item := f.create(t, "Onion", 1)

	f.adjustments.appendFailures = 2
	rec, env := doJSON(t, h, http.MethodPost, "/api/inventory/"+item.ID+"/adjust", map[string]any{"adjustment": 1, "reason": "Delivery Received"}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, httpx.KindPartialFailure, env.Kind)
	require.NotContains(t, env.Error, "injected")

	f.items.block = true
	rec, env = doJSON(t, h, http.MethodGet, "/api/inventory/"+item.ID, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Equal(t, httpx.KindUnavailable, env.Kind)
}

func TestHandlerListAndDelete(t *testing.T) {
	f := newFixture(ServiceConfig{})
	h := newTestRouter(f, owner)
	low := f.create(t, "Gouda", 1)
	f.create(t, "Ricotta", 40)

	rec, env := doJSON(t, h, http.MethodGet, "/api/inventory?lowStock=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []Item
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	require.Equal(t, low.ID, items[0].ID)

	rec, env = doJSON(t, h, http.MethodGet, "/api/inventory/meta", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog Catalog
	require.NoError(t, json.Unmarshal(env.Data, &catalog))
	require.Contains(t, catalog.Categories, "Cheeses")

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/inventory/"+low.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, h, http.MethodDelete, "/api/inventory/"+low.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
