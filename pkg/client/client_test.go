package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cache *QueryCache) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: StaticToken("tok"), Cache: cache, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestListItemsSendsTokenAndFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/inventory", r.URL.Path)
		assert.Equal(t, "Cheese", r.URL.Query().Get("category"))
		assert.Equal(t, "true", r.URL.Query().Get("lowStock"))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    []map[string]any{{"id": "i1", "name": "Mozzarella", "quantity": 3}},
		})
	}, nil)

	items, err := c.ListItems(context.Background(), ListFilter{Category: "Cheese", LowStock: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Mozzarella", items[0].Name)
}

func TestAdjustQuantityErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		writeEnvelope(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"error":   "Quantity cannot be negative",
			"kind":    "negative_result",
		})
	}, nil)

	_, err := c.AdjustQuantity(context.Background(), "i1", -50, "Waste/Spoilage", "key-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	require.Equal(t, "negative_result", apiErr.Kind)
	require.False(t, apiErr.Retryable())
}

func TestRetryAfterIsParsed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		writeEnvelope(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "Storage temporarily unavailable", "kind": "unavailable"})
	}, nil)

	_, err := c.GetItem(context.Background(), "i1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.Retryable())
	require.Equal(t, 2*time.Second, apiErr.RetryAfter)
}

func TestQueryCacheInvalidatedByMutation(t *testing.T) {
	var gets atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			gets.Add(1)
			writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": "i1", "quantity": 10, "adjustments": []any{}}})
		case http.MethodPost:
			writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"item": map[string]any{"id": "i1", "quantity": 12}, "replayed": false}})
		}
	}, NewQueryCache(16, time.Minute))

	ctx := context.Background()
	_, err := c.GetItem(ctx, "i1")
	require.NoError(t, err)
	detail, err := c.GetItem(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, 10.0, detail.Quantity)
	require.Equal(t, int32(1), gets.Load())

	res, err := c.AdjustQuantity(ctx, "i1", 2, "Delivery Received", "")
	require.NoError(t, err)
	require.Equal(t, 12.0, res.Item.Quantity)

	_, err = c.GetItem(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, int32(2), gets.Load())
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","database":"disconnected"}`))
	}, nil)

	h, err := c.Health(context.Background())
	require.Error(t, err)
	require.Equal(t, "disconnected", h.Database)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	require.Error(t, err)
}
