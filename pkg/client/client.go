// Package client is a Go client for the pantry HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
)

// Re-exported wire types.
type (
	Item         = inventory.Item
	ItemDetail   = inventory.ItemDetail
	Adjustment   = inventory.Adjustment
	CreateInput  = inventory.CreateInput
	ItemPatch    = inventory.ItemPatch
	AdjustResult = inventory.AdjustResult
	ListFilter   = inventory.ListFilter
)

// TokenSource returns the bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// APIError is a failed envelope.
type APIError struct {
	Status     int
	Kind       string
	Message    string
	Fields     map[string]string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pantry api: status %d", e.Status)
	}
	return fmt.Sprintf("pantry api: status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      TokenSource
	Headers    http.Header
	HTTPClient *http.Client
	// Cache is optional. GETs are served from it and mutations invalidate it.
	Cache *QueryCache
}

// Client talks to one API deployment.
type Client struct {
	base    *url.URL
	token   TokenSource
	headers http.Header
	http    *http.Client
	cache   *QueryCache
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("pantry client: invalid base url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: base, token: cfg.Token, headers: cfg.Headers.Clone(), http: hc, cache: cfg.Cache}, nil
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Fields  map[string]string `json:"fields"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, header http.Header, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("pantry client: token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if res.StatusCode >= 400 {
			return &APIError{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		}
		return fmt.Errorf("pantry client: decode response: %w", err)
	}
	if res.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{Status: res.StatusCode, Kind: env.Kind, Message: env.Error, Fields: env.Fields}
		if secs, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

const listKey = "items"

func itemKey(id string) string { return "item:" + id }

func (c *Client) cached(ctx context.Context, key string, out any, fetch func() error) error {
	if c.cache == nil {
		return fetch()
	}
	if raw, ok := c.cache.Get(key); ok {
		return json.Unmarshal(raw, out)
	}
	if err := fetch(); err != nil {
		return err
	}
	if raw, err := json.Marshal(out); err == nil {
		c.cache.Set(key, raw)
	}
	return nil
}

func (c *Client) invalidate(itemID string) {
	if c.cache == nil {
		return
	}
	c.cache.InvalidatePrefix(listKey)
	if itemID != "" {
		c.cache.Invalidate(itemKey(itemID))
	}
}

// ListItems lists the caller's items.
func (c *Client) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.LowStock {
		q.Set("lowStock", "true")
	}
	var items []Item
	err := c.cached(ctx, listKey+"?"+q.Encode(), &items, func() error {
		return c.do(ctx, http.MethodGet, "/api/inventory", q, nil, nil, &items)
	})
	return items, err
}

// GetItem loads an item with its recent adjustments.
func (c *Client) GetItem(ctx context.Context, id string) (ItemDetail, error) {
	var detail ItemDetail
	err := c.cached(ctx, itemKey(id), &detail, func() error {
		return c.do(ctx, http.MethodGet, "/api/inventory/"+url.PathEscape(id), nil, nil, nil, &detail)
	})
	return detail, err
}

// CreateItem creates an item.
func (c *Client) CreateItem(ctx context.Context, in CreateInput) (Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodPost, "/api/inventory", nil, in, nil, &item); err != nil {
		return Item{}, err
	}
	c.invalidate("")
	return item, nil
}

// UpdateItem changes descriptive fields of an item.
func (c *Client) UpdateItem(ctx context.Context, id string, patch ItemPatch) (Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodPut, "/api/inventory/"+url.PathEscape(id), nil, patch, nil, &item); err != nil {
		return Item{}, err
	}
	c.invalidate(id)
	return item, nil
}

// DeleteItem deletes an item.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/inventory/"+url.PathEscape(id), nil, nil, nil, nil); err != nil {
		return err
	}
	c.invalidate(id)
	return nil
}

// AdjustQuantity applies delta to an item. A non-empty idempotencyKey makes
// retries of the same adjustment safe.
func (c *Client) AdjustQuantity(ctx context.Context, id string, delta float64, reason, idempotencyKey string) (AdjustResult, error) {
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	body := struct {
		Adjustment float64 `json:"adjustment"`
		Reason     string  `json:"reason"`
	}{delta, reason}
	var res AdjustResult
	if err := c.do(ctx, http.MethodPost, "/api/inventory/"+url.PathEscape(id)+"/adjust", nil, body, header, &res); err != nil {
		return AdjustResult{}, err
	}
	c.invalidate(id)
	return res, nil
}

// Health is the body of the health endpoint.
type Health struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Cache     string    `json:"cache,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports the API health. A 503 still returns the decoded report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	u := *c.base
	u.Path = c.base.Path + "/api/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Health{}, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return Health{}, err
	}
	defer res.Body.Close()
	var h Health
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("pantry client: decode health: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return h, &APIError{Status: res.StatusCode, Message: h.Status}
	}
	return h, nil
}
