// Package httpx writes the JSON envelope every endpoint answers with.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// Error kinds shared by all endpoints.
const (
	KindValidation    = "validation"
	KindUnauthorized  = "unauthorized"
	KindNotFound      = "not_found"
	KindConflict      = "conflict"
	KindUnavailable   = "unavailable"
	KindRateLimited   = "rate_limited"
	KindInternal      = "internal"

	KindInvalidAdjustment = "invalid_adjustment"
	KindInvalidReason     = "invalid_reason"
	KindNegativeResult    = "negative_result"
	KindPartialFailure    = "partial_failure"
)

// ErrBadBody is returned by DecodeJSON for malformed or oversized bodies.
var ErrBadBody = errors.New("httpx: invalid request body")

// Envelope wraps every response.
type Envelope struct {
	Success   bool              `json:"success"`
	Data      any               `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a successful envelope.
func OK(w http.ResponseWriter, status int, data any, message string) {
	JSON(w, status, Envelope{Success: true, Data: data, Message: message, Timestamp: time.Now().UTC()})
}

// Fail sends a failed envelope.
func Fail(w http.ResponseWriter, status int, kind, message string, fields map[string]string) {
	JSON(w, status, Envelope{
		Success:   false,
		Error:     message,
		Kind:      kind,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	})
}

// Unavailable sends a 503 with a Retry-After hint.
func Unavailable(w http.ResponseWriter, retryAfter time.Duration, message string) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Fail(w, http.StatusServiceUnavailable, KindUnavailable, message, nil)
}

// DecodeJSON decodes a bounded JSON request body into target.
func DecodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrBadBody)
	}
	return nil
}
