package shared

import "errors"

var (
	// ErrUnauthorized indicates a request without an authenticated user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)
