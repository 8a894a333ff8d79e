package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie Clerk sets for browser sessions.
const SessionCookie = "__session"

var (
	// ErrMissingToken indicates the request carried no session token.
	ErrMissingToken = errors.New("auth: missing session token")
	// ErrInvalidToken indicates a malformed, expired or foreign token.
	ErrInvalidToken = errors.New("auth: invalid session token")
	// ErrSessionRevoked indicates the session was ended or revoked.
	ErrSessionRevoked = errors.New("auth: session revoked")
)

// Claims are the fields of a Clerk session token this service relies on.
type Claims struct {
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c Claims) UserID() string {
	return c.Subject
}

// Session describes the authenticated caller.
type Session struct {
	UserID          string `json:"userId"`
	SessionID       string `json:"sessionId"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	Timestamp       string `json:"timestamp"`
}
