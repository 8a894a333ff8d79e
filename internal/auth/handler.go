package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// Revocations reports ended sessions.
type Revocations interface {
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Middleware authenticates requests.
type Middleware struct {
	verifier    TokenVerifier
	revocations Revocations
	logger      *slog.Logger
}

// NewMiddleware constructs Middleware. revocations may be nil.
func NewMiddleware(verifier TokenVerifier, revocations Revocations, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{verifier: verifier, revocations: revocations, logger: logger}
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Authenticate resolves the session of r. It returns ErrMissingToken,
// ErrInvalidToken or ErrSessionRevoked when the request carries no usable
// session.
func (m *Middleware) Authenticate(r *http.Request) (Claims, error) {
	claims, err := m.verifier.Verify(tokenFromRequest(r))
	if err != nil {
		return Claims{}, err
	}
	if m.revocations == nil {
		return claims, nil
	}
	revoked, err := m.revocations.IsRevoked(r.Context(), claims.SessionID)
	if err != nil {
		// Token expiry still bounds the session when Redis is down.
		m.logger.Warn("revocation check failed", slog.Any("error", err))
	}
	if revoked {
		return Claims{}, ErrSessionRevoked
	}
	return claims, nil
}

// Require rejects requests without a valid, unrevoked session token.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Authenticate(r)
		switch {
		case errors.Is(err, ErrSessionRevoked):
			httpx.Fail(w, http.StatusUnauthorized, httpx.KindUnauthorized, "Session revoked", nil)
			return
		case err != nil:
			if !errors.Is(err, ErrMissingToken) {
				m.logger.Debug("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.Fail(w, http.StatusUnauthorized, httpx.KindUnauthorized, "Unauthorized", nil)
			return
		}
		ctx := shared.ContextWithUser(r.Context(), claims.UserID())
		ctx = shared.ContextWithSessionID(ctx, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler serves session endpoints.
type Handler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, now: time.Now}
}

// MountRoutes registers session routes behind Require.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.handleSession)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserFromContext(r.Context())
	sessionID := shared.SessionIDFromContext(r.Context())
	if userID == "" || sessionID == "" {
		httpx.Fail(w, http.StatusUnauthorized, httpx.KindUnauthorized, "No active session", nil)
		return
	}
	httpx.OK(w, http.StatusOK, Session{
		UserID:          userID,
		SessionID:       sessionID,
		IsAuthenticated: true,
		Timestamp:       h.now().UTC().Format(time.RFC3339),
	}, "Session verified successfully")
}
