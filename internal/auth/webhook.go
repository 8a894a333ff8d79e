package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
)

// Clerk event types handled by WebhookHandler.
const (
	EventUserCreated    = "user.created"
	EventUserUpdated    = "user.updated"
	EventUserDeleted    = "user.deleted"
	EventSessionEnded   = "session.ended"
	EventSessionRevoked = "session.revoked"
)

// UserEvents reacts to account lifecycle events.
type UserEvents interface {
	UserCreated(ctx context.Context, userID, email string) error
	UserUpdated(ctx context.Context, userID, email string) error
	UserDeleted(ctx context.Context, userID string) error
}

// SessionRevoker records ended sessions.
type SessionRevoker interface {
	Revoke(ctx context.Context, sessionID string) error
}

type webhookEvent struct {
	Type string      `json:"type"`
	Data webhookData `json:"data"`
}

type webhookData struct {
	ID                    string `json:"id"`
	UserID                string `json:"user_id"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (d webhookData) primaryEmail() string {
	for _, e := range d.EmailAddresses {
		if e.ID == d.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WebhookHandler receives Clerk webhooks signed by svix.
type WebhookHandler struct {
	webhook  *svix.Webhook
	users    UserEvents
	sessions SessionRevoker
	logger   *slog.Logger
}

// NewWebhookHandler constructs WebhookHandler. An empty secret yields a
// handler that answers 500 until configured.
func NewWebhookHandler(secret string, users UserEvents, sessions SessionRevoker, logger *slog.Logger) (*WebhookHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebhookHandler{users: users, sessions: sessions, logger: logger}
	if secret == "" {
		return h, nil
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	h.webhook = wh
	return h, nil
}

// MountRoutes registers the webhook route. It must not sit behind Require.
func (h *WebhookHandler) MountRoutes(r chi.Router) {
	r.Post("/clerk", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		h.logger.Error("webhook secret not configured")
		httpx.JSON(w, http.StatusInternalServerError, webhookResponse{Error: "Webhook secret not configured"})
		return
	}
	if r.Header.Get("svix-id") == "" || r.Header.Get("svix-timestamp") == "" || r.Header.Get("svix-signature") == "" {
		httpx.JSON(w, http.StatusBadRequest, webhookResponse{Error: "Missing svix headers"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		httpx.JSON(w, http.StatusBadRequest, webhookResponse{Error: "Invalid request body"})
		return
	}
	if err := h.webhook.Verify(body, r.Header); err != nil {
		h.logger.Warn("webhook verification failed", slog.Any("error", err))
		httpx.JSON(w, http.StatusBadRequest, webhookResponse{Error: "Could not verify webhook"})
		return
	}
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		httpx.JSON(w, http.StatusBadRequest, webhookResponse{Error: "Invalid event payload"})
		return
	}

	message, err := h.dispatch(r.Context(), evt)
	if err != nil {
		h.logger.Error("webhook processing failed", slog.String("event", evt.Type), slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, webhookResponse{Event: evt.Type, Error: "Error processing webhook"})
		return
	}
	httpx.JSON(w, http.StatusOK, webhookResponse{Success: true, Event: evt.Type, Message: message})
}

func (h *WebhookHandler) dispatch(ctx context.Context, evt webhookEvent) (string, error) {
	switch evt.Type {
	case EventUserCreated:
		return "Preferences initialised", h.users.UserCreated(ctx, evt.Data.ID, evt.Data.primaryEmail())
	case EventUserUpdated:
		return "User updated", h.users.UserUpdated(ctx, evt.Data.ID, evt.Data.primaryEmail())
	case EventUserDeleted:
		return "User data deleted", h.users.UserDeleted(ctx, evt.Data.ID)
	case EventSessionEnded, EventSessionRevoked:
		if h.sessions == nil {
			return "Session ignored", nil
		}
		return "Session revoked", h.sessions.Revoke(ctx, evt.Data.ID)
	default:
		h.logger.Info("unhandled webhook event", slog.String("event", evt.Type))
		return "Event ignored", nil
	}
}
