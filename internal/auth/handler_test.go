package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/pizza-pantry/pizza-pantry/internal/auth"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
	_ "github.com/pizza-pantry/pizza-pantry/testing"
)

type keyPair struct {
	private *rsa.PrivateKey
	pem     string
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return keyPair{private: key, pem: string(block)}
}

func (k keyPair) sign(t *testing.T, claims auth.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(k.private)
	require.NoError(t, err)
	return token
}

func validClaims(userID, sessionID string) auth.Claims {
	now := time.Now()
	return auth.Claims{
		SessionID:       sessionID,
		AuthorizedParty: "https://pantry.example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
}

func TestVerifier(t *testing.T) {
	keys := newKeyPair(t)
	verifier, err := auth.NewVerifier(strings.ReplaceAll(keys.pem, "\n", `\n`), []string{"https://pantry.example.com"})
	require.NoError(t, err)

	claims, err := verifier.Verify(keys.sign(t, validClaims("user_1", "sess_1")))
	require.NoError(t, err)
	require.Equal(t, "user_1", claims.UserID())
	require.Equal(t, "sess_1", claims.SessionID)

	_, err = verifier.Verify("")
	require.ErrorIs(t, err, auth.ErrMissingToken)

	expired := validClaims("user_1", "sess_1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = verifier.Verify(keys.sign(t, expired))
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	skewed := validClaims("user_1", "sess_1")
	skewed.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Second))
	_, err = verifier.Verify(keys.sign(t, skewed))
	require.NoError(t, err)

	foreign := validClaims("user_1", "sess_1")
	foreign.AuthorizedParty = "https://evil.example.com"
	_, err = verifier.Verify(keys.sign(t, foreign))
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	other := newKeyPair(t)
	_, err = verifier.Verify(other.sign(t, validClaims("user_1", "sess_1")))
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user_1", "sess_1")).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = verifier.Verify(hs)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func newRevocations(t *testing.T) *auth.RevocationList {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return auth.NewRevocationList(client, time.Hour)
}

func protectedRouter(t *testing.T, keys keyPair, revocations *auth.RevocationList) http.Handler {
	t.Helper()
	verifier, err := auth.NewVerifier(keys.pem, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(verifier, revocations, nil).Require)
		auth.NewHandler(nil).MountRoutes(r)
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(shared.UserFromContext(r.Context())))
		})
	})
	return r
}

func TestMiddlewareRequire(t *testing.T) {
	keys := newKeyPair(t)
	revocations := newRevocations(t)
	router := protectedRouter(t, keys, revocations)
	token := keys.sign(t, validClaims("user_1", "sess_1"))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Contains(t, res.Body.String(), `"kind":"unauthorized"`)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "user_1", res.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"userId":"user_1"`)
	require.Contains(t, res.Body.String(), `"sessionId":"sess_1"`)
	require.Contains(t, res.Body.String(), `"isAuthenticated":true`)

	require.NoError(t, revocations.Revoke(context.Background(), "sess_1"))
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Contains(t, res.Body.String(), "Session revoked")
}

func TestAuthenticateReportsRevokedSession(t *testing.T) {
	keys := newKeyPair(t)
	revocations := newRevocations(t)
	verifier, err := auth.NewVerifier(keys.pem, nil)
	require.NoError(t, err)
	mw := auth.NewMiddleware(verifier, revocations, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+keys.sign(t, validClaims("user_1", "sess_2")))
	claims, err := mw.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "user_1", claims.UserID())

	require.NoError(t, revocations.Revoke(context.Background(), "sess_2"))
	_, err = mw.Authenticate(req)
	require.ErrorIs(t, err, auth.ErrSessionRevoked)

	_, err = mw.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, auth.ErrMissingToken)
}

type recordingUsers struct {
	created, updated, deleted []string
	emails                    []string
}

func (r *recordingUsers) UserCreated(_ context.Context, userID, email string) error {
	r.created = append(r.created, userID)
	r.emails = append(r.emails, email)
	return nil
}

func (r *recordingUsers) UserUpdated(_ context.Context, userID, email string) error {
	r.updated = append(r.updated, userID)
	r.emails = append(r.emails, email)
	return nil
}

func (r *recordingUsers) UserDeleted(_ context.Context, userID string) error {
	r.deleted = append(r.deleted, userID)
	return nil
}

var webhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("pizza-pantry-webhook-secret"))

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	wh, err := svix.NewWebhook(webhookSecret)
	require.NoError(t, err)
	now := time.Now()
	signature, err := wh.Sign("msg_1", now, []byte(body))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/clerk", strings.NewReader(body))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", signature)
	return req
}

func webhookRouter(t *testing.T, users auth.UserEvents, sessions auth.SessionRevoker) http.Handler {
	t.Helper()
	h, err := auth.NewWebhookHandler(webhookSecret, users, sessions, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestWebhookDispatch(t *testing.T) {
	users := &recordingUsers{}
	revocations := newRevocations(t)
	router := webhookRouter(t, users, revocations)

	created := `{"type":"user.created","data":{"id":"user_1","primary_email_address_id":"e2","email_addresses":[{"id":"e1","email_address":"old@example.com"},{"id":"e2","email_address":"chef@example.com"}]}}`
	res := httptest.NewRecorder()
	router.ServeHTTP(res, signedRequest(t, created))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"success":true`)
	require.Contains(t, res.Body.String(), `"event":"user.created"`)
	require.Equal(t, []string{"user_1"}, users.created)
	require.Equal(t, []string{"chef@example.com"}, users.emails)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, signedRequest(t, `{"type":"user.deleted","data":{"id":"user_1"}}`))
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, []string{"user_1"}, users.deleted)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, signedRequest(t, `{"type":"session.revoked","data":{"id":"sess_9","user_id":"user_1"}}`))
	require.Equal(t, http.StatusOK, res.Code)
	revoked, err := revocations.IsRevoked(context.Background(), "sess_9")
	require.NoError(t, err)
	require.True(t, revoked)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, signedRequest(t, `{"type":"organization.created","data":{"id":"org_1"}}`))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"event":"organization.created"`)
}

func TestWebhookRejectsUnsignedRequests(t *testing.T) {
	users := &recordingUsers{}
	router := webhookRouter(t, users, nil)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/clerk", strings.NewReader(`{"type":"user.deleted","data":{"id":"user_1"}}`)))
	require.Equal(t, http.StatusBadRequest, res.Code)

	signed := signedRequest(t, `{"type":"user.deleted","data":{"id":"user_1"}}`)
	req := signedRequestWithBody(t, signed, `{"type":"user.deleted","data":{"id":"user_2"}}`)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Empty(t, users.deleted)
}

// signedRequestWithBody keeps the svix headers of signed but swaps the body.
func signedRequestWithBody(t *testing.T, signed *http.Request, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/clerk", strings.NewReader(body))
	req.Header = signed.Header.Clone()
	return req
}

func TestWebhookWithoutSecret(t *testing.T) {
	h, err := auth.NewWebhookHandler("", &recordingUsers{}, nil, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	h.MountRoutes(r)
	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/clerk", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusInternalServerError, res.Code)
}
