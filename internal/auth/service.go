package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Leeway tolerates clock skew between Clerk and this service.
const Leeway = 5 * time.Second

// Verifier checks Clerk session tokens against the instance public key.
type Verifier struct {
	key               *rsa.PublicKey
	authorizedParties []string
	now               func() time.Time
}

// NewVerifier parses pemKey (escaped newlines allowed) and constructs a
// Verifier. An empty authorizedParties list accepts any azp claim.
func NewVerifier(pemKey string, authorizedParties []string) (*Verifier, error) {
	pemKey = strings.ReplaceAll(strings.TrimSpace(pemKey), `\n`, "\n")
	if pemKey == "" {
		return nil, errors.New("auth: public key required")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	parties := make([]string, 0, len(authorizedParties))
	for _, p := range authorizedParties {
		if p = strings.TrimSpace(p); p != "" {
			parties = append(parties, p)
		}
	}
	return &Verifier{key: key, authorizedParties: parties, now: time.Now}, nil
}

// Verify validates the signature, expiry and authorized party of token.
func (v *Verifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Claims{}, fmt.Errorf("%w: missing sub or sid", ErrInvalidToken)
	}
	if len(v.authorizedParties) > 0 && claims.AuthorizedParty != "" &&
		!slices.Contains(v.authorizedParties, claims.AuthorizedParty) {
		return Claims{}, fmt.Errorf("%w: unexpected azp %q", ErrInvalidToken, claims.AuthorizedParty)
	}
	return claims, nil
}
