package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "pantry:revoked:"

// RevocationList remembers ended sessions until their tokens can no longer
// be valid.
type RevocationList struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRevocationList constructs a RevocationList. ttl defaults to 24h.
func NewRevocationList(client *redis.Client, ttl time.Duration) *RevocationList {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RevocationList{client: client, ttl: ttl}
}

// Revoke marks sessionID as ended.
func (l *RevocationList) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("auth: session id required")
	}
	return l.client.Set(ctx, revokedPrefix+sessionID, 1, l.ttl).Err()
}

// IsRevoked reports whether sessionID was ended.
func (l *RevocationList) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := l.client.Exists(ctx, revokedPrefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
