// Package ratelimit throttles mutations per authenticated user.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

// Limiter keeps one token bucket per key with auto-cleanup of idle keys.
type Limiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// New allows perMinute events per key. Buckets idle for ttl are dropped.
func New(perMinute, maxKeys int, ttl time.Duration) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, ttl),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Mutations limits non-GET requests of the user in the request context.
// Anonymous requests pass through; authentication rejects them later.
func (l *Limiter) Mutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		userID := shared.UserFromContext(r.Context())
		if userID != "" && !l.Allow(userID) {
			w.Header().Set("Retry-After", "1")
			httpx.Fail(w, http.StatusTooManyRequests, httpx.KindRateLimited, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
