package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pizza-pantry/pizza-pantry/internal/platform/httpx"
)

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthReport struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Cache     string    `json:"cache,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthHandler answers 200 when the database and cache respond, 503 otherwise.
// cache may be nil.
func HealthHandler(database, cache Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := healthReport{Status: "healthy", Database: "connected", Timestamp: time.Now().UTC()}
		if database == nil {
			report.Status, report.Database = "unhealthy", "disconnected"
		} else if err := database.Ping(ctx); err != nil {
			logger.Warn("health: database", slog.Any("error", err))
			report.Status, report.Database = "unhealthy", "disconnected"
		}
		if cache != nil {
			report.Cache = "connected"
			if err := cache.Ping(ctx); err != nil {
				logger.Warn("health: cache", slog.Any("error", err))
				report.Status, report.Cache = "unhealthy", "disconnected"
			}
		}
		status := http.StatusOK
		if report.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, report)
	}
}
