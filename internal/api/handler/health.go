package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/internal/config"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. The
// body is a bare {status, version, timestamp, services} object, not the data
// envelope. It answers 503 when the database or cache cannot be reached.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := db.Ping(ctx); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(ctx); err != nil {
			checks["cache"] = "degraded"
		}

		body := map[string]any{
			"status":    "ok",
			"version":   config.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services":  checks,
		}
		status := http.StatusOK
		if checks["database"] != "ok" || checks["cache"] != "ok" {
			body["status"] = response.CodeDegraded
			status = http.StatusServiceUnavailable
		}
		response.Raw(w, status, body)
	}
}
