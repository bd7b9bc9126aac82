// Package api implements the xwiki REST API using chi.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// CORS allows the configured browser origins. An empty list allows none.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health and /health/live.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// Ready returns the GET /health/ready handler, which pings the database.
func Ready(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", slog.Any("err", err))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "ok"})
	}
}
