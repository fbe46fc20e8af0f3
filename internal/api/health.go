package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const readinessTimeout = 2 * time.Second

// health is the liveness probe: 200 as long as the process serves requests.
func health(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness is the readiness probe: pings the database pool when configured.
// A nil pool reports ready so the API can run without persistence in dev.
func readiness(pool *pgxpool.Pool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			}, logger)
			return
		}

		stat := pool.Stat()
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":           "ready",
			"totalConns":       stat.TotalConns(),
			"idleConns":        stat.IdleConns(),
			"acquiredConns":    stat.AcquiredConns(),
			"maxConns":         stat.MaxConns(),
			"newConnsCount":    stat.NewConnsCount(),
			"acquireDuration":  stat.AcquireDuration().String(),
			"emptyAcquireWait": stat.EmptyAcquireCount(),
		}, logger)
	}
}
