// Package middleware provides HTTP middleware handlers.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"chatcore/internal/database"
)

// MaintenanceMiddleware blocks non-essential traffic while the service is in
// maintenance mode, allowing only the health check through so operators can
// still probe liveness during a planned restart.
func MaintenanceMiddleware(db *database.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			status, err := db.GetServiceStatus()
			if err != nil {
				log.Warn().Err(err).Msg("maintenance check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !status.Maintenance {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": status.Message})
		})
	}
}
