package handlers

import (
	"fmt"
	"net/http"
)

// RateLimit returns middleware enforcing rpm requests per rateLimitWindow,
// counted per client IP via the KV store's atomic counter — shared across
// every instance of the process, unlike the realtime Router's in-memory
// per-connection limiter.
func (a *API) RateLimit(bucket string, rpm int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("httprate:%s:%s", bucket, getClientIP(r))
			count, err := a.KV.Incr(r.Context(), key, rateLimitWindow)
			if err != nil {
				a.Log.Warn().Err(err).Msg("rate limit counter failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if count > int64(rpm) {
				RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
