package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatcore/internal/apperr"
)

// RespondWithJSON writes payload as a JSON response with the given status
// code. A marshal failure falls back to a raw error string rather than
// leaving the connection hanging.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a JSON error envelope. 500s never echo message to
// the client — only logged by the caller — so internals never leak.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	if code == http.StatusInternalServerError {
		message = "internal server error"
	}
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// respondErr maps a domain error's apperr kind to its HTTP status per the
// error-handling taxonomy and writes it. Anything that doesn't carry a known
// sentinel is logged and reported as a generic 500.
func (a *API) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperr.Is(err, apperr.ErrValidation):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	case apperr.Is(err, apperr.ErrUnauthenticated):
		RespondWithError(w, http.StatusUnauthorized, "unauthenticated")
	case apperr.Is(err, apperr.ErrForbidden):
		RespondWithError(w, http.StatusForbidden, "forbidden")
	case apperr.Is(err, apperr.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, "not found")
	case apperr.Is(err, apperr.ErrConflict):
		RespondWithError(w, http.StatusConflict, err.Error())
	case apperr.Is(err, apperr.ErrRateLimited):
		RespondWithError(w, http.StatusTooManyRequests, "rate limited")
	case apperr.Is(err, apperr.ErrUpstreamUnavailable):
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.Log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled handler error")
		RespondWithError(w, http.StatusInternalServerError, "")
	}
}

// decodeJSON reads and decodes a JSON request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// getClientIP extracts the caller's address, preferring proxy headers over
// the raw socket address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// parseIDFromURL extracts an int64 path parameter named key.
func parseIDFromURL(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
