package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"chatcore/internal/apperr"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name string
		n    int
		def  int
		max  int
		want int
	}{
		{"zero uses default", 0, 50, 100, 50},
		{"negative uses default", -5, 50, 100, 50},
		{"within bounds is unchanged", 30, 50, 100, 30},
		{"over max is clamped", 500, 50, 100, 100},
		{"exactly max is kept", 100, 50, 100, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := clampLimit(tc.n, tc.def, tc.max); got != tc.want {
				t.Fatalf("clampLimit(%d, %d, %d) = %d, want %d", tc.n, tc.def, tc.max, got, tc.want)
			}
		})
	}
}

func TestExtractToken(t *testing.T) {
	t.Run("bearer header takes priority", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
		r.Header.Set("Authorization", "Bearer header-token")
		if got := extractToken(r); got != "header-token" {
			t.Fatalf("got %q, want %q", got, "header-token")
		}
	})

	t.Run("falls back to query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
		if got := extractToken(r); got != "query-token" {
			t.Fatalf("got %q, want %q", got, "query-token")
		}
	})

	t.Run("non-bearer header is ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Basic deadbeef")
		if got := extractToken(r); got != "" {
			t.Fatalf("got %q, want empty", got)
		}
	})
}

func TestGetClientIP(t *testing.T) {
	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		r.RemoteAddr = "192.0.2.1:1234"
		if got := getClientIP(r); got != "203.0.113.5" {
			t.Fatalf("got %q, want %q", got, "203.0.113.5")
		}
	})

	t.Run("falls back to X-Real-IP", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Real-IP", "203.0.113.9")
		r.RemoteAddr = "192.0.2.1:1234"
		if got := getClientIP(r); got != "203.0.113.9" {
			t.Fatalf("got %q, want %q", got, "203.0.113.9")
		}
	})

	t.Run("falls back to remote addr host", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.1:1234"
		if got := getClientIP(r); got != "192.0.2.1" {
			t.Fatalf("got %q, want %q", got, "192.0.2.1")
		}
	})
}

func TestRespondErr(t *testing.T) {
	a := &API{Log: zerolog.New(io.Discard)}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Wrap(apperr.ErrValidation, "bad input"), http.StatusBadRequest},
		{"unauthenticated", apperr.Wrap(apperr.ErrUnauthenticated, "no token"), http.StatusUnauthorized},
		{"forbidden", apperr.Wrap(apperr.ErrForbidden, "nope"), http.StatusForbidden},
		{"not found", apperr.Wrap(apperr.ErrNotFound, "missing"), http.StatusNotFound},
		{"conflict", apperr.Wrap(apperr.ErrConflict, "state mismatch"), http.StatusConflict},
		{"rate limited", apperr.Wrap(apperr.ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"upstream unavailable", apperr.Wrap(apperr.ErrUpstreamUnavailable, "ai down"), http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			a.respondErr(w, r, tc.err)
			if w.Code != tc.want {
				t.Fatalf("got status %d, want %d", w.Code, tc.want)
			}
		})
	}

	t.Run("unknown error never leaks message", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		a.respondErr(w, r, errDatabaseExploded{})
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("got status %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if got := w.Body.String(); got != `{"error":"internal server error"}` {
			t.Fatalf("unexpected body leaking internals: %s", got)
		}
	})
}

type errDatabaseExploded struct{}

func (errDatabaseExploded) Error() string { return "pq: connection reset by peer" }
