package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"chatcore/internal/config"
)

func newTestAPI(allowedOrigins string) *API {
	return &API{
		Cfg: &config.AppConfig{CORSAllowedOrigins: allowedOrigins},
		Log: zerolog.New(io.Discard),
	}
}

func TestCheckOrigin(t *testing.T) {
	a := newTestAPI("https://app.example.com, https://admin.example.com")

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"empty origin allowed (non-browser client)", "", true},
		{"exact match allowed", "https://app.example.com", true},
		{"second allowed origin", "https://admin.example.com", true},
		{"unlisted origin rejected", "https://evil.example.com", false},
		{"malformed origin rejected", "not a url", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := a.checkOrigin(r); got != tc.want {
				t.Fatalf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}
