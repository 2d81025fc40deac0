package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"chatcore/internal/realtime"
)

// checkOrigin validates the websocket handshake's Origin header against the
// configured CORS allow-list. An empty Origin (non-browser clients) is
// allowed through, matching the REST CORS policy's leniency there.
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range strings.Split(a.Cfg.CORSAllowedOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Hostname()) {
			return true
		}
	}
	a.Log.Warn().Str("origin", origin).Msg("websocket handshake rejected: origin not allowed")
	return false
}

// ServeWS upgrades an authenticated request to a websocket connection,
// registers it with the Connection Registry, and pumps it until it closes.
// Authentication happens upstream via Authenticate (token by query
// parameter, since the browser WebSocket API can't set headers).
func (a *API) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r)

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	client := realtime.NewClient(connID, userID, conn, a.Router, a.Log)
	a.Registry.Register(r.Context(), userID, connID, client.Send())

	go client.WritePump()
	client.ReadPump(r.Context())

	rooms := a.Registry.RoomsOf(connID)
	a.Registry.Unregister(r.Context(), connID)
	a.Router.OnDisconnect(userID, rooms)
}
