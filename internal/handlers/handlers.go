// Package handlers implements the HTTP surface: REST resources over the
// database layer plus the websocket upgrade endpoint that hands a connection
// off to the realtime Registry and Router.
package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatcore/internal/ai"
	"chatcore/internal/auth"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/kv"
	"chatcore/internal/logging"
	"chatcore/internal/realtime"
	"chatcore/internal/storage"
)

// API holds every dependency the HTTP handlers need. One instance is built
// in cmd/api and its methods are registered onto a chi router.
type API struct {
	DB       *database.DB
	KV       *kv.Store
	Auth     *auth.Service
	Registry *realtime.Registry
	Router   *realtime.Router
	AI       *ai.Coordinator
	Storage  *storage.S3Service
	Validate *validator.Validate
	Cfg      *config.AppConfig
	Log      zerolog.Logger

	upgrader websocket.Upgrader
}

// New constructs an API with its validator and websocket upgrader configured.
// Call mutations (initiate/accept/reject/cancel/end) are websocket-only and
// go through Router to the realtime.CallMachine; the HTTP surface only ever
// reads call history, straight off the database, so the machine itself has
// no place here.
func New(db *database.DB, store *kv.Store, authSvc *auth.Service, reg *realtime.Registry, router *realtime.Router, coordinator *ai.Coordinator, s3 *storage.S3Service, cfg *config.AppConfig, log zerolog.Logger) *API {
	a := &API{
		DB:       db,
		KV:       store,
		Auth:     authSvc,
		Registry: reg,
		Router:   router,
		AI:       coordinator,
		Storage:  s3,
		Validate: validator.New(),
		Cfg:      cfg,
		Log:      logging.Component(log, "http"),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 100
)

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// rateLimitWindow is the fixed window every HTTP rate limiter counts against.
const rateLimitWindow = time.Minute
