// Package main is the entry point for the chatcore API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatcore/internal/ai"
	"chatcore/internal/auth"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/handlers"
	"chatcore/internal/kv"
	"chatcore/internal/logging"
	"chatcore/internal/realtime"
	"chatcore/internal/storage"
	"chatcore/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	log := logging.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT") == "pretty")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.New(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	store, err := kv.New(cfg.KVURL, cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to key-value store")
	}
	defer store.Close()

	authSvc, err := auth.New(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create authentication service")
	}

	s3Service, err := storage.NewS3Service(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create object storage service")
	}

	reg := realtime.NewRegistry(db, store, log)
	callMachine := realtime.NewCallMachine(db, cfg.RingTimeout, log)
	callMachine.SetRegistry(reg)
	reg.SetCallMachine(callMachine)

	router := realtime.NewRouter(reg, db, callMachine, cfg.WSRateLimitRPM, log)
	coordinator := ai.New(cfg, db, reg, log)
	router.SetGenerator(coordinator)

	api := handlers.New(db, store, authSvc, reg, router, coordinator, s3Service, cfg, log)

	go telemetry.InitializeBot(db)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: api.Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
