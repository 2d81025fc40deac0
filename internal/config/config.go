// Package config handles the loading and parsing of application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"chatcore/internal/models"
)

// AppConfig holds all configuration settings for the application.
type AppConfig struct {
	// --- Core Settings ---
	DatabaseURL string // Postgres DSN.
	KVURL       string // Redis connection string backing presence/token storage.
	ServerAddr  string // Address for the HTTP server to listen on (e.g., ":8080").

	// --- Authentication ---
	JWTSecret        string        // Secret key for signing access tokens.
	JWTRefreshSecret string        // Secret key for signing refresh tokens.
	AccessTokenTTL   time.Duration // Access token lifetime.
	RefreshTokenTTL  time.Duration // Refresh token lifetime.
	BcryptCost       int           // Password hashing work factor, must be >= 12.
	GoogleClientID   string        // Client ID for Google ID-token verification. Optional.
	EncryptionKey    string        // Key protecting refresh tokens at rest in the KV store.

	// --- AI Upstream ---
	AIAPIKey  string // API key for the upstream streaming model. Empty disables AI generation.
	AIModel   string // Model identifier passed to the upstream client.
	AIBaseURL string // Optional override for an OpenAI-compatible self-hosted endpoint.

	// --- External Services ---
	FrontendURL string          // Used to build the CORS allow-list.
	S3          models.S3Config // Configuration for S3-compatible object storage. Optional.

	// --- Admin Telemetry ---
	TelegramBotToken string
	TelegramChatID   string

	// --- Application Logic ---
	MigrationsPath     string // Path to the database migration files.
	CORSAllowedOrigins string // Comma-separated list of allowed CORS origins.

	// --- Rate limits (requests/events per minute) ---
	HTTPRateLimitRPM int
	AIRateLimitRPM   int
	WSRateLimitRPM   int

	// --- Timeouts and Intervals ---
	HandshakeTimeout    time.Duration
	PersistenceTimeout  time.Duration
	UpstreamCallTimeout time.Duration
	UpstreamIdleTimeout time.Duration
	RingTimeout         time.Duration
	TypingExpiry        time.Duration
	ShutdownTimeout     time.Duration
}

// Load reads environment variables and populates the AppConfig struct.
// It sets sensible defaults for non-critical values.
func Load() (*AppConfig, error) {
	normalizeEndpoint := func(raw string) string {
		if raw == "" {
			return raw
		}
		if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
			return raw
		}
		return "https://" + raw
	}

	s3KeyID := getEnv("S3_ACCESS_KEY", "")
	if s3KeyID == "" {
		s3KeyID = getEnv("S3_ACCESS_KEY_ID", "")
	}
	s3Secret := getEnv("S3_SECRET_KEY", "")
	if s3Secret == "" {
		s3Secret = getEnv("S3_SECRET_ACCESS_KEY", "")
	}

	cfg := &AppConfig{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		KVURL:       getEnv("KV_URL", ""),
		ServerAddr:  getEnv("PORT_ADDR", ":"+getEnv("PORT", "8080")),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:   getEnvAsDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		BcryptCost:       getEnvAsInt("BCRYPT_COST", 14),
		GoogleClientID:   getEnv("GOOGLE_CLIENT_ID", ""),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),

		AIAPIKey:  getEnv("AI_API_KEY", ""),
		AIModel:   getEnv("AI_MODEL", "gpt-4o-mini"),
		AIBaseURL: getEnv("AI_BASE_URL", ""),

		FrontendURL: getEnv("FRONTEND_URL", ""),
		S3: models.S3Config{
			Endpoint: normalizeEndpoint(getEnv("S3_ENDPOINT", "")),
			Region:   getEnv("S3_REGION", ""),
			KeyID:    s3KeyID,
			AppKey:   s3Secret,
			Bucket:   getEnv("S3_BUCKET_NAME", ""),
		},

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		MigrationsPath:     getEnv("MIGRATIONS_PATH", "internal/database/migrations"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"),

		HTTPRateLimitRPM: getEnvAsInt("HTTP_RATE_LIMIT_RPM", 60),
		AIRateLimitRPM:   getEnvAsInt("AI_RATE_LIMIT_RPM", 20),
		WSRateLimitRPM:   getEnvAsInt("WS_RATE_LIMIT_RPM", 100),

		HandshakeTimeout:    getEnvAsDuration("HANDSHAKE_TIMEOUT", 5*time.Second),
		PersistenceTimeout:  getEnvAsDuration("PERSISTENCE_TIMEOUT", 5*time.Second),
		UpstreamCallTimeout: getEnvAsDuration("UPSTREAM_CALL_TIMEOUT", 60*time.Second),
		UpstreamIdleTimeout: getEnvAsDuration("UPSTREAM_IDLE_TIMEOUT", 20*time.Second),
		RingTimeout:         getEnvAsDuration("RING_TIMEOUT", 30*time.Second),
		TypingExpiry:        getEnvAsDuration("TYPING_EXPIRY", 6*time.Second),
		ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := validateCriticalConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCriticalConfig checks that essential configuration values are set.
func validateCriticalConfig(cfg *AppConfig) error {
	criticalVars := map[string]string{
		"DATABASE_URL":       cfg.DatabaseURL,
		"KV_URL":             cfg.KVURL,
		"JWT_SECRET":         cfg.JWTSecret,
		"JWT_REFRESH_SECRET": cfg.JWTRefreshSecret,
	}
	var missing []string
	for name, value := range criticalVars {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(cfg.JWTSecret) > 0 && len(cfg.JWTSecret) < 32 {
		missing = append(missing, "JWT_SECRET (must be >= 32 chars)")
	}
	if len(cfg.JWTRefreshSecret) > 0 && len(cfg.JWTRefreshSecret) < 32 {
		missing = append(missing, "JWT_REFRESH_SECRET (must be >= 32 chars)")
	}
	if cfg.BcryptCost < 12 {
		missing = append(missing, "BCRYPT_COST (must be >= 12)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid or missing critical environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// --- Helper Functions for robust environment variable loading ---

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
