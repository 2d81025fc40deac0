// Package database provides functionality for database connection, management,
// and query execution, plus the repository implementations over Postgres.
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	// Postgres driver for database migrations.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	// Driver for file-based migrations.
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	// PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DB is a wrapper around the sqlx.DB struct to allow for extension
// with custom methods, giving every repository type (Users,
// Conversations, Members, ...) access to the same pooled connection.
type DB struct {
	*sqlx.DB
	log zerolog.Logger
}

// New establishes a connection to the PostgreSQL database using the provided URL,
// configures the connection pool, pings the database, and initializes the DB struct.
func New(dbURL string, log zerolog.Logger) (*DB, error) {
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is not set")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping the database: %w", err)
	}

	log.Info().Msg("connected to postgres")

	return &DB{DB: db, log: log}, nil
}

// Migrate applies all available database migrations found in the specified path.
// It will not return an error if the database is already up to date.
func (db *DB) Migrate(databaseURL, migrationsPath string) error {
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		db.log.Warn().Err(err).Msg("could not read migration version")
	}

	if dirty {
		return fmt.Errorf("database is in a dirty migration state at version %d", version)
	}

	if errors.Is(err, migrate.ErrNilVersion) {
		db.log.Info().Msg("migrations applied, no version tag found")
	} else {
		db.log.Info().Uint("version", version).Msg("migrations up to date")
	}

	return nil
}
