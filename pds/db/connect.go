// Package db opens the libsql database backing the reference discourse store and keeps
// its schema current with goose.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// LibSQLConfig holds configuration for embedded or remote libsql connections.
type LibSQLConfig struct {
	DSN          string // "file:/path/pds.db" or "libsql://host"
	AuthToken    string // remote only
	MaxOpenConns int
}

// ConnectToDB opens an embedded database at path.
func ConnectToDB(path string, logger zerolog.Logger) (*sql.DB, error) {
	return ConnectToDBWithConfig(&LibSQLConfig{DSN: "file:" + path}, logger)
}

// ConnectToDBWithConfig opens the database, verifies connectivity and applies migrations.
func ConnectToDBWithConfig(config *LibSQLConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn := config.DSN
	if strings.HasPrefix(dsn, "file:") {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Info().Str("path", path).Msg("Database not found, creating a new one")
		}
	} else if config.AuthToken != "" {
		dsn = withAuthToken(dsn, config.AuthToken)
	}

	logger.Debug().Str("dsn", redact(config.DSN)).Msg("Connecting to libsql")

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1 // single writer for embedded sqlite
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := verify(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs all pending goose migrations embedded in the binary.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	// Set goose dialect to SQLite (required for proper migration execution)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

func verify(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

func withAuthToken(dsn, token string) string {
	if u, err := url.Parse(dsn); err == nil {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&authToken=" + url.QueryEscape(token)
	}
	return dsn + "?authToken=" + url.QueryEscape(token)
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "authToken="); i >= 0 {
		return dsn[:i] + "authToken=REDACTED"
	}
	return dsn
}
