// Package db opens the embedded libsql database behind the turn store and owns its schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// MemoryDSN opens a shared in-memory database, mostly for tests.
const MemoryDSN = "file::memory:?cache=shared"

// Connect opens the libsql database at path, creating its directory when needed.
// Paths starting with "file:" are used as DSNs verbatim.
func Connect(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	logger = logger.With().Str("component", "db").Logger()

	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Info().Str("path", path).Msg("database not found, creating a new one")
		}
		dsn = "file:" + path
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("dsn", dsn).Msg("connected to libsql")
	return db, nil
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}
