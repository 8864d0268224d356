package migrations

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// OpenDatabase opens (creating if needed) the sqlite database at path and
// brings its schema up to date. Use ":memory:" for a throwaway database.
func OpenDatabase(path string, logger zerolog.Logger) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: sqlite serializes writers anyway, and ":memory:" is
	// per-connection.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(db, logger); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return db, nil
}
