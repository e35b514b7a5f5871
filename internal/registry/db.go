// Package registry provides persistent storage for coordinatord client
// records, using pure-Go SQLite (modernc.org/sqlite) — no cgo required.
// Grounded on internal/registry/db.go's Open/migrate shape; the schema
// itself is this domain's (client records, not VM instances).
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database for coordinatord registry storage.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	rdb := &DB{db: db}
	if err := rdb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return rdb, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS clients (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			cpu           INTEGER NOT NULL,
			backend_kind  TEXT NOT NULL,
			firmware_path TEXT NOT NULL,
			state         TEXT NOT NULL DEFAULT 'offline',
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}
