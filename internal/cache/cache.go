// Package cache keeps a local advisory record of source URLs that were
// already downloaded, so repeated runs on the same machine skip work
// without a round trip to the metadata database.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Cache answers "have we already downloaded this URL, and where did it
// land" from a local SQLite file. It is advisory only: it can save a
// network fetch, never a record-store check — the record store stays
// authoritative for dedup.
type Cache interface {
	// Lookup returns the storage URL recorded for sourceURL, or ok=false
	// when the URL was never downloaded on this machine.
	Lookup(ctx context.Context, sourceURL string) (storageURL string, ok bool, err error)
	Mark(ctx context.Context, sourceURL, storageURL string) error
	Close() error
}

// SQLite is the file-backed Cache implementation.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open creates or opens the cache database under dataDir. If dataDir is
// empty it defaults to ~/.paperingest.
func Open(dataDir string) (*SQLite, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".paperingest")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "downloads.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS downloads (
			source_url   TEXT PRIMARY KEY,
			storage_url  TEXT NOT NULL,
			downloaded_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &SQLite{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (c *SQLite) Path() string { return c.path }

// Lookup returns the storage URL sourceURL was downloaded to, if any.
func (c *SQLite) Lookup(ctx context.Context, sourceURL string) (string, bool, error) {
	var storageURL string
	err := c.db.QueryRowContext(ctx,
		`SELECT storage_url FROM downloads WHERE source_url = ?`, sourceURL).Scan(&storageURL)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying download cache: %w", err)
	}
	return storageURL, true, nil
}

// Mark records that sourceURL was stored at storageURL. Re-marking the
// same URL updates the row.
func (c *SQLite) Mark(ctx context.Context, sourceURL, storageURL string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO downloads (source_url, storage_url, downloaded_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (source_url) DO UPDATE SET
		   storage_url = excluded.storage_url,
		   downloaded_at = excluded.downloaded_at`,
		sourceURL, storageURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording download: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *SQLite) Close() error {
	return c.db.Close()
}

// Noop is a Cache that remembers nothing. Used when caching is disabled.
type Noop struct{}

func (Noop) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }
func (Noop) Mark(context.Context, string, string) error           { return nil }
func (Noop) Close() error                                         { return nil }
