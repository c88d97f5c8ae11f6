// Package sqlite implements the index cache: a SQLite database derived
// entirely from the record directory. Nothing in it is authoritative; the
// file can be deleted at any time and is rebuilt by the next reindex.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DBFileName is the cache file inside the data directory.
const DBFileName = "index.db"

// Store is the SQLite index cache.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache at path and applies migrations. Use
// ":memory:" for a throwaway cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps pragmas and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// OpenIndex opens the cache in dataDir. A cache that cannot be opened or
// migrated is deleted and created fresh; rebuilt reports that case so the
// caller can force a full reindex.
func OpenIndex(dataDir string) (store *Store, rebuilt bool, err error) {
	path := filepath.Join(dataDir, DBFileName)
	store, err = Open(path)
	if err == nil {
		return store, false, nil
	}
	if rmErr := removeDatabaseFiles(path); rmErr != nil {
		return nil, false, errors.Join(err, rmErr)
	}
	store, err = Open(path)
	if err != nil {
		return nil, false, err
	}
	return store, true, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Reset removes every cached record. Props go with their items.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("reset items: %w", err)
	}
	return nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func removeDatabaseFiles(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
