// Package store implements the per-project embedded relational store.
//
// Each project owns one SQLite file at <base>/projects/<id>/store. The
// handle serializes all access behind a mutex over a single connection,
// mirroring the one-writer-per-project discipline the schema assumes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/paths"
)

// Error kinds surfaced by store operations. Callers match with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
)

// Store is a mutex-guarded handle over one project's SQLite file. Every
// public operation takes the handle lock, so only one statement sequence
// runs at a time per handle; concurrent reads serialize, which is
// acceptable for this workload.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	basePath  string
	projectID string
	path      string
}

// lock acquires the handle mutex and returns the unlock func, for use as
// `defer s.lock()()` at every public entry point. Internal helpers assume
// the lock is held.
func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// Open opens (creating if needed) the store for a project under basePath.
// It creates the parent directory, enables foreign keys and WAL, and runs
// all pending migrations. Safe to call repeatedly.
func Open(basePath, projectID string) (*Store, error) {
	return openPath(paths.StorePath(basePath, projectID), basePath, projectID)
}

func openPath(path, basePath, projectID string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	// One connection total: the mutex in database/sql then serializes every
	// statement, and BEGIN IMMEDIATE below always runs on that connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store at %s: %w", path, err)
	}

	debug.LogKV("store", "opened", "project_id", projectID, "path", path)
	return &Store{db: db, basePath: basePath, projectID: projectID, path: path}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ProjectID returns the id of the project this store belongs to.
func (s *Store) ProjectID() string {
	return s.projectID
}

// BasePath returns the storage base path the store was opened under.
func (s *Store) BasePath() string {
	return s.basePath
}

// withTx runs fn inside a BEGIN IMMEDIATE transaction with rollback on
// error. The single-connection pool guarantees the BEGIN and the
// statements in fn share a connection.
func (s *Store) withTx(fn func() error) error {
	if _, err := s.db.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(); err != nil {
		s.db.Exec("ROLLBACK")
		return err
	}
	if _, err := s.db.Exec("COMMIT"); err != nil {
		s.db.Exec("ROLLBACK")
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// now returns the canonical timestamp representation used across the schema.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ProjectDirs lists project ids under <base>/projects that contain a store
// file. Cross-project queries iterate this list.
func ProjectDirs(basePath string) ([]string, error) {
	entries, err := os.ReadDir(paths.ProjectsDir(basePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(paths.StorePath(basePath, e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
