// Package store persists driftwatch sessions, actions, drift events, and
// compression tiers in SQLite. It is the single writer for all session
// state; readers take snapshots inside one transaction so concurrent
// sweeps never observe a torn session.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/types"

	_ "modernc.org/sqlite"
)

// SessionStore implements durable session persistence over SQLite.
//
// Concurrency: one write lock guards all mutations (single active writer
// per session follows from that); reads take the shared lock. The
// database itself runs WAL so an external reader never blocks writes.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	retryAttempts int
	retryBackoff  time.Duration
}

// New initializes the SQLite database at the given path. ":memory:" is
// accepted for tests.
func New(path string, cfg config.StorageConfig) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	logging.Store("Initializing session store at %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &types.StorageError{Op: "open", Path: path, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Op: "open", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busyMillis := cfg.BusyTimeoutDuration().Milliseconds()
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyMillis)); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &SessionStore{
		db:            db,
		dbPath:        path,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoffDuration(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Schema ready at version %d", currentSchemaVersion)

	return s, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database path.
func (s *SessionStore) Path() string {
	return s.dbPath
}

// withRetry runs fn, retrying transient failures with exponential
// backoff. NotFoundError is never retried; what survives the budget is
// wrapped as a StorageError.
func (s *SessionStore) withRetry(op string, fn func() error) error {
	var err error
	backoff := s.retryBackoff
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		if attempt >= s.retryAttempts || !isTransient(err) {
			break
		}
		logging.Get(logging.CategoryStore).Warn("%s failed (attempt %d/%d), retrying in %v: %v",
			op, attempt+1, s.retryAttempts, backoff, err)
		time.Sleep(backoff)
		backoff *= 2
	}
	return &types.StorageError{Op: op, Path: s.dbPath, Err: err}
}

// isTransient reports whether a SQLite failure is worth retrying.
// Lock contention is; schema and constraint failures are not.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "interrupted")
}
