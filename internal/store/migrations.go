package store

import (
	"fmt"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Schema versions:
// v1: sessions, actions, drift_events tables
// v2: tiers table for persisted compression state
// v3: sessions.attempts column for the recovery retry counter
const currentSchemaVersion = 3

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		created_at    DATETIME NOT NULL,
		schedule_json TEXT NOT NULL,
		state         TEXT NOT NULL DEFAULT 'nominal',
		terminated    INTEGER NOT NULL DEFAULT 0,
		terminated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS actions (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		seq        INTEGER NOT NULL,
		id         TEXT NOT NULL,
		ts         DATETIME NOT NULL,
		payload    TEXT NOT NULL,
		source     TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS drift_events (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		type       TEXT NOT NULL,
		severity   TEXT NOT NULL,
		observed   TEXT NOT NULL DEFAULT '',
		expected   TEXT NOT NULL DEFAULT '',
		ts         DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drift_events_session ON drift_events(session_id, ts)`,
	`CREATE TABLE IF NOT EXISTS tiers (
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		tier        TEXT NOT NULL,
		content     TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		start_seq   INTEGER NOT NULL DEFAULT 0,
		end_seq     INTEGER NOT NULL DEFAULT 0,
		stale_at    DATETIME NOT NULL,
		PRIMARY KEY (session_id, tier)
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
}

// columnMigration adds a column to an existing table when it is missing.
// Handles databases created before the column existed.
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []columnMigration{
	// Recovery retry counter (added with the recovery controller).
	{"sessions", "attempts", "INTEGER NOT NULL DEFAULT 0"},
}

// migrate creates the schema and applies column migrations.
func (s *SessionStore) migrate() error {
	timer := logging.StartTimer(logging.CategoryStore, "migrate")
	defer timer.Stop()

	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return &types.StorageError{Op: "migrate", Path: s.dbPath, Err: err}
		}
	}

	applied := 0
	for _, m := range pendingMigrations {
		if s.columnExists(m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v",
				m.Table, m.Column, err)
			continue
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}
	if applied > 0 {
		logging.Store("Applied %d column migrations", applied)
	}

	return s.setSchemaVersion(currentSchemaVersion)
}

func (s *SessionStore) columnExists(table, column string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func (s *SessionStore) setSchemaVersion(v int) error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return &types.StorageError{Op: "migrate", Path: s.dbPath, Err: err}
	}
	var err error
	if count == 0 {
		_, err = s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", v)
	} else {
		_, err = s.db.Exec("UPDATE schema_version SET version = ?", v)
	}
	if err != nil {
		return &types.StorageError{Op: "migrate", Path: s.dbPath, Err: err}
	}
	return nil
}

// SchemaVersion returns the stored schema version.
func (s *SessionStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&v); err != nil {
		return 0, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	return v, nil
}
