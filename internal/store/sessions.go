package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"

	"github.com/google/uuid"
)

// CreateSession registers a new session with the given schedule and
// returns it in StateNominal.
func (s *SessionStore) CreateSession(schedule types.Schedule) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := types.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Schedule:  schedule,
		State:     types.StateNominal,
	}

	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return types.Session{}, &types.StorageError{Op: "create", Path: s.dbPath, Err: err}
	}

	err = s.withRetry("create session", func() error {
		_, err := s.db.Exec(
			`INSERT INTO sessions (id, created_at, schedule_json, state, attempts, terminated)
			 VALUES (?, ?, ?, ?, 0, 0)`,
			session.ID, session.CreatedAt, string(scheduleJSON), string(session.State),
		)
		return err
	})
	if err != nil {
		return types.Session{}, err
	}

	logging.Store("Session created: id=%s interval=%s", session.ID, schedule.Interval)
	return session, nil
}

// GetSession returns a session by ID, terminated or not.
func (s *SessionStore) GetSession(sessionID string) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSession(s.db, sessionID)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SessionStore) getSession(q querier, sessionID string) (types.Session, error) {
	var (
		session      types.Session
		scheduleJSON string
		state        string
		terminated   int
		terminatedAt sql.NullTime
	)
	err := q.QueryRow(
		`SELECT id, created_at, schedule_json, state, attempts, terminated, terminated_at
		 FROM sessions WHERE id = ?`, sessionID,
	).Scan(&session.ID, &session.CreatedAt, &scheduleJSON, &state,
		&session.Attempts, &terminated, &terminatedAt)
	if err == sql.ErrNoRows {
		return types.Session{}, &types.NotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return types.Session{}, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}

	if err := json.Unmarshal([]byte(scheduleJSON), &session.Schedule); err != nil {
		return types.Session{}, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	session.State = types.SessionState(state)
	session.Terminated = terminated != 0
	if terminatedAt.Valid {
		session.TerminatedAt = terminatedAt.Time
	}
	return session, nil
}

// ListSessions returns all sessions, live ones first, newest first within
// each group.
func (s *SessionStore) ListSessions() ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id FROM sessions ORDER BY terminated ASC, created_at DESC`)
	if err != nil {
		return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}

	sessions := make([]types.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.getSession(s.db, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// LiveSessionIDs returns IDs of sessions that have not been terminated.
// The monitor sweeps over these.
func (s *SessionStore) LiveSessionIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM sessions WHERE terminated = 0 ORDER BY created_at`)
	if err != nil {
		return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Append records an action in the session's history, assigning the next
// sequence number. Fails with NotFoundError for unknown or terminated
// sessions. The recorded action is returned with ID, Seq, and Timestamp
// populated.
func (s *SessionStore) Append(sessionID string, payload string, source types.ActionSource) (types.Action, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Append")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	action := types.Action{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Source:    source,
	}

	err := s.withRetry("append", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var terminated int
		err = tx.QueryRow(`SELECT terminated FROM sessions WHERE id = ?`, sessionID).Scan(&terminated)
		if err == sql.ErrNoRows || (err == nil && terminated != 0) {
			return &types.NotFoundError{SessionID: sessionID}
		}
		if err != nil {
			return err
		}

		err = tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM actions WHERE session_id = ?`,
			sessionID).Scan(&action.Seq)
		if err != nil {
			return err
		}

		_, err = tx.Exec(
			`INSERT INTO actions (session_id, seq, id, ts, payload, source)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, action.Seq, action.ID, action.Timestamp, action.Payload, string(action.Source),
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return types.Action{}, err
	}

	logging.StoreDebug("Action appended: session=%s seq=%d source=%s payload_len=%d",
		sessionID, action.Seq, action.Source, len(action.Payload))
	return action, nil
}

// GetHistory returns the session's actions in insertion order.
func (s *SessionStore) GetHistory(sessionID string) ([]types.Action, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetHistory")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getSession(s.db, sessionID); err != nil {
		return nil, err
	}
	return s.getHistory(s.db, sessionID)
}

func (s *SessionStore) getHistory(q querier, sessionID string) ([]types.Action, error) {
	rows, err := q.Query(
		`SELECT seq, id, ts, payload, source FROM actions
		 WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	defer rows.Close()

	var actions []types.Action
	for rows.Next() {
		a := types.Action{SessionID: sessionID}
		var source string
		if err := rows.Scan(&a.Seq, &a.ID, &a.Timestamp, &a.Payload, &source); err != nil {
			return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
		}
		a.Source = types.ActionSource(source)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Snapshot returns a read-consistent view of the session: row, history,
// and persisted tiers read inside a single transaction. Concurrent
// termination is observed either entirely or not at all.
func (s *SessionStore) Snapshot(sessionID string) (types.SessionSnapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Snapshot")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return types.SessionSnapshot{}, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	defer tx.Rollback()

	session, err := s.getSession(tx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}
	actions, err := s.getHistory(tx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}
	tiers, err := s.getTiers(tx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	return types.SessionSnapshot{
		Session: session,
		Actions: actions,
		Tiers:   tiers,
		TakenAt: time.Now().UTC(),
	}, nil
}

// Terminate marks the session terminated. Idempotent; safe to call
// concurrently with an in-flight Snapshot. Appends against the session
// fail with NotFoundError afterwards.
func (s *SessionStore) Terminate(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("terminate", func() error {
		res, err := s.db.Exec(
			`UPDATE sessions SET terminated = 1, terminated_at = ? WHERE id = ? AND terminated = 0`,
			time.Now().UTC(), sessionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Unknown or already terminated; distinguish the two.
			var exists int
			err := s.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
			if err == sql.ErrNoRows {
				return &types.NotFoundError{SessionID: sessionID}
			}
			return err
		}
		logging.Store("Session terminated: id=%s", sessionID)
		return nil
	})
}

// SetSessionState persists the recovery state and attempt counter.
func (s *SessionStore) SetSessionState(sessionID string, state types.SessionState, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("set state", func() error {
		res, err := s.db.Exec(
			`UPDATE sessions SET state = ?, attempts = ? WHERE id = ?`,
			string(state), attempts, sessionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &types.NotFoundError{SessionID: sessionID}
		}
		logging.RecoveryInfo("Session %s state -> %s (attempts=%d)", sessionID, state, attempts)
		return nil
	})
}
