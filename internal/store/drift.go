package store

import (
	"driftwatch/internal/logging"
	"driftwatch/internal/types"

	"github.com/google/uuid"
)

// RecordDriftEvent persists a drift event for audit. Events referencing
// unknown sessions are rejected; events for terminated sessions are
// dropped silently, since the detector may race a termination.
func (s *SessionStore) RecordDriftEvent(event types.DriftEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	session, err := s.getSession(s.db, event.SessionID)
	if err != nil {
		return err
	}
	if session.Terminated {
		logging.StoreDebug("Dropping drift event for terminated session %s", event.SessionID)
		return nil
	}

	err = s.withRetry("record drift event", func() error {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO drift_events (id, session_id, type, severity, observed, expected, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.SessionID, string(event.Type), string(event.Severity),
			event.Observed, event.Expected, event.Timestamp,
		)
		return err
	})
	if err != nil {
		return err
	}

	logging.StoreDebug("Drift event recorded: session=%s type=%s severity=%s",
		event.SessionID, event.Type, event.Severity)
	return nil
}

// ListDriftEvents returns the audit trail for a session, oldest first.
// limit <= 0 returns everything.
func (s *SessionStore) ListDriftEvents(sessionID string, limit int) ([]types.DriftEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getSession(s.db, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT id, type, severity, observed, expected, ts FROM drift_events
	          WHERE session_id = ? ORDER BY ts`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	defer rows.Close()

	var events []types.DriftEvent
	for rows.Next() {
		e := types.DriftEvent{SessionID: sessionID}
		var etype, severity string
		if err := rows.Scan(&e.ID, &etype, &severity, &e.Observed, &e.Expected, &e.Timestamp); err != nil {
			return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
		}
		e.Type = types.DriftType(etype)
		e.Severity = types.Severity(severity)
		events = append(events, e)
	}
	return events, rows.Err()
}
