package store

import (
	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// SaveTiers replaces the persisted compression state for a session.
// Idempotent: saving the same tier set twice leaves one copy.
func (s *SessionStore) SaveTiers(sessionID string, tiers []types.Summary) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveTiers")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getSession(s.db, sessionID); err != nil {
		return err
	}

	return s.withRetry("save tiers", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM tiers WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		for _, t := range tiers {
			_, err := tx.Exec(
				`INSERT INTO tiers (session_id, tier, content, token_count, start_seq, end_seq, stale_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sessionID, string(t.Tier), t.Content, t.TokenCount, t.StartSeq, t.EndSeq, t.StaleAt,
			)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// LoadTiers returns the persisted compression state, newest tier first
// (immediate, recent, historical).
func (s *SessionStore) LoadTiers(sessionID string) ([]types.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getSession(s.db, sessionID); err != nil {
		return nil, err
	}
	return s.getTiers(s.db, sessionID)
}

func (s *SessionStore) getTiers(q querier, sessionID string) ([]types.Summary, error) {
	rows, err := q.Query(
		`SELECT tier, content, token_count, start_seq, end_seq, stale_at FROM tiers
		 WHERE session_id = ?
		 ORDER BY CASE tier
		   WHEN 'immediate' THEN 0
		   WHEN 'recent' THEN 1
		   ELSE 2 END`, sessionID)
	if err != nil {
		return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
	}
	defer rows.Close()

	var tiers []types.Summary
	for rows.Next() {
		t := types.Summary{SessionID: sessionID}
		var tier string
		if err := rows.Scan(&tier, &t.Content, &t.TokenCount, &t.StartSeq, &t.EndSeq, &t.StaleAt); err != nil {
			return nil, &types.StorageError{Op: "query", Path: s.dbPath, Err: err}
		}
		t.Tier = types.Tier(tier)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}
