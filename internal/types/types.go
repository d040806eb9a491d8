// Package types defines the domain model shared across driftwatch:
// sessions, recorded actions, drift events, compression tiers, and the
// typed errors the store and recovery controller surface.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionSource identifies who produced an action.
type ActionSource string

const (
	// SourceAgent marks actions emitted by the monitored agent.
	SourceAgent ActionSource = "agent"
	// SourceOperator marks actions injected by an operator (instructions,
	// re-injected instructions during recovery).
	SourceOperator ActionSource = "operator"
)

// Valid reports whether the source is one of the known values.
func (s ActionSource) Valid() bool {
	return s == SourceAgent || s == SourceOperator
}

// Action is a single recorded unit of session history. Immutable once
// recorded; Seq is assigned by the store at append time.
type Action struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Seq       int          `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   string       `json:"payload"`
	Source    ActionSource `json:"source"`
}

// IsInstruction reports whether the action is operator-injected.
// Instructions must survive compression verbatim.
func (a Action) IsInstruction() bool {
	return a.Source == SourceOperator
}

// Schedule describes the cadence an agent session is expected to keep:
// one action every Interval, with Tolerance of grace before the deviation
// counts as drift. Pattern optionally names expected content for agent
// actions; empty disables content checking.
type Schedule struct {
	Interval  time.Duration `json:"interval"`
	Tolerance time.Duration `json:"tolerance"`
	Pattern   string        `json:"pattern,omitempty"`
}

// MarshalJSON encodes durations as strings ("5m") so schedules stay
// readable in the database and on the CLI.
func (s Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Interval  string `json:"interval"`
		Tolerance string `json:"tolerance"`
		Pattern   string `json:"pattern,omitempty"`
	}{
		Interval:  s.Interval.String(),
		Tolerance: s.Tolerance.String(),
		Pattern:   s.Pattern,
	})
}

// UnmarshalJSON accepts the string-duration form produced by MarshalJSON.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Interval  string `json:"interval"`
		Tolerance string `json:"tolerance"`
		Pattern   string `json:"pattern,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if raw.Interval != "" {
		if s.Interval, err = time.ParseDuration(raw.Interval); err != nil {
			return fmt.Errorf("invalid schedule interval %q: %w", raw.Interval, err)
		}
	}
	if raw.Tolerance != "" {
		if s.Tolerance, err = time.ParseDuration(raw.Tolerance); err != nil {
			return fmt.Errorf("invalid schedule tolerance %q: %w", raw.Tolerance, err)
		}
	}
	s.Pattern = raw.Pattern
	return nil
}

// SessionState is the recovery state machine position for a session.
type SessionState string

const (
	StateNominal    SessionState = "nominal"
	StateFlagged    SessionState = "flagged"
	StateRecovering SessionState = "recovering"
	// StateEscalated is terminal until an operator resets the session.
	StateEscalated SessionState = "escalated"
)

// Session is the unit of monitoring. Owned exclusively by the store;
// mutated only through append, compress, state, and terminate operations.
type Session struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"created_at"`
	Schedule     Schedule     `json:"schedule"`
	State        SessionState `json:"state"`
	Attempts     int          `json:"attempts"`
	Terminated   bool         `json:"terminated"`
	TerminatedAt time.Time    `json:"terminated_at,omitempty"`
}

// DriftType classifies a detected deviation.
type DriftType string

const (
	// DriftTiming: the agent is overdue relative to its schedule.
	DriftTiming DriftType = "timing"
	// DriftContent: the latest agent action does not resemble the
	// expected pattern.
	DriftContent DriftType = "content"
	// DriftOmission: the agent has missed multiple whole intervals.
	DriftOmission DriftType = "omission"
)

// Severity grades a drift event.
type Severity string

const (
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// DriftEvent records one detected deviation. Created by the detector,
// consumed by the recovery controller, retained by the store for audit.
type DriftEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      DriftType `json:"type"`
	Severity  Severity  `json:"severity"`
	Observed  string    `json:"observed"`
	Expected  string    `json:"expected"`
	Timestamp time.Time `json:"timestamp"`
}

// Tier identifies a compression tier, ordered newest to oldest.
type Tier string

const (
	// TierImmediate holds the most recent actions verbatim.
	TierImmediate Tier = "immediate"
	// TierRecent holds per-action summary lines for the middle span.
	TierRecent Tier = "recent"
	// TierHistorical holds a single rolling digest of everything older.
	TierHistorical Tier = "historical"
)

// Summary is one tier of the compressed representation of a session's
// history. StartSeq/EndSeq delimit the raw actions the tier covers
// (zero when the tier is empty).
type Summary struct {
	SessionID  string    `json:"session_id"`
	Tier       Tier      `json:"tier"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	StartSeq   int       `json:"start_seq"`
	EndSeq     int       `json:"end_seq"`
	StaleAt    time.Time `json:"stale_at"`
}

// SessionSnapshot is a read-consistent view of one session, taken inside
// a single store transaction. Detector and compressor sweeps operate on
// snapshots so concurrent appends or termination never produce a torn read.
type SessionSnapshot struct {
	Session Session
	Actions []Action
	Tiers   []Summary
	TakenAt time.Time
}

// LastAgentAction returns the most recent agent-sourced action and
// whether one exists.
func (s SessionSnapshot) LastAgentAction() (Action, bool) {
	for i := len(s.Actions) - 1; i >= 0; i-- {
		if s.Actions[i].Source == SourceAgent {
			return s.Actions[i], true
		}
	}
	return Action{}, false
}

// Instructions returns the operator-injected actions in insertion order.
func (s SessionSnapshot) Instructions() []Action {
	var out []Action
	for _, a := range s.Actions {
		if a.IsInstruction() {
			out = append(out, a)
		}
	}
	return out
}
