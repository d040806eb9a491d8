// Package recovery drives the per-session corrective state machine:
//
//	Nominal -> Flagged -> (Recovering -> Nominal) | Escalated
//
// Any drift event flags a session; flagging triggers re-injection of the
// session's original instructions; a compliant observation while
// recovering returns it to nominal; burning through the retry budget
// escalates to the operator. Escalated is terminal until a manual reset.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Store is the slice of the session store the controller needs.
type Store interface {
	GetSession(sessionID string) (types.Session, error)
	Append(sessionID string, payload string, source types.ActionSource) (types.Action, error)
	SetSessionState(sessionID string, state types.SessionState, attempts int) error
	GetHistory(sessionID string) ([]types.Action, error)
}

// Controller orchestrates corrective action on detected drift.
type Controller struct {
	mu      sync.Mutex
	store   Store
	alerter Alerter

	retryBudget  int
	alertTimeout time.Duration
}

// New creates a controller.
func New(store Store, alerter Alerter, cfg config.RecoveryConfig) *Controller {
	return &Controller{
		store:        store,
		alerter:      alerter,
		retryBudget:  cfg.RetryBudget,
		alertTimeout: cfg.AlertTimeoutDuration(),
	}
}

// HandleSweep advances the state machine for one session after a drift
// check. compliant reports whether the snapshot currently satisfies its
// schedule; events are the deviations detected in the same sweep.
// Returns RecoveryExhaustedError once the session escalates.
func (c *Controller) HandleSweep(ctx context.Context, sessionID string, compliant bool, events []types.DriftEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.Terminated {
		return nil
	}

	switch session.State {
	case types.StateEscalated:
		// Terminal; only Reset moves it.
		return nil

	case types.StateNominal:
		if len(events) == 0 {
			return nil
		}
		logging.RecoveryInfo("Session %s flagged (%d drift events)", sessionID, len(events))
		if err := c.store.SetSessionState(sessionID, types.StateFlagged, session.Attempts); err != nil {
			return err
		}
		return c.attemptRecovery(ctx, sessionID, session.Attempts)

	case types.StateFlagged:
		return c.attemptRecovery(ctx, sessionID, session.Attempts)

	case types.StateRecovering:
		if compliant {
			logging.RecoveryInfo("Session %s recovered, back to nominal", sessionID)
			return c.store.SetSessionState(sessionID, types.StateNominal, 0)
		}
		if len(events) == 0 {
			// Still waiting on the agent; keep the attempt standing.
			return nil
		}
		return c.attemptRecovery(ctx, sessionID, session.Attempts)

	default:
		return fmt.Errorf("session %s in unknown state %q", sessionID, session.State)
	}
}

// attemptRecovery re-injects the original instructions, or escalates
// when the retry budget is spent. Caller holds c.mu.
func (c *Controller) attemptRecovery(ctx context.Context, sessionID string, attempts int) error {
	if attempts >= c.retryBudget {
		return c.escalate(ctx, sessionID, attempts)
	}

	history, err := c.store.GetHistory(sessionID)
	if err != nil {
		return err
	}
	// Collect the distinct instruction set; earlier re-injections are
	// themselves operator actions and must not snowball.
	var instructions []string
	seen := make(map[string]struct{})
	for _, a := range history {
		if !a.IsInstruction() {
			continue
		}
		if _, dup := seen[a.Payload]; dup {
			continue
		}
		seen[a.Payload] = struct{}{}
		instructions = append(instructions, a.Payload)
	}
	payload := "resume original instructions"
	if len(instructions) > 0 {
		// Re-inject the instruction set verbatim; the earliest
		// instructions are the session's charter.
		payload = strings.Join(instructions, "\n")
	}

	if _, err := c.store.Append(sessionID, payload, types.SourceOperator); err != nil {
		return err
	}

	attempts++
	logging.RecoveryInfo("Session %s recovery attempt %d/%d: instructions re-injected",
		sessionID, attempts, c.retryBudget)
	return c.store.SetSessionState(sessionID, types.StateRecovering, attempts)
}

// escalate marks the session escalated and alerts the operator. Alert
// delivery failure is logged, never fatal: the state change is the
// source of truth.
func (c *Controller) escalate(ctx context.Context, sessionID string, attempts int) error {
	if err := c.store.SetSessionState(sessionID, types.StateEscalated, attempts); err != nil {
		return err
	}

	alertCtx, cancel := context.WithTimeout(ctx, c.alertTimeout)
	defer cancel()
	alert := Alert{
		SessionID: sessionID,
		Reason:    fmt.Sprintf("recovery exhausted after %d attempts", attempts),
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
	if err := c.alerter.Alert(alertCtx, alert); err != nil {
		logging.Get(logging.CategoryAlert).Error("Failed to deliver alert for session %s: %v",
			sessionID, err)
	}

	logging.RecoveryInfo("Session %s escalated after %d attempts", sessionID, attempts)
	return &types.RecoveryExhaustedError{SessionID: sessionID, Attempts: attempts}
}

// Reset manually returns an escalated session to nominal. Only valid
// from Escalated; the monitor handles every other state on its own.
func (c *Controller) Reset(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.State != types.StateEscalated {
		return fmt.Errorf("session %s is %s, not escalated; nothing to reset",
			sessionID, session.State)
	}

	logging.RecoveryInfo("Session %s manually reset", sessionID)
	return c.store.SetSessionState(sessionID, types.StateNominal, 0)
}
