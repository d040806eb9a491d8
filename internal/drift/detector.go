// Package drift compares observed agent behavior in a session snapshot
// against the session's expected schedule and emits drift events for
// timing, content, and omission deviations. The detector is pure over a
// snapshot and never schedules itself; the monitor (or the CLI) invokes
// it.
package drift

import (
	"fmt"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/types"

	"github.com/google/uuid"
)

// Settings are the resolved detection parameters. Per-session schedules
// override Interval and Tolerance; these supply the fallbacks.
type Settings struct {
	DefaultInterval  time.Duration
	DefaultTolerance time.Duration
	// ContentThreshold: similarity in (0,1] below which the latest agent
	// payload counts as content drift.
	ContentThreshold float64
	// OmissionIntervals: missing this many whole intervals emits an
	// omission event on top of the timing event.
	OmissionIntervals int
}

// SettingsFromConfig resolves detector settings from the config section.
func SettingsFromConfig(cfg config.DetectorConfig) Settings {
	return Settings{
		DefaultInterval:   cfg.DefaultIntervalDuration(),
		DefaultTolerance:  cfg.DefaultToleranceDuration(),
		ContentThreshold:  cfg.ContentThreshold,
		OmissionIntervals: cfg.OmissionIntervals,
	}
}

// Detector flags deviations between a session's schedule and its
// recorded history.
type Detector struct {
	settings Settings
	// now is swappable for tests.
	now func() time.Time
}

// New creates a detector with the given settings.
func New(settings Settings) *Detector {
	return &Detector{settings: settings, now: time.Now}
}

// NewAt creates a detector with a fixed clock. Test hook.
func NewAt(settings Settings, now func() time.Time) *Detector {
	return &Detector{settings: settings, now: now}
}

// Check inspects a snapshot and returns the drift events it warrants.
// Terminated sessions yield no events. No side effects.
func (d *Detector) Check(snap types.SessionSnapshot) []types.DriftEvent {
	timer := logging.StartTimer(logging.CategoryDetector, "Check")
	defer timer.Stop()

	if snap.Session.Terminated {
		return nil
	}

	interval := snap.Session.Schedule.Interval
	if interval <= 0 {
		interval = d.settings.DefaultInterval
	}
	tolerance := snap.Session.Schedule.Tolerance
	if tolerance <= 0 {
		tolerance = d.settings.DefaultTolerance
	}

	now := d.now().UTC()
	var events []types.DriftEvent

	// Timing: expected next action = last agent action + interval.
	// Sessions that have produced nothing yet measure from creation.
	last, ok := snap.LastAgentAction()
	reference := snap.Session.CreatedAt
	if ok {
		reference = last.Timestamp
	}
	expectedBy := reference.Add(interval)
	overdue := now.Sub(expectedBy)

	if overdue > tolerance {
		severity := types.SeverityWarn
		if overdue > 2*interval {
			severity = types.SeverityCritical
		}
		events = append(events, d.event(snap.Session.ID, types.DriftTiming, severity,
			fmt.Sprintf("last action %s ago", now.Sub(reference).Round(time.Second)),
			fmt.Sprintf("one action every %s (tolerance %s)", interval, tolerance),
			now))
		logging.DetectorDebug("Timing drift: session=%s overdue=%s severity=%s",
			snap.Session.ID, overdue.Round(time.Second), severity)

		// Omission: multiple whole intervals missed.
		if missed := int(overdue / interval); missed >= d.settings.OmissionIntervals {
			events = append(events, d.event(snap.Session.ID, types.DriftOmission, types.SeverityCritical,
				fmt.Sprintf("%d expected actions missed", missed),
				fmt.Sprintf("one action every %s", interval),
				now))
			logging.DetectorDebug("Omission drift: session=%s missed=%d", snap.Session.ID, missed)
		}
	}

	// Content: latest agent payload against the expected pattern.
	if pattern := snap.Session.Schedule.Pattern; pattern != "" && ok {
		score := Similarity(last.Payload, pattern)
		if score < d.settings.ContentThreshold {
			events = append(events, d.event(snap.Session.ID, types.DriftContent, types.SeverityWarn,
				fmt.Sprintf("similarity %.2f for action seq %d", score, last.Seq),
				fmt.Sprintf("similarity >= %.2f against pattern %q", d.settings.ContentThreshold, pattern),
				now))
			logging.DetectorDebug("Content drift: session=%s score=%.2f threshold=%.2f",
				snap.Session.ID, score, d.settings.ContentThreshold)
		}
	}

	return events
}

// Compliant reports whether the snapshot currently satisfies its
// schedule. The recovery controller uses this to decide whether an
// observation clears a recovering session.
func (d *Detector) Compliant(snap types.SessionSnapshot) bool {
	return len(d.Check(snap)) == 0
}

func (d *Detector) event(sessionID string, dt types.DriftType, sev types.Severity, observed, expected string, ts time.Time) types.DriftEvent {
	return types.DriftEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      dt,
		Severity:  sev,
		Observed:  observed,
		Expected:  expected,
		Timestamp: ts,
	}
}
