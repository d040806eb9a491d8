// Package compress folds accumulated session history into a bounded,
// tiered representation: the newest actions verbatim, a per-action
// summary for the middle span, and a single rolling digest for
// everything older. Operator instructions survive verbatim in whichever
// tier covers them, whatever the budgets say.
package compress

import (
	"fmt"
	"strings"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Settings are the resolved compression parameters.
type Settings struct {
	TokenBudget      int
	ImmediateBudget  int
	RecentBudget     int
	HistoricalBudget int
	RecentWindow     int
	TriggerThreshold float64
	// Staleness horizon for tier content before a recompute is due.
	Staleness time.Duration
}

// SettingsFromConfig resolves compressor settings from the config
// section.
func SettingsFromConfig(cfg config.CompressionConfig) Settings {
	return Settings{
		TokenBudget:      cfg.TokenBudget,
		ImmediateBudget:  cfg.TokenBudget * cfg.ImmediatePercent / 100,
		RecentBudget:     cfg.TokenBudget * cfg.RecentPercent / 100,
		HistoricalBudget: cfg.TokenBudget * cfg.HistoricalPercent / 100,
		RecentWindow:     cfg.RecentWindow,
		TriggerThreshold: cfg.TriggerThreshold,
		Staleness:        time.Hour,
	}
}

// Compressor produces tiered summaries of session history.
type Compressor struct {
	settings Settings
	counter  *TokenCounter
	now      func() time.Time
}

// New creates a compressor with the given settings.
func New(settings Settings) *Compressor {
	return &Compressor{settings: settings, counter: NewTokenCounter(), now: time.Now}
}

// NewAt creates a compressor with a fixed clock. Test hook.
func NewAt(settings Settings, now func() time.Time) *Compressor {
	return &Compressor{settings: settings, counter: NewTokenCounter(), now: now}
}

// ShouldCompress reports whether the raw history has outgrown the
// trigger threshold of the token budget.
func (c *Compressor) ShouldCompress(snap types.SessionSnapshot) bool {
	raw := c.counter.CountActions(snap.Actions)
	return float64(raw) > c.settings.TriggerThreshold*float64(c.settings.TokenBudget)
}

// Compress produces the tier set for a snapshot. Idempotent over an
// unchanged snapshot: spans and content are equal on a re-run (StaleAt
// moves with the clock). Tiers with nothing to cover are omitted.
func (c *Compressor) Compress(snap types.SessionSnapshot) ([]types.Summary, error) {
	timer := logging.StartTimer(logging.CategoryCompressor, "Compress")
	defer timer.Stop()

	actions := snap.Actions
	if len(actions) == 0 {
		return nil, nil
	}

	staleAt := c.now().UTC().Add(c.settings.Staleness)
	sessionID := snap.Session.ID

	// Split newest-first: immediate window, then an equally sized recent
	// span, then everything older.
	immStart := len(actions) - c.settings.RecentWindow
	if immStart < 0 {
		immStart = 0
	}
	recStart := immStart - c.settings.RecentWindow
	if recStart < 0 {
		recStart = 0
	}

	immediate := actions[immStart:]
	recent := actions[recStart:immStart]
	historical := actions[:recStart]

	var tiers []types.Summary

	if len(immediate) > 0 {
		content := c.renderVerbatim(immediate, c.settings.ImmediateBudget)
		tiers = append(tiers, types.Summary{
			SessionID:  sessionID,
			Tier:       types.TierImmediate,
			Content:    content,
			TokenCount: c.counter.CountString(content),
			StartSeq:   immediate[0].Seq,
			EndSeq:     immediate[len(immediate)-1].Seq,
			StaleAt:    staleAt,
		})
	}

	if len(recent) > 0 {
		content := c.renderSummaryLines(recent, c.settings.RecentBudget)
		tiers = append(tiers, types.Summary{
			SessionID:  sessionID,
			Tier:       types.TierRecent,
			Content:    content,
			TokenCount: c.counter.CountString(content),
			StartSeq:   recent[0].Seq,
			EndSeq:     recent[len(recent)-1].Seq,
			StaleAt:    staleAt,
		})
	}

	if len(historical) > 0 {
		content := c.renderDigest(historical, c.settings.HistoricalBudget)
		tiers = append(tiers, types.Summary{
			SessionID:  sessionID,
			Tier:       types.TierHistorical,
			Content:    content,
			TokenCount: c.counter.CountString(content),
			StartSeq:   historical[0].Seq,
			EndSeq:     historical[len(historical)-1].Seq,
			StaleAt:    staleAt,
		})
	}

	rawTokens := c.counter.CountActions(actions)
	compressedTokens := 0
	for _, t := range tiers {
		compressedTokens += t.TokenCount
	}
	logging.Get(logging.CategoryCompressor).Debug(
		"Compressed session=%s actions=%d raw_tokens=%d compressed_tokens=%d tiers=%d",
		sessionID, len(actions), rawTokens, compressedTokens, len(tiers))

	return tiers, nil
}

// renderVerbatim keeps full payloads, one block per action. When the
// rendered tier exceeds its budget, agent payloads are truncated to an
// even share of what remains after instructions; instruction lines stay
// verbatim whatever the budget says.
func (c *Compressor) renderVerbatim(actions []types.Action, budget int) string {
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = fmt.Sprintf("[%d %s %s] %s",
			a.Seq, a.Timestamp.UTC().Format(time.RFC3339), a.Source, a.Payload)
	}
	content := strings.Join(lines, "\n")
	if budget <= 0 || c.counter.CountString(content) <= budget {
		return content
	}

	// Reserve one token per line for joins and rounding so the tier
	// stays within budget after truncation.
	remaining := budget - len(actions)
	agents := 0
	for i, a := range actions {
		if a.IsInstruction() {
			remaining -= c.counter.CountString(lines[i])
		} else {
			agents++
		}
	}
	perLine := 1
	if agents > 0 && remaining > agents {
		perLine = remaining / agents
	}
	for i, a := range actions {
		if a.IsInstruction() {
			continue
		}
		if c.counter.CountString(lines[i]) > perLine {
			lines[i] = truncateToTokens(lines[i], perLine, c.counter)
		}
	}
	return strings.Join(lines, "\n")
}

// renderSummaryLines emits one truncated line per action, trimming
// agent lines to fit the tier budget. Instruction lines are never
// truncated or dropped: the budget yields before the invariant does.
func (c *Compressor) renderSummaryLines(actions []types.Action, budget int) string {
	var lines []string
	perLine := 0
	if n := len(actions); n > 0 && budget > 0 {
		perLine = budget / n
	}

	for _, a := range actions {
		var line string
		if a.IsInstruction() {
			line = fmt.Sprintf("[%d instruction] %s", a.Seq, a.Payload)
		} else {
			line = fmt.Sprintf("[%d %s] %s", a.Seq, a.Source, headWords(a.Payload, 12))
			if perLine > 0 && c.counter.CountString(line) > perLine {
				line = truncateToTokens(line, perLine, c.counter)
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// renderDigest folds the oldest span into counts plus the verbatim
// instruction trail. Instructions outrank the budget; only the digest
// line itself is trimmed when instructions leave no room.
func (c *Compressor) renderDigest(actions []types.Action, budget int) string {
	agentCount := 0
	var instructions []types.Action
	for _, a := range actions {
		if a.IsInstruction() {
			instructions = append(instructions, a)
		} else {
			agentCount++
		}
	}

	line := fmt.Sprintf("digest: %d agent actions between seq %d and %d (%s .. %s)",
		agentCount, actions[0].Seq, actions[len(actions)-1].Seq,
		actions[0].Timestamp.UTC().Format(time.RFC3339),
		actions[len(actions)-1].Timestamp.UTC().Format(time.RFC3339))
	if budget > 0 {
		remaining := budget
		for _, ins := range instructions {
			remaining -= c.counter.CountAction(ins)
		}
		if remaining > 0 && c.counter.CountString(line) > remaining {
			line = truncateToTokens(line, remaining, c.counter)
		}
	}

	var sb strings.Builder
	sb.WriteString(line)
	for _, ins := range instructions {
		fmt.Fprintf(&sb, "\n[%d instruction] %s", ins.Seq, ins.Payload)
	}
	return sb.String()
}

// CoversInstructions verifies the tier set retains every instruction in
// the snapshot verbatim. Used by tests and the monitor's sanity check.
func CoversInstructions(snap types.SessionSnapshot, tiers []types.Summary) bool {
	for _, ins := range snap.Instructions() {
		found := false
		for _, t := range tiers {
			if strings.Contains(t.Content, ins.Payload) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func headWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:n], " ") + " …"
}

func truncateToTokens(s string, tokens int, tc *TokenCounter) string {
	limit := int(float64(tokens) * tc.charsPerToken)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit >= len(runes) {
		return s
	}
	return string(runes[:limit]) + "…"
}
