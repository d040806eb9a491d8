package compress

import (
	"unicode/utf8"

	"driftwatch/internal/types"
)

// TokenCounter estimates token usage for budget decisions. The heuristic
// is the usual ~4 characters per token; budgets here guard against
// unbounded growth, not billing, so a rough estimate is enough.
type TokenCounter struct {
	charsPerToken float64
}

// NewTokenCounter creates a counter with default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	return int(float64(utf8.RuneCountInString(s)) / tc.charsPerToken)
}

// CountAction estimates tokens for one recorded action, including its
// framing overhead (timestamp, source marker).
func (tc *TokenCounter) CountAction(a types.Action) int {
	return 8 + tc.CountString(a.Payload)
}

// CountActions estimates tokens for a slice of actions.
func (tc *TokenCounter) CountActions(actions []types.Action) int {
	total := 0
	for _, a := range actions {
		total += tc.CountAction(a)
	}
	return total
}
