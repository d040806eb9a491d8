package compress

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSettings = Settings{
	TokenBudget:      1000,
	ImmediateBudget:  500,
	RecentBudget:     300,
	HistoricalBudget: 200,
	RecentWindow:     5,
	TriggerThreshold: 0.8,
	Staleness:        time.Hour,
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

// buildSnapshot creates a session with n actions; every 7th action is an
// operator instruction.
func buildSnapshot(n int) types.SessionSnapshot {
	base := fixedNow().Add(-time.Duration(n) * time.Minute)
	actions := make([]types.Action, 0, n)
	for i := 1; i <= n; i++ {
		source := types.SourceAgent
		payload := fmt.Sprintf("agent progress update number %d with routine detail", i)
		if i%7 == 0 {
			source = types.SourceOperator
			payload = fmt.Sprintf("instruction %d: keep reporting every five minutes", i)
		}
		actions = append(actions, types.Action{
			ID:        fmt.Sprintf("a-%d", i),
			SessionID: "sess-c",
			Seq:       i,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Payload:   payload,
			Source:    source,
		})
	}
	return types.SessionSnapshot{
		Session: types.Session{ID: "sess-c", CreatedAt: base},
		Actions: actions,
		TakenAt: fixedNow(),
	}
}

func TestCompressEmptyHistory(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	tiers, err := c.Compress(types.SessionSnapshot{Session: types.Session{ID: "s"}})
	require.NoError(t, err)
	assert.Nil(t, tiers)
}

func TestCompressShortHistoryStaysImmediate(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	snap := buildSnapshot(3)

	tiers, err := c.Compress(snap)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, types.TierImmediate, tiers[0].Tier)
	assert.Equal(t, 1, tiers[0].StartSeq)
	assert.Equal(t, 3, tiers[0].EndSeq)
	// Verbatim tier keeps full payloads.
	assert.Contains(t, tiers[0].Content, "agent progress update number 2")
}

func TestCompressProducesThreeTiers(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	snap := buildSnapshot(30)

	tiers, err := c.Compress(snap)
	require.NoError(t, err)
	require.Len(t, tiers, 3)

	assert.Equal(t, types.TierImmediate, tiers[0].Tier)
	assert.Equal(t, 26, tiers[0].StartSeq)
	assert.Equal(t, 30, tiers[0].EndSeq)

	assert.Equal(t, types.TierRecent, tiers[1].Tier)
	assert.Equal(t, 21, tiers[1].StartSeq)
	assert.Equal(t, 25, tiers[1].EndSeq)

	assert.Equal(t, types.TierHistorical, tiers[2].Tier)
	assert.Equal(t, 1, tiers[2].StartSeq)
	assert.Equal(t, 20, tiers[2].EndSeq)

	// Tiers cover the whole history with no gap.
	assert.Equal(t, tiers[2].EndSeq+1, tiers[1].StartSeq)
	assert.Equal(t, tiers[1].EndSeq+1, tiers[0].StartSeq)
}

func TestCompressIsIdempotent(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	snap := buildSnapshot(30)

	first, err := c.Compress(snap)
	require.NoError(t, err)
	second, err := c.Compress(snap)
	require.NoError(t, err)

	// Equivalent output on unchanged input; only the staleness stamp may
	// move with the clock.
	diff := cmp.Diff(first, second, cmpopts.IgnoreFields(types.Summary{}, "StaleAt"))
	assert.Empty(t, diff)
}

func TestInstructionsPreservedVerbatim(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	snap := buildSnapshot(50)

	tiers, err := c.Compress(snap)
	require.NoError(t, err)

	assert.True(t, CoversInstructions(snap, tiers),
		"every operator instruction must appear verbatim in some tier")

	// Instructions deep in history land in the historical digest.
	historical := tiers[len(tiers)-1]
	require.Equal(t, types.TierHistorical, historical.Tier)
	assert.Contains(t, historical.Content, "instruction 7: keep reporting every five minutes")
}

func TestInstructionsSurviveTinyBudgets(t *testing.T) {
	tiny := testSettings
	tiny.TokenBudget = 40
	tiny.ImmediateBudget = 20
	tiny.RecentBudget = 12
	tiny.HistoricalBudget = 8

	c := NewAt(tiny, fixedNow)
	snap := buildSnapshot(50)

	tiers, err := c.Compress(snap)
	require.NoError(t, err)
	assert.True(t, CoversInstructions(snap, tiers),
		"budgets must never drop an instruction")
}

func TestRecentTierTruncatesAgentLines(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	snap := buildSnapshot(30)

	// Inflate one mid-history agent payload.
	long := strings.Repeat("verbose detail ", 200)
	snap.Actions[22].Payload = long // seq 23, in the recent span

	tiers, err := c.Compress(snap)
	require.NoError(t, err)
	recent := tiers[1]
	require.Equal(t, types.TierRecent, recent.Tier)
	assert.Less(t, len(recent.Content), len(long),
		"recent tier must summarize, not carry the full payload")
}

func TestImmediateTierHonorsBudget(t *testing.T) {
	c := NewAt(testSettings, fixedNow)
	snap := buildSnapshot(5)

	// Verbose agent payloads must not blow the verbatim tier past its
	// share of the token budget.
	long := strings.Repeat("exhaustive diagnostic output ", 300)
	for i := range snap.Actions {
		snap.Actions[i].Payload = long
	}
	snap.Actions[2].Source = types.SourceOperator
	snap.Actions[2].Payload = "report cpu and memory readings every minute"

	tiers, err := c.Compress(snap)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	require.Equal(t, types.TierImmediate, tiers[0].Tier)
	assert.LessOrEqual(t, tiers[0].TokenCount, testSettings.ImmediateBudget)
	assert.True(t, CoversInstructions(snap, tiers),
		"truncation must never touch instruction lines")
}

func TestHistoricalDigestHonorsBudget(t *testing.T) {
	shallow := testSettings
	shallow.HistoricalBudget = 10

	c := NewAt(shallow, fixedNow)
	snap := buildSnapshot(30)
	for i := range snap.Actions {
		if snap.Actions[i].Source == types.SourceOperator {
			// No instructions: the whole budget bounds the digest line.
			snap.Actions[i].Source = types.SourceAgent
		}
	}

	tiers, err := c.Compress(snap)
	require.NoError(t, err)
	historical := tiers[len(tiers)-1]
	require.Equal(t, types.TierHistorical, historical.Tier)
	assert.LessOrEqual(t, historical.TokenCount, shallow.HistoricalBudget)
}

func TestShouldCompress(t *testing.T) {
	c := NewAt(testSettings, fixedNow)

	assert.False(t, c.ShouldCompress(buildSnapshot(3)))

	big := buildSnapshot(10)
	for i := range big.Actions {
		big.Actions[i].Payload = strings.Repeat("chatter ", 100)
	}
	assert.True(t, c.ShouldCompress(big))
}

func TestTokenCounter(t *testing.T) {
	tc := NewTokenCounter()
	assert.Equal(t, 0, tc.CountString(""))
	assert.Equal(t, 3, tc.CountString("hello a dozen"))

	a := types.Action{Payload: "12345678"}
	assert.Equal(t, 10, tc.CountAction(a))
	assert.Equal(t, 20, tc.CountActions([]types.Action{a, a}))
}
