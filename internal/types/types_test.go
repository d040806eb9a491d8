package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleJSONRoundTrip(t *testing.T) {
	s := Schedule{Interval: 5 * time.Minute, Tolerance: 30 * time.Second, Pattern: "heartbeat"}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"5m0s"`)

	var got Schedule
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, s, got)
}

func TestScheduleRejectsBadDuration(t *testing.T) {
	var s Schedule
	err := json.Unmarshal([]byte(`{"interval":"five minutes"}`), &s)
	assert.Error(t, err)
}

func TestSnapshotLastAgentAction(t *testing.T) {
	snap := SessionSnapshot{Actions: []Action{
		{Seq: 1, Source: SourceAgent, Payload: "first"},
		{Seq: 2, Source: SourceOperator, Payload: "do the thing"},
		{Seq: 3, Source: SourceAgent, Payload: "last"},
	}}

	last, ok := snap.LastAgentAction()
	require.True(t, ok)
	assert.Equal(t, 3, last.Seq)

	assert.Equal(t, []string{"do the thing"}, payloads(snap.Instructions()))

	_, ok = SessionSnapshot{}.LastAgentAction()
	assert.False(t, ok)
}

func TestStorageErrorCarriesOpAndUnwraps(t *testing.T) {
	cause := json.Unmarshal([]byte("{"), &struct{}{})
	err := &StorageError{Op: "create", Path: "/tmp/db", Err: cause}

	assert.Contains(t, err.Error(), "create")
	assert.Contains(t, err.Error(), "/tmp/db")
	assert.ErrorIs(t, err, cause)
}

func payloads(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Payload)
	}
	return out
}
