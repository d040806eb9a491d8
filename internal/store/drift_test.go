package store

import (
	"testing"
	"time"

	"driftwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftEventAuditTrail(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession(testSchedule())
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	for i, dt := range []types.DriftType{types.DriftTiming, types.DriftContent, types.DriftOmission} {
		err := s.RecordDriftEvent(types.DriftEvent{
			SessionID: session.ID,
			Type:      dt,
			Severity:  types.SeverityWarn,
			Observed:  "observed",
			Expected:  "expected",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	events, err := s.ListDriftEvents(session.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.DriftTiming, events[0].Type)
	assert.Equal(t, types.DriftOmission, events[2].Type)

	limited, err := s.ListDriftEvents(session.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDriftEventForTerminatedSessionDropped(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession(testSchedule())
	require.NoError(t, err)
	require.NoError(t, s.Terminate(session.ID))

	err = s.RecordDriftEvent(types.DriftEvent{
		SessionID: session.ID,
		Type:      types.DriftTiming,
		Severity:  types.SeverityWarn,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	events, err := s.ListDriftEvents(session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDriftEventUnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordDriftEvent(types.DriftEvent{
		SessionID: "ghost",
		Type:      types.DriftTiming,
		Severity:  types.SeverityWarn,
		Timestamp: time.Now().UTC(),
	})
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
}
