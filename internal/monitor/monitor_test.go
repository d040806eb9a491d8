package monitor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/recovery"
	"driftwatch/internal/store"
	"driftwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "monitor.db")
	cfg.Recovery.AlertPath = filepath.Join(t.TempDir(), "alerts.jsonl")
	cfg.Monitor.SweepInterval = "50ms"
	cfg.Monitor.SweepTimeout = "5s"
	return cfg
}

func newMonitor(t *testing.T, cfg *config.Config) (*Monitor, *store.SessionStore) {
	t.Helper()
	s, err := store.New(cfg.Storage.DatabasePath, cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	controller := recovery.New(s, recovery.NewFileAlerter(cfg.Recovery.AlertPath), cfg.Recovery)
	return New(s, controller, cfg), s
}

func TestStartStopLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	m, s := newMonitor(t, cfg)
	// Close the store's DB pool before the deferred leak check runs;
	// the t.Cleanup close in newMonitor fires only after defers.
	defer s.Close()

	m.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	m.Stop()

	// Stop again is a no-op.
	m.Stop()
}

func TestSweepFlagsOverdueSession(t *testing.T) {
	cfg := testConfig(t)
	m, s := newMonitor(t, cfg)

	session, err := s.CreateSession(types.Schedule{
		Interval:  10 * time.Millisecond,
		Tolerance: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = s.Append(session.ID, "report build status every cycle", types.SourceOperator)
	require.NoError(t, err)

	// Let the session fall behind its (tiny) schedule.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Sweep(context.Background()))

	got, err := s.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateRecovering, got.State)
	assert.Equal(t, 1, got.Attempts)

	events, err := s.ListDriftEvents(session.ID, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestSweepSkipsCompliantSession(t *testing.T) {
	cfg := testConfig(t)
	m, s := newMonitor(t, cfg)

	session, err := s.CreateSession(types.Schedule{
		Interval:  time.Hour,
		Tolerance: time.Hour,
	})
	require.NoError(t, err)
	_, err = s.Append(session.ID, "all quiet", types.SourceAgent)
	require.NoError(t, err)

	require.NoError(t, m.Sweep(context.Background()))

	got, err := s.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateNominal, got.State)
}

func TestSweepCompressesOvergrownHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compression.TokenBudget = 100
	cfg.Compression.RecentWindow = 3
	m, s := newMonitor(t, cfg)

	session, err := s.CreateSession(types.Schedule{Interval: time.Hour, Tolerance: time.Hour})
	require.NoError(t, err)
	_, err = s.Append(session.ID, "instruction: summarize the nightly job failures", types.SourceOperator)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := s.Append(session.ID, "routine chatter from the agent about the nightly job run", types.SourceAgent)
		require.NoError(t, err)
	}

	require.NoError(t, m.Sweep(context.Background()))

	tiers, err := s.LoadTiers(session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, tiers)

	// The instruction must be somewhere in the persisted tiers.
	var covered bool
	for _, tier := range tiers {
		if strings.Contains(tier.Content, "summarize the nightly job failures") {
			covered = true
		}
	}
	assert.True(t, covered)
}

func TestTerminateDuringSweepIsSafe(t *testing.T) {
	cfg := testConfig(t)
	m, s := newMonitor(t, cfg)

	// Many overdue sessions to stretch the sweep out.
	var ids []string
	for i := 0; i < 20; i++ {
		session, err := s.CreateSession(types.Schedule{
			Interval:  time.Millisecond,
			Tolerance: time.Millisecond,
		})
		require.NoError(t, err)
		ids = append(ids, session.ID)
	}
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- m.Sweep(context.Background())
	}()
	for _, id := range ids {
		require.NoError(t, s.Terminate(id))
	}
	require.NoError(t, <-done)

	// Terminated sessions keep no queued drift consequences: a second
	// sweep sees no live sessions and does nothing.
	require.NoError(t, m.Sweep(context.Background()))
}

func TestApplySettingsSwapsDetector(t *testing.T) {
	cfg := testConfig(t)
	m, s := newMonitor(t, cfg)

	session, err := s.CreateSession(types.Schedule{})
	require.NoError(t, err)

	// Defaults: 5m interval, so a fresh session is compliant.
	require.NoError(t, m.Sweep(context.Background()))
	got, err := s.GetSession(session.ID)
	require.NoError(t, err)
	require.Equal(t, types.StateNominal, got.State)

	// Shrink the default schedule drastically and sweep again.
	tight := *cfg
	tight.Detector.DefaultInterval = "1ms"
	tight.Detector.DefaultTolerance = "1ms"
	m.ApplySettings(&tight)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, m.Sweep(context.Background()))
	got, err = s.GetSession(session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, types.StateNominal, got.State)
}

func TestConfigReloaderAppliesValidChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	m, s := newMonitor(t, cfg)
	// Close the store's DB pool before the deferred leak check runs;
	// the t.Cleanup close in newMonitor fires only after defers.
	defer s.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	applied := make(chan *config.Config, 4)
	r, err := NewConfigReloader(path, func(c *config.Config) {
		applied <- c
		m.ApplySettings(c)
	})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	cfg.Detector.DefaultInterval = "90s"
	require.NoError(t, cfg.Save(path))

	select {
	case c := <-applied:
		assert.Equal(t, "90s", c.Detector.DefaultInterval)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not applied")
	}
}

func TestConfigReloaderAppliesLastOfRapidSaves(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	applied := make(chan *config.Config, 8)
	r, err := NewConfigReloader(path, func(c *config.Config) { applied <- c })
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	// Editors emit Create+Write bursts; the reload must reflect the
	// final file state, not the first event in the burst.
	cfg.Detector.DefaultInterval = "90s"
	require.NoError(t, cfg.Save(path))
	time.Sleep(100 * time.Millisecond)
	cfg.Detector.DefaultInterval = "42s"
	require.NoError(t, cfg.Save(path))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-applied:
			if c.Detector.DefaultInterval == "42s" {
				return
			}
		case <-deadline:
			t.Fatal("final config value was never applied")
		}
	}
}

func TestConfigReloaderIgnoresInvalidChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	applied := make(chan *config.Config, 4)
	r, err := NewConfigReloader(path, func(c *config.Config) { applied <- c })
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	// Broken threshold fails validation; nothing may be applied.
	bad := *cfg
	bad.Detector.ContentThreshold = 99
	require.NoError(t, bad.Save(path))

	select {
	case <-applied:
		t.Fatal("invalid config must not be applied")
	case <-time.After(1 * time.Second):
	}
}
