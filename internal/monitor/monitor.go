// Package monitor runs the periodic sweep loop: every interval it
// snapshots each live session, runs the drift detector, feeds the
// recovery controller, and compresses history that has outgrown its
// budget. The loop owns no policy; detector, compressor, and controller
// do the thinking.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"driftwatch/internal/compress"
	"driftwatch/internal/config"
	"driftwatch/internal/drift"
	"driftwatch/internal/logging"
	"driftwatch/internal/recovery"
	"driftwatch/internal/store"
	"driftwatch/internal/types"

	"golang.org/x/sync/errgroup"
)

// Monitor coordinates periodic drift checks and compression across all
// live sessions.
type Monitor struct {
	mu sync.RWMutex

	store      *store.SessionStore
	detector   *drift.Detector
	compressor *compress.Compressor
	controller *recovery.Controller

	sweepInterval time.Duration
	sweepTimeout  time.Duration
	maxParallel   int

	reloader *ConfigReloader

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a monitor from the full configuration.
func New(s *store.SessionStore, controller *recovery.Controller, cfg *config.Config) *Monitor {
	return &Monitor{
		store:         s,
		detector:      drift.New(drift.SettingsFromConfig(cfg.Detector)),
		compressor:    compress.New(compress.SettingsFromConfig(cfg.Compression)),
		controller:    controller,
		sweepInterval: cfg.Monitor.SweepIntervalDuration(),
		sweepTimeout:  cfg.Monitor.SweepTimeoutDuration(),
		maxParallel:   cfg.Monitor.MaxParallel,
	}
}

// Start begins the sweep loop. Non-blocking; idempotent while running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stop, done := m.stopCh, m.doneCh
	m.mu.Unlock()

	logging.Get(logging.CategoryMonitor).Info("Monitor started: sweep every %s", m.sweepInterval)
	go m.run(ctx, stop, done)
}

// Stop halts the loop and waits briefly for the in-flight sweep.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Get(logging.CategoryMonitor).Warn("Timed out waiting for sweep to finish")
	}
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logging.Get(logging.CategoryMonitor).Error("Sweep failed: %v", err)
			}
		}
	}
}

// Sweep runs one pass over all live sessions. Exported so the CLI can
// trigger a single pass without the loop.
func (m *Monitor) Sweep(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryMonitor, "Sweep")
	defer timer.StopWithThreshold(m.sweepTimeout / 2)

	sweepCtx, cancel := context.WithTimeout(ctx, m.sweepTimeout)
	defer cancel()

	ids, err := m.store.LiveSessionIDs()
	if err != nil {
		return err
	}
	logging.MonitorDebug("Sweeping %d live sessions", len(ids))

	m.mu.RLock()
	detector, compressor := m.detector, m.compressor
	m.mu.RUnlock()

	eg, egCtx := errgroup.WithContext(sweepCtx)
	eg.SetLimit(m.maxParallel)

	for _, id := range ids {
		id := id
		eg.Go(func() error {
			if err := m.sweepSession(egCtx, id, detector, compressor); err != nil {
				// One bad session must not sink the sweep; escalations
				// and vanished sessions are expected here.
				var exhausted *types.RecoveryExhaustedError
				var nf *types.NotFoundError
				if !errors.As(err, &exhausted) && !errors.As(err, &nf) {
					logging.Get(logging.CategoryMonitor).Error("Session %s sweep failed: %v", id, err)
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (m *Monitor) sweepSession(ctx context.Context, sessionID string, detector *drift.Detector, compressor *compress.Compressor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := m.store.Snapshot(sessionID)
	if err != nil {
		return err
	}
	// Session may have been terminated between listing and snapshot.
	if snap.Session.Terminated {
		return nil
	}

	events := detector.Check(snap)
	for _, e := range events {
		if err := m.store.RecordDriftEvent(e); err != nil {
			return err
		}
	}

	if err := m.controller.HandleSweep(ctx, sessionID, len(events) == 0, events); err != nil {
		return err
	}

	if compressor.ShouldCompress(snap) {
		tiers, err := compressor.Compress(snap)
		if err != nil {
			return err
		}
		if !compress.CoversInstructions(snap, tiers) {
			// Never persist a tier set that lost an instruction.
			logging.Get(logging.CategoryCompressor).Error(
				"Refusing to save tiers for session %s: instruction coverage failed", sessionID)
			return nil
		}
		if err := m.store.SaveTiers(sessionID, tiers); err != nil {
			return err
		}
	}
	return nil
}

// ApplySettings swaps detector and compressor settings between sweeps.
// Called by the config reloader.
func (m *Monitor) ApplySettings(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detector = drift.New(drift.SettingsFromConfig(cfg.Detector))
	m.compressor = compress.New(compress.SettingsFromConfig(cfg.Compression))
	logging.Get(logging.CategoryMonitor).Info("Detector and compressor settings reloaded")
}

// WatchConfig starts hot reload of the given config file. Returns the
// reloader so the caller can close it on shutdown.
func (m *Monitor) WatchConfig(path string) (*ConfigReloader, error) {
	r, err := NewConfigReloader(path, m.ApplySettings)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.reloader = r
	m.mu.Unlock()
	r.Start()
	return r, nil
}
