package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"driftwatch/internal/logging"
)

// Alert is what the operator sees when a session escalates.
type Alert struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter delivers escalation alerts to an operator channel.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// FileAlerter appends alerts as JSON lines to a file the operator tails.
// Writes respect the context deadline; a stuck filesystem cannot wedge
// the controller.
type FileAlerter struct {
	path string
}

// NewFileAlerter creates an alerter writing to the given path.
func NewFileAlerter(path string) *FileAlerter {
	return &FileAlerter{path: path}
}

// Alert appends one JSON line. The write runs in a goroutine bounded by
// ctx so the caller's timeout holds even on a blocking open.
func (f *FileAlerter) Alert(ctx context.Context, alert Alert) error {
	done := make(chan error, 1)
	go func() {
		done <- f.write(alert)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("alert write timed out: %w", ctx.Err())
	}
}

func (f *FileAlerter) write(alert Alert) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create alert directory: %w", err)
		}
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open alert file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}

	logging.Get(logging.CategoryAlert).Info("Alert written: session=%s reason=%s",
		alert.SessionID, alert.Reason)
	return nil
}
