package types

import "fmt"

// NotFoundError reports an operation against an unknown or terminated
// session.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// StorageError wraps a persistence failure. Transient storage errors are
// retried with backoff inside the store; what escapes is persistent.
type StorageError struct {
	Op   string // "open", "create", "append", "query", "migrate"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// RecoveryExhaustedError reports that a session burned through its retry
// budget and has been escalated to the operator.
type RecoveryExhaustedError struct {
	SessionID string
	Attempts  int
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("recovery exhausted for session %s after %d attempts", e.SessionID, e.Attempts)
}
