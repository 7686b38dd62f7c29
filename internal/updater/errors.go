package updater

import (
	"errors"
	"fmt"
)

// ErrNoPendingUpdate signals that apply was called with nothing queued.
// It is a normal empty-state signal, not a system fault.
var ErrNoPendingUpdate = errors.New("no pending update found")

// DetectionError wraps a failure of the detection collaborator.
type DetectionError struct {
	Cause error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("update check failed: %v", e.Cause)
}

func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// ExecutionError signals that the execution collaborator could not apply an
// update. The pending update is retained for retry.
type ExecutionError struct {
	Version string
	Reason  string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to apply update %s: %s", e.Version, e.Reason)
}
