package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrWorkerStopped indicates a job was offered to a stopped worker.
	ErrWorkerStopped = errors.New("engine worker stopped")

	// ErrNoActiveCall indicates a call command without a call.
	ErrNoActiveCall = errors.New("no active call")

	// ErrCallInProgress indicates a second call was attempted.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNotRegistered indicates a command that needs a registration.
	ErrNotRegistered = errors.New("not registered")
)

// CallError reports a call command the engine rejected.
type CallError struct {
	// Op is the rejected command, e.g. "call" or "pickup".
	Op string

	// Peer is the remote party, if known.
	Peer string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *CallError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a panic recovered on the worker goroutine.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("engine worker panic: %v", e.Value)
}
