package session

import "errors"

// Sentinel errors for use with errors.Is.
var (
	// ErrNotRunning indicates a command for a session that is not running.
	ErrNotRunning = errors.New("session not running")

	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrWorkerFailed indicates the engine worker kept dying and the session
	// gave up restarting it.
	ErrWorkerFailed = errors.New("engine worker failed repeatedly")
)
