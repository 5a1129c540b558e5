// Package platform holds the host resources a call session coordinates:
// retention locks, audio focus, the ringer and connectivity changes.
package platform

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Lock is a held/released resource. Acquire and Release are idempotent and
// report whether they changed anything.
type Lock interface {
	Acquire() bool
	Release() bool
	Held() bool
}

// GuardedLock tracks a named retention lock and runs optional hooks on the
// real transitions only.
type GuardedLock struct {
	name      string
	held      atomic.Bool
	onAcquire func()
	onRelease func()
	logger    *slog.Logger
}

// NewGuardedLock creates a lock. Either hook may be nil.
func NewGuardedLock(name string, onAcquire, onRelease func(), logger *slog.Logger) *GuardedLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedLock{name: name, onAcquire: onAcquire, onRelease: onRelease, logger: logger}
}

func (l *GuardedLock) Acquire() bool {
	if !l.held.CompareAndSwap(false, true) {
		return false
	}
	if l.onAcquire != nil {
		l.onAcquire()
	}
	l.logger.Debug("[Platform] Lock acquired", "lock", l.name)
	return true
}

func (l *GuardedLock) Release() bool {
	if !l.held.CompareAndSwap(true, false) {
		return false
	}
	if l.onRelease != nil {
		l.onRelease()
	}
	l.logger.Debug("[Platform] Lock released", "lock", l.name)
	return true
}

func (l *GuardedLock) Held() bool {
	return l.held.Load()
}

// AudioFocus is a transient exclusive claim on audio output.
type AudioFocus interface {
	// Request asks for focus once; it reports whether focus is held afterwards.
	Request() bool
	// Abandon gives focus back if held.
	Abandon() bool
	Granted() bool
}

// LocalAudioFocus grants focus unless another holder has it.
type LocalAudioFocus struct {
	mu       sync.Mutex
	granted  bool
	requests int
	logger   *slog.Logger
}

// NewLocalAudioFocus returns an audio focus that is always granted.
func NewLocalAudioFocus(logger *slog.Logger) *LocalAudioFocus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalAudioFocus{logger: logger}
}

func (f *LocalAudioFocus) Request() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.granted {
		return true
	}
	f.requests++
	f.granted = true
	f.logger.Debug("[Platform] Audio focus granted")
	return true
}

func (f *LocalAudioFocus) Abandon() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.granted {
		return false
	}
	f.granted = false
	f.logger.Debug("[Platform] Audio focus abandoned")
	return true
}

func (f *LocalAudioFocus) Granted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted
}

// Requests returns how many times focus was actually requested.
func (f *LocalAudioFocus) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

var (
	_ Lock       = (*GuardedLock)(nil)
	_ AudioFocus = (*LocalAudioFocus)(nil)
)
