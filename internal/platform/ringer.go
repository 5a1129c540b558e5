package platform

import (
	"fmt"
	"strings"
	"sync"
)

// RingerMode is the host's ringer volume mode.
type RingerMode int

const (
	RingerNormal RingerMode = iota
	RingerVibrate
	RingerSilent
)

func (m RingerMode) String() string {
	switch m {
	case RingerNormal:
		return "normal"
	case RingerVibrate:
		return "vibrate"
	case RingerSilent:
		return "silent"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseRingerMode parses a mode name.
func ParseRingerMode(s string) (RingerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return RingerNormal, nil
	case "vibrate":
		return RingerVibrate, nil
	case "silent":
		return RingerSilent, nil
	default:
		return RingerNormal, fmt.Errorf("unknown ringer mode %q", s)
	}
}

// Ringer reads and sets the ringer mode.
type Ringer interface {
	Mode() RingerMode
	SetMode(RingerMode)
}

// MemoryRinger keeps the ringer mode in process.
type MemoryRinger struct {
	mu   sync.Mutex
	mode RingerMode
	sets int
}

// NewMemoryRinger starts in mode.
func NewMemoryRinger(mode RingerMode) *MemoryRinger {
	return &MemoryRinger{mode: mode}
}

func (r *MemoryRinger) Mode() RingerMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *MemoryRinger) SetMode(mode RingerMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	r.sets++
}

// Sets returns how many times the mode was written.
func (r *MemoryRinger) Sets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets
}

// RingerSaver silences the ringer and restores it exactly once. It is not
// safe for concurrent use.
type RingerSaver struct {
	ringer Ringer
	saved  RingerMode
	active bool
}

// NewRingerSaver wraps ringer.
func NewRingerSaver(ringer Ringer) *RingerSaver {
	return &RingerSaver{ringer: ringer}
}

// Silence remembers the current mode and forces silence. A ringer that is
// already silent, or already saved, is left alone.
func (s *RingerSaver) Silence() bool {
	if s.active {
		return false
	}
	current := s.ringer.Mode()
	if current == RingerSilent {
		return false
	}
	s.saved = current
	s.active = true
	s.ringer.SetMode(RingerSilent)
	return true
}

// Restore puts back the saved mode if there is one.
func (s *RingerSaver) Restore() bool {
	if !s.active {
		return false
	}
	s.active = false
	s.ringer.SetMode(s.saved)
	return true
}

// Saved reports whether a mode is waiting to be restored.
func (s *RingerSaver) Saved() bool {
	return s.active
}
