// Package enginetest provides an in-memory Engine for tests.
package enginetest

import (
	"sync"

	"github.com/sebas/softline/internal/engine"
)

// Engine records commands and lets tests emit events.
type Engine struct {
	mu         sync.Mutex
	sink       engine.Sink
	commands   []string
	muted      []bool
	volumes    []engine.Volumes
	activeCall bool
	closed     bool
	panicOn    string
	iterations int
}

// Factory returns an engine.Factory that hands out e.
func (e *Engine) Factory() engine.Factory {
	return func(sink engine.Sink) (engine.Engine, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.sink = sink
		e.closed = false
		return e, nil
	}
}

// Emit delivers ev as if it came from Iterate.
func (e *Engine) Emit(ev engine.Event) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	sink(ev)
}

// SetActiveCall sets what HasActiveCall reports.
func (e *Engine) SetActiveCall(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeCall = active
}

// PanicOn makes the named command panic once.
func (e *Engine) PanicOn(command string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panicOn = command
}

// Commands returns the commands received so far.
func (e *Engine) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Count returns how often command was received.
func (e *Engine) Count(command string) int {
	n := 0
	for _, c := range e.Commands() {
		if c == command {
			n++
		}
	}
	return n
}

// Muted returns the microphone mute settings in order.
func (e *Engine) Muted() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.muted...)
}

// Volumes returns the volume settings in order.
func (e *Engine) Volumes() []engine.Volumes {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Volumes(nil), e.volumes...)
}

// Closed reports whether Close was called since the last Factory call.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) record(command string) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	p := e.panicOn == command
	if p {
		e.panicOn = ""
	}
	e.mu.Unlock()
	if p {
		panic("enginetest: " + command)
	}
}

func (e *Engine) Register(id, password string) error { e.record("register"); return nil }
func (e *Engine) Unregister() error                  { e.record("unregister"); return nil }
func (e *Engine) RefreshRegistration() error         { e.record("refresh"); return nil }
func (e *Engine) Call(id string) error               { e.record("call:" + id); return nil }
func (e *Engine) PickUp() error                      { e.record("pickup"); return nil }
func (e *Engine) TerminateAllCalls() error           { e.record("terminate"); return nil }
func (e *Engine) PauseCall() error                   { e.record("pause"); return nil }
func (e *Engine) ResumeCall() error                  { e.record("resume"); return nil }

func (e *Engine) VerifyAuthToken(verified bool) error {
	if verified {
		e.record("verify:true")
	} else {
		e.record("verify:false")
	}
	return nil
}

func (e *Engine) SetAudioVolumes(v engine.Volumes) error {
	e.record("volumes")
	e.mu.Lock()
	e.volumes = append(e.volumes, v)
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetMicrophoneMuted(muted bool) error {
	e.record("mute")
	e.mu.Lock()
	e.muted = append(e.muted, muted)
	e.mu.Unlock()
	return nil
}

func (e *Engine) HasActiveCall() bool {
	e.record("has_active_call")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCall
}

func (e *Engine) Iterate() {
	e.mu.Lock()
	e.iterations++
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ engine.Engine = (*Engine)(nil)
