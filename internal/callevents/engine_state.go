// Package callevents holds the enumerations shared by every part of the call
// session: raw engine call states, end reasons, network quality buckets,
// registration states and session status, plus the pure mappings between them.
package callevents

import "fmt"

// EngineCallState is the raw call state reported by the SIP/media engine.
type EngineCallState int

const (
	// EngineIdle is the state before any call exists.
	EngineIdle EngineCallState = iota
	// EngineIncomingReceived is an incoming call that is ringing locally.
	EngineIncomingReceived
	// EngineOutgoingInit is an outgoing call that has just been created.
	EngineOutgoingInit
	// EngineOutgoingProgress is an outgoing call the server is working on (100 Trying).
	EngineOutgoingProgress
	// EngineOutgoingRinging is an outgoing call ringing at the remote party (180).
	EngineOutgoingRinging
	// EngineOutgoingEarlyMedia is an outgoing call receiving early media (183).
	EngineOutgoingEarlyMedia
	// EngineConnected is an answered call whose media is being set up.
	EngineConnected
	// EngineStreamsRunning is an answered call with media flowing.
	EngineStreamsRunning
	EnginePausing
	EnginePaused
	EngineResuming
	EngineReferred
	// EngineError is a call that failed.
	EngineError
	// EngineCallEnd is a call that ended normally.
	EngineCallEnd
	EnginePausedByRemote
	EngineUpdatedByRemote
	EngineIncomingEarlyMedia
	EngineUpdating
	// EngineReleased is a call whose resources have been freed.
	EngineReleased
)

// engineStateNames is the single source for both String and ParseEngineCallState.
// Lookups are by name so the numbering above can change freely.
var engineStateNames = map[EngineCallState]string{
	EngineIdle:               "Idle",
	EngineIncomingReceived:   "IncomingReceived",
	EngineOutgoingInit:       "OutgoingInit",
	EngineOutgoingProgress:   "OutgoingProgress",
	EngineOutgoingRinging:    "OutgoingRinging",
	EngineOutgoingEarlyMedia: "OutgoingEarlyMedia",
	EngineConnected:          "Connected",
	EngineStreamsRunning:     "StreamsRunning",
	EnginePausing:            "Pausing",
	EnginePaused:             "Paused",
	EngineResuming:           "Resuming",
	EngineReferred:           "Referred",
	EngineError:              "Error",
	EngineCallEnd:            "CallEnd",
	EnginePausedByRemote:     "PausedByRemote",
	EngineUpdatedByRemote:    "UpdatedByRemote",
	EngineIncomingEarlyMedia: "IncomingEarlyMedia",
	EngineUpdating:           "Updating",
	EngineReleased:           "Released",
}

var engineStatesByName = func() map[string]EngineCallState {
	m := make(map[string]EngineCallState, len(engineStateNames))
	for s, name := range engineStateNames {
		m[name] = s
	}
	return m
}()

// String returns the engine's name for the state.
func (s EngineCallState) String() string {
	if name, ok := engineStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Valid reports whether s is one of the named states.
func (s EngineCallState) Valid() bool {
	_, ok := engineStateNames[s]
	return ok
}

// ParseEngineCallState looks up a state by its engine name.
func ParseEngineCallState(name string) (EngineCallState, bool) {
	s, ok := engineStatesByName[name]
	return s, ok
}

// IsNewCall reports whether the state opens a brand-new call.
func (s EngineCallState) IsNewCall() bool {
	return s == EngineOutgoingInit || s == EngineIncomingReceived
}

// IsPossibleCallEnd reports whether the state means the call is over.
func (s EngineCallState) IsPossibleCallEnd() bool {
	switch s {
	case EngineCallEnd, EngineError, EngineReleased:
		return true
	}
	return false
}

// IsOutgoingConnecting reports whether the server is still looking for the callee.
func (s EngineCallState) IsOutgoingConnecting() bool {
	return s == EngineOutgoingProgress
}

// IsOutgoingRinging reports whether the callee's phone is ringing.
func (s EngineCallState) IsOutgoingRinging() bool {
	return s == EngineOutgoingRinging || s == EngineOutgoingEarlyMedia
}

// IsBeforeEncryption reports whether the call is answered but not yet encrypted.
func (s EngineCallState) IsBeforeEncryption() bool {
	return s == EngineConnected || s == EngineStreamsRunning
}

// IsIncomingRinging reports whether an incoming call is waiting to be picked up.
func (s EngineCallState) IsIncomingRinging() bool {
	return s == EngineIncomingReceived || s == EngineIncomingEarlyMedia
}
