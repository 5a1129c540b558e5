// Package callstate derives the user-facing call phase and the sticky end
// reason from the raw engine call-state stream.
package callstate

import (
	"fmt"
	"time"

	"github.com/sebas/softline/internal/callevents"
)

// GuiState is the user-facing phase of the current call.
type GuiState int

const (
	// GuiUnknown is the state before any call.
	GuiUnknown GuiState = iota
	// GuiConnectingToServer is a new call not yet seen by the callee.
	GuiConnectingToServer
	// GuiWaitingForContact is an outgoing call the server is delivering.
	GuiWaitingForContact
	// GuiRinging is an outgoing call ringing at the callee.
	GuiRinging
	// GuiEncrypting is an answered call negotiating encryption.
	GuiEncrypting
	// GuiTalking is an answered call with media flowing.
	GuiTalking
	// GuiEnded is terminal until the next new call.
	GuiEnded
)

func (s GuiState) String() string {
	switch s {
	case GuiUnknown:
		return "UNKNOWN"
	case GuiConnectingToServer:
		return "CONNECTING_TO_SERVER"
	case GuiWaitingForContact:
		return "WAITING_FOR_CONTACT"
	case GuiRinging:
		return "RINGING"
	case GuiEncrypting:
		return "ENCRYPTING"
	case GuiTalking:
		return "TALKING"
	case GuiEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal returns true for GuiEnded.
func (s GuiState) IsTerminal() bool {
	return s == GuiEnded
}

// canEnter reports whether a call in state s may move to next. Moves into
// the same state are never transitions.
func (s GuiState) canEnter(next GuiState) bool {
	if s == next || s == GuiEnded {
		return false
	}
	if next == GuiEncrypting && s == GuiTalking {
		return false
	}
	return true
}

// Session is an immutable snapshot of the current call.
type Session struct {
	PeerID            string
	EngineState       callevents.EngineCallState
	GuiState          GuiState
	EndReason         callevents.CallEndReason
	Encrypted         bool
	AuthToken         string
	AuthTokenVerified bool
	Quality           callevents.NetworkQuality
	Duration          time.Duration
	// StartedAt is the start of the current phase, zero once the call ended.
	StartedAt time.Time
	// Incoming is set when the call started with IncomingReceived.
	Incoming bool
	// Answered is set once the engine reported the call connected.
	Answered bool
}

// InCall reports whether a call is in progress.
func (s Session) InCall() bool {
	return s.GuiState != GuiUnknown && s.GuiState != GuiEnded
}

// IncomingRinging reports whether an incoming call waits to be picked up.
func (s Session) IncomingRinging() bool {
	return s.GuiState != GuiEnded && s.EngineState.IsIncomingRinging()
}

// Missed reports whether the call was an incoming call that ended unanswered.
func (s Session) Missed() bool {
	return s.GuiState == GuiEnded && s.Incoming && !s.Answered
}
