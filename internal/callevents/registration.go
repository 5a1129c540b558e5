package callevents

import "fmt"

// RegistrationState is the raw registration state reported by the engine.
type RegistrationState int

const (
	RegistrationNone RegistrationState = iota
	RegistrationProgress
	RegistrationOk
	RegistrationCleared
	RegistrationFailed
)

// MessageRefreshRegistration accompanies the Progress event the engine emits
// when it refreshes an existing registration.
const MessageRefreshRegistration = "Refresh registration"

func (s RegistrationState) String() string {
	switch s {
	case RegistrationNone:
		return "None"
	case RegistrationProgress:
		return "Progress"
	case RegistrationOk:
		return "Ok"
	case RegistrationCleared:
		return "Cleared"
	case RegistrationFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// SessionStatus is the signaling-server connectivity phase shown to the user.
type SessionStatus int

const (
	StatusUnknown SessionStatus = iota
	StatusOffline
	StatusConnecting
	StatusOnline
	StatusOngoingCall
	StatusError
)

// StatusFromRegistration maps a raw registration state to a session status.
func StatusFromRegistration(s RegistrationState) SessionStatus {
	switch s {
	case RegistrationNone, RegistrationCleared:
		return StatusOffline
	case RegistrationProgress:
		return StatusConnecting
	case RegistrationOk:
		return StatusOnline
	case RegistrationFailed:
		return StatusError
	default:
		return StatusUnknown
	}
}

func (s SessionStatus) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusOffline:
		return "OFFLINE"
	case StatusConnecting:
		return "CONNECTING"
	case StatusOnline:
		return "ONLINE"
	case StatusOngoingCall:
		return "ONGOING_CALL"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Description is the user-facing text for the status.
func (s SessionStatus) Description() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusConnecting:
		return "connecting to server"
	case StatusOnline:
		return "online"
	case StatusOngoingCall:
		return "call in progress"
	case StatusError:
		return "connection failed"
	default:
		return "unknown"
	}
}
