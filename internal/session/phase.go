package session

import (
	"fmt"

	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/quality"
)

// Phase is the orchestrator's own lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseOnline
	PhaseOngoingCall
	PhaseError
	// PhaseGoingDown is entered once shutdown starts and never left.
	PhaseGoingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseOnline:
		return "ONLINE"
	case PhaseOngoingCall:
		return "ONGOING_CALL"
	case PhaseError:
		return "ERROR"
	case PhaseGoingDown:
		return "GOING_DOWN"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// phaseFor derives the phase from the session status.
func phaseFor(status callevents.SessionStatus, goingDown bool) Phase {
	if goingDown {
		return PhaseGoingDown
	}
	switch status {
	case callevents.StatusConnecting:
		return PhaseConnecting
	case callevents.StatusOnline:
		return PhaseOnline
	case callevents.StatusOngoingCall:
		return PhaseOngoingCall
	case callevents.StatusError:
		return PhaseError
	default:
		return PhaseIdle
	}
}

// Snapshot is the immutable state published after every dispatched event.
type Snapshot struct {
	Phase      Phase
	Status     callevents.SessionStatus
	Call       callstate.Session
	Connection quality.Details
	// ConfigurationMissing is set while the session waits for credentials.
	ConfigurationMissing bool
	// Finished is set once the shutdown sequence completed.
	Finished bool
}
