package callevents

import "fmt"

// CallEndReason classifies why a call ended.
type CallEndReason int

const (
	EndReasonNone CallEndReason = iota
	EndReasonDeclined
	EndReasonOffline
	EndReasonUnsupportedMedia
	EndReasonBusy
	// EndReasonServerConnectionTimeout is never reported by the engine; the
	// terminate checker synthesizes it when the server was never reached.
	EndReasonServerConnectionTimeout
)

// Engine messages that carry an end reason. Matching is exact.
const (
	MessageCallDeclined      = "Call declined."
	MessageUserNotAvailable  = "User not available"
	MessageIncompatibleMedia = "Incompatible media parameters."
	MessageBusyHere          = "Busy here"
)

var endReasonsByMessage = map[string]CallEndReason{
	MessageCallDeclined:      EndReasonDeclined,
	MessageUserNotAvailable:  EndReasonOffline,
	MessageIncompatibleMedia: EndReasonUnsupportedMedia,
	MessageBusyHere:          EndReasonBusy,
}

// EndReasonFromMessage maps an engine call-state message to an end reason.
// Unknown messages map to EndReasonNone.
func EndReasonFromMessage(message string) CallEndReason {
	return endReasonsByMessage[message]
}

func (r CallEndReason) String() string {
	switch r {
	case EndReasonNone:
		return "NONE"
	case EndReasonDeclined:
		return "DECLINED"
	case EndReasonOffline:
		return "OFFLINE"
	case EndReasonUnsupportedMedia:
		return "UNSUPPORTED_MEDIA"
	case EndReasonBusy:
		return "BUSY"
	case EndReasonServerConnectionTimeout:
		return "SERVER_CONNECTION_TIMEOUT"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Description is the user-facing text for the reason.
func (r CallEndReason) Description() string {
	switch r {
	case EndReasonDeclined:
		return "call declined"
	case EndReasonOffline:
		return "contact not available"
	case EndReasonUnsupportedMedia:
		return "incompatible media"
	case EndReasonBusy:
		return "contact busy"
	case EndReasonServerConnectionTimeout:
		return "connection to server failed"
	default:
		return "call ended"
	}
}
