// Package broadcast delivers session notifications to UI listeners.
package broadcast

import (
	"encoding/json"
	"time"

	types "github.com/sebas/softline/api/types/v1"
	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/quality"
)

// Kind identifies a notification.
type Kind string

const (
	KindStatusChanged            Kind = "status-changed"
	KindCallStateChanged         Kind = "call-state-changed"
	KindConnectionDetailsChanged Kind = "connection-details-changed"
	KindServiceFinishing         Kind = "service-finishing"
)

// Notification is one broadcast. Only the field matching Kind is meaningful;
// ServiceFinishing carries none.
type Notification struct {
	Kind       Kind
	Seq        uint64
	Time       time.Time
	Status     callevents.SessionStatus
	Call       callstate.Session
	Connection quality.Details
}

// StatusChanged builds a status notification.
func StatusChanged(s callevents.SessionStatus) Notification {
	return Notification{Kind: KindStatusChanged, Status: s}
}

// CallStateChanged builds a call notification.
func CallStateChanged(s callstate.Session) Notification {
	return Notification{Kind: KindCallStateChanged, Call: s}
}

// ConnectionDetailsChanged builds a connection details notification.
func ConnectionDetailsChanged(d quality.Details) Notification {
	return Notification{Kind: KindConnectionDetailsChanged, Connection: d}
}

// ServiceFinishing builds the final notification of a session.
func ServiceFinishing() Notification {
	return Notification{Kind: KindServiceFinishing}
}

// topicSuffix is the MQTT topic level for k.
func (k Kind) topicSuffix() string {
	switch k {
	case KindStatusChanged:
		return "status"
	case KindCallStateChanged:
		return "call"
	case KindConnectionDetailsChanged:
		return "connection"
	case KindServiceFinishing:
		return "finishing"
	default:
		return string(k)
	}
}

// Event converts n to its wire form.
func Event(n Notification) types.Event {
	ev := types.Event{
		Kind: string(n.Kind),
		Seq:  n.Seq,
		Time: n.Time.UTC().Format(time.RFC3339Nano),
	}
	switch n.Kind {
	case KindStatusChanged:
		ev.Status = n.Status.String()
	case KindCallStateChanged:
		call := CallSession(n.Call)
		ev.Call = &call
	case KindConnectionDetailsChanged:
		conn := ConnectionDetails(n.Connection)
		ev.Connection = &conn
	}
	return ev
}

// Marshal encodes n as a JSON event.
func Marshal(n Notification) ([]byte, error) {
	return json.Marshal(Event(n))
}

// CallSession converts a call snapshot to its wire form.
func CallSession(s callstate.Session) types.CallSession {
	out := types.CallSession{
		PeerID:            s.PeerID,
		EngineState:       s.EngineState.String(),
		State:             s.GuiState.String(),
		EndReason:         s.EndReason.String(),
		Encrypted:         s.Encrypted,
		AuthToken:         s.AuthToken,
		AuthTokenVerified: s.AuthTokenVerified,
		Quality:           s.Quality.String(),
		Duration:          int64(s.Duration / time.Second),
		Incoming:          s.Incoming,
		Answered:          s.Answered,
		InCall:            s.InCall(),
	}
	if s.EndReason != callevents.EndReasonNone {
		out.EndReasonDescription = s.EndReason.Description()
	}
	if !s.StartedAt.IsZero() {
		out.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// ConnectionDetails converts connection details to their wire form.
func ConnectionDetails(d quality.Details) types.ConnectionDetails {
	return types.ConnectionDetails{
		Quality:            d.Quality.String(),
		Codec:              d.Codec,
		IceState:           d.IceState,
		UploadBandwidth:    d.UploadBandwidth,
		DownloadBandwidth:  d.DownloadBandwidth,
		Jitter:             d.Jitter,
		PacketLossPerMille: d.PacketLossPerMille,
		LatePackets:        d.LatePackets,
		RoundTripDelay:     d.RoundTripDelay,
		EndedCall:          d.EndedCall,
		Available:          d.HasConnectionInfo(),
	}
}
