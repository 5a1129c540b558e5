// Package engine defines the boundary to the SIP/media engine and the worker
// goroutine that exclusively owns it.
package engine

import (
	"time"

	"github.com/sebas/softline/internal/callevents"
)

// Volumes are linear gains, 1.0 meaning unchanged.
type Volumes struct {
	Speaker    float64
	Microphone float64
}

// Engine is the command side of the SIP/media engine. Every method is
// called from the worker goroutine only. Commands return quickly; their
// outcome arrives later as events delivered from Iterate.
type Engine interface {
	Register(id, password string) error
	Unregister() error
	RefreshRegistration() error
	Call(id string) error
	PickUp() error
	TerminateAllCalls() error
	VerifyAuthToken(verified bool) error
	SetAudioVolumes(v Volumes) error
	SetMicrophoneMuted(muted bool) error
	PauseCall() error
	ResumeCall() error
	HasActiveCall() bool
	// Iterate pumps the engine. Events are delivered to the sink from here.
	Iterate()
	Close() error
}

// Sink receives engine events. It must hand the event off without blocking.
type Sink func(Event)

// Factory creates an engine bound to sink.
type Factory func(sink Sink) (Engine, error)

// Event is one of the engine's event variants.
type Event interface {
	engineEvent()
}

// RegistrationChanged reports a registration state change.
type RegistrationChanged struct {
	State   callevents.RegistrationState
	Message string
}

// CallStateChanged reports a call state change.
type CallStateChanged struct {
	PeerID  string
	State   callevents.EngineCallState
	Message string
}

// CallStats is a periodic media statistics sample.
type CallStats struct {
	// Quality is a score in [0,5], negative when unknown.
	Quality            float64
	Codec              string
	IceState           string
	UploadBandwidth    float64 // kbit/s
	DownloadBandwidth  float64 // kbit/s
	Jitter             int     // ms
	PacketLossPerMille int
	LatePackets        int64
	RoundTripDelay     int // ms
	Duration           time.Duration
}

// EncryptionChanged reports the result of the media encryption handshake.
type EncryptionChanged struct {
	Encrypted bool
	AuthToken string
	Verified  bool
}

func (RegistrationChanged) engineEvent() {}
func (CallStateChanged) engineEvent()    {}
func (CallStats) engineEvent()           {}
func (EncryptionChanged) engineEvent()   {}
