package session

import (
	"log/slog"
	"time"

	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/calllog"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/clock"
	"github.com/sebas/softline/internal/credentials"
	"github.com/sebas/softline/internal/effects"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/platform"
)

// Default timings.
const (
	DefaultTerminateCheckInterval  = 20 * time.Second
	DefaultEncryptionCheckInterval = 12 * time.Second
	DefaultUnregisterGrace         = 5 * time.Second
	DefaultJoinTimeout             = 2 * time.Second
	DefaultRefreshMinInterval      = 10 * time.Second
	DefaultMaxWorkerRestarts       = 3
)

// Effects is the part of the effects scheduler the session drives.
type Effects interface {
	Start(kind effects.Kind)
	Prepare(kind effects.Kind)
	StartPrepared(kind effects.Kind)
	Stop(kind effects.Kind)
	StopAll()
}

// Config holds the collaborators and timings of a session. Engine and
// Credentials are required; everything else has a default.
type Config struct {
	Engine      engine.Factory
	Credentials credentials.Source

	Effects     Effects
	Publisher   broadcast.Publisher
	CallLog     calllog.Recorder
	PowerLock   platform.Lock
	NetworkLock platform.Lock
	AudioFocus  platform.AudioFocus
	Ringer      platform.Ringer
	Clock       clock.Clock
	Logger      *slog.Logger

	// StartCall is called once registration first reaches ONLINE.
	StartCall string

	// OnIncomingCall runs on the session goroutine when an incoming call
	// starts ringing. It must not block.
	OnIncomingCall func(s callstate.Session)

	TerminateCheckInterval  time.Duration
	EncryptionCheckInterval time.Duration
	UnregisterGrace         time.Duration
	JoinTimeout             time.Duration
	IterateInterval         time.Duration
	// RefreshMinInterval limits registration refreshes on connectivity changes.
	RefreshMinInterval time.Duration
	// MaxWorkerRestarts bounds self-healing restarts; negative disables them.
	MaxWorkerRestarts int
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Effects == nil {
		c.Effects = noEffects{}
	}
	if c.Publisher == nil {
		c.Publisher = broadcast.NewNoopPublisher()
	}
	if c.PowerLock == nil {
		c.PowerLock = platform.NewGuardedLock("power", nil, nil, c.Logger)
	}
	if c.NetworkLock == nil {
		c.NetworkLock = platform.NewGuardedLock("network", nil, nil, c.Logger)
	}
	if c.AudioFocus == nil {
		c.AudioFocus = platform.NewLocalAudioFocus(c.Logger)
	}
	if c.Ringer == nil {
		c.Ringer = platform.NewMemoryRinger(platform.RingerNormal)
	}
	if c.TerminateCheckInterval <= 0 {
		c.TerminateCheckInterval = DefaultTerminateCheckInterval
	}
	if c.EncryptionCheckInterval <= 0 {
		c.EncryptionCheckInterval = DefaultEncryptionCheckInterval
	}
	if c.UnregisterGrace <= 0 {
		c.UnregisterGrace = DefaultUnregisterGrace
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.IterateInterval <= 0 {
		c.IterateInterval = engine.DefaultIterateInterval
	}
	if c.RefreshMinInterval <= 0 {
		c.RefreshMinInterval = DefaultRefreshMinInterval
	}
	if c.MaxWorkerRestarts < 0 {
		c.MaxWorkerRestarts = 0
	} else if c.MaxWorkerRestarts == 0 {
		c.MaxWorkerRestarts = DefaultMaxWorkerRestarts
	}
}

type noEffects struct{}

func (noEffects) Start(effects.Kind)         {}
func (noEffects) Prepare(effects.Kind)       {}
func (noEffects) StartPrepared(effects.Kind) {}
func (noEffects) Stop(effects.Kind)          {}
func (noEffects) StopAll()                   {}
