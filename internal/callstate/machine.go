package callstate

import (
	"log/slog"
	"time"

	"github.com/sebas/softline/internal/callevents"
)

// Machine owns the current call Session. It is not safe for concurrent use;
// the session orchestrator drives it from a single goroutine.
type Machine struct {
	s      Session
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source used to stamp phase starts.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithLogger sets the logger used to report malformed input.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// NewMachine returns a machine with no call.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a snapshot of the current call.
func (m *Machine) Session() Session {
	return m.s
}

// OnEngineCallEvent folds a raw engine call-state event into the session.
// It returns true if anything observable changed.
func (m *Machine) OnEngineCallEvent(peerID string, state callevents.EngineCallState, message string) bool {
	if !state.Valid() {
		m.logger.Error("[CallState] Unknown engine call state",
			"state", int(state),
			"peer", peerID,
			"message", message,
		)
		return false
	}
	if peerID == "" && state != callevents.EngineIdle {
		m.logger.Error("[CallState] Call event without peer",
			"state", state.String(),
			"message", message,
		)
	}

	before := m.s

	if state.IsNewCall() {
		m.s = Session{
			GuiState:  m.s.GuiState,
			StartedAt: m.s.StartedAt,
			Incoming:  state == callevents.EngineIncomingReceived,
		}
		if m.s.GuiState == GuiEnded {
			// a new call lifts the terminal state
			m.s.GuiState = GuiUnknown
		}
	}

	if peerID != "" {
		m.s.PeerID = peerID
	}
	m.s.EngineState = state
	if state.IsBeforeEncryption() && m.s.GuiState != GuiEnded {
		m.s.Answered = true
	}

	if reason := callevents.EndReasonFromMessage(message); reason != callevents.EndReasonNone && m.s.EndReason == callevents.EndReasonNone {
		m.s.EndReason = reason
	}

	if next, ok := guiStateFor(state); ok && m.s.GuiState.canEnter(next) {
		m.setGuiState(next)
	}

	return m.s != before
}

// OnEncryptionChanged records the encryption result. A call that was
// encrypting moves on to talking.
func (m *Machine) OnEncryptionChanged(encrypted bool, authToken string, verified bool) bool {
	before := m.s

	if m.s.GuiState == GuiEncrypting {
		m.setGuiState(GuiTalking)
	}
	m.s.Encrypted = encrypted
	m.s.AuthToken = authToken
	m.s.AuthTokenVerified = verified

	return m.s != before
}

// OnStats records the engine's quality and authoritative call duration.
func (m *Machine) OnStats(quality callevents.NetworkQuality, duration time.Duration) bool {
	before := m.s

	m.s.Quality = quality
	if duration != m.s.Duration {
		m.s.Duration = duration
		if m.s.InCall() {
			m.s.StartedAt = m.now().Add(-duration)
		}
	}

	return m.s != before
}

// ConnectionTimeout ends the session because the server was never reached.
// An end reason that is already set is kept.
func (m *Machine) ConnectionTimeout() bool {
	before := m.s

	if m.s.EndReason == callevents.EndReasonNone {
		m.s.EndReason = callevents.EndReasonServerConnectionTimeout
	}
	if m.s.GuiState != GuiEnded {
		m.setGuiState(GuiEnded)
	}

	return m.s != before
}

// EndLocally ends a call the engine no longer knows about.
func (m *Machine) EndLocally() bool {
	if m.s.GuiState == GuiEnded || m.s.GuiState == GuiUnknown {
		return false
	}
	m.s.EngineState = callevents.EngineCallEnd
	m.setGuiState(GuiEnded)
	return true
}

func (m *Machine) setGuiState(next GuiState) {
	m.logger.Debug("[CallState] Gui state changed",
		"from", m.s.GuiState.String(),
		"to", next.String(),
		"peer", m.s.PeerID,
	)
	m.s.GuiState = next
	if next == GuiEnded {
		m.s.StartedAt = time.Time{}
		return
	}
	m.s.StartedAt = m.now()
}

// guiStateFor evaluates the state predicates in priority order.
func guiStateFor(state callevents.EngineCallState) (GuiState, bool) {
	switch {
	case state.IsNewCall():
		return GuiConnectingToServer, true
	case state.IsPossibleCallEnd():
		return GuiEnded, true
	case state.IsOutgoingConnecting():
		return GuiWaitingForContact, true
	case state.IsOutgoingRinging():
		return GuiRinging, true
	case state.IsBeforeEncryption():
		return GuiEncrypting, true
	default:
		return GuiUnknown, false
	}
}
