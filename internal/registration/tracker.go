// Package registration maps engine registration events to the session status
// shown to the user.
package registration

import (
	"log/slog"

	"github.com/sebas/softline/internal/callevents"
)

// Tracker holds the status derived from registration events.
// It is not safe for concurrent use.
type Tracker struct {
	status     callevents.SessionStatus
	lastState  callevents.RegistrationState
	suppressed int
	logger     *slog.Logger
}

// NewTracker returns a tracker with unknown status.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Status returns the current status.
func (t *Tracker) Status() callevents.SessionStatus {
	return t.status
}

// LastState returns the most recent raw state that was not suppressed.
func (t *Tracker) LastState() callevents.RegistrationState {
	return t.lastState
}

// Connected reports whether the engine is registered with the server.
func (t *Tracker) Connected() bool {
	return t.status == callevents.StatusOnline
}

// Suppressed returns how many refresh events were ignored.
func (t *Tracker) Suppressed() int {
	return t.suppressed
}

// OnRegistrationState folds an engine registration event into the status.
// It returns the new status and whether it changed. A refresh-induced
// Progress while online is ignored entirely.
func (t *Tracker) OnRegistrationState(state callevents.RegistrationState, message string) (callevents.SessionStatus, bool) {
	if t.IsRefreshNoise(state, message) {
		t.suppressed++
		t.logger.Debug("[Registration] Ignoring refresh progress", "message", message)
		return t.status, false
	}

	t.lastState = state
	next := callevents.StatusFromRegistration(state)
	if next == t.status {
		return t.status, false
	}

	t.logger.Info("[Registration] Status changed",
		"from", t.status.String(),
		"to", next.String(),
		"state", state.String(),
		"message", message,
	)
	t.status = next
	return t.status, true
}

// IsRefreshNoise reports whether the event is the transient Progress the
// engine emits while refreshing an existing registration.
func (t *Tracker) IsRefreshNoise(state callevents.RegistrationState, message string) bool {
	return t.status == callevents.StatusOnline &&
		state == callevents.RegistrationProgress &&
		message == callevents.MessageRefreshRegistration
}

// Reset forgets the current status, e.g. after the engine was restarted.
func (t *Tracker) Reset() {
	t.status = callevents.StatusUnknown
	t.lastState = callevents.RegistrationNone
}
