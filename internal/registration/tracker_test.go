package registration

import (
	"testing"

	ev "github.com/sebas/softline/internal/callevents"
)

func TestTrackerMapping(t *testing.T) {
	tr := NewTracker(nil)

	steps := []struct {
		state       ev.RegistrationState
		message     string
		wantStatus  ev.SessionStatus
		wantChanged bool
	}{
		{ev.RegistrationProgress, "Registration in progress", ev.StatusConnecting, true},
		{ev.RegistrationProgress, "Registration in progress", ev.StatusConnecting, false},
		{ev.RegistrationOk, "Registration successful", ev.StatusOnline, true},
		{ev.RegistrationFailed, "Forbidden", ev.StatusError, true},
		{ev.RegistrationCleared, "Unregistration done", ev.StatusOffline, true},
		{ev.RegistrationNone, "", ev.StatusOffline, false},
	}

	for i, step := range steps {
		status, changed := tr.OnRegistrationState(step.state, step.message)
		if status != step.wantStatus || changed != step.wantChanged {
			t.Errorf("step %d: OnRegistrationState(%v) = (%v, %v), want (%v, %v)",
				i, step.state, status, changed, step.wantStatus, step.wantChanged)
		}
	}
}

func TestTrackerSuppressesRefresh(t *testing.T) {
	tr := NewTracker(nil)
	tr.OnRegistrationState(ev.RegistrationOk, "")

	status, changed := tr.OnRegistrationState(ev.RegistrationProgress, ev.MessageRefreshRegistration)
	if changed || status != ev.StatusOnline {
		t.Errorf("refresh progress = (%v, %v), want (ONLINE, false)", status, changed)
	}
	if tr.LastState() != ev.RegistrationOk {
		t.Errorf("LastState() = %v, want Ok", tr.LastState())
	}
	if tr.Suppressed() != 1 {
		t.Errorf("Suppressed() = %d, want 1", tr.Suppressed())
	}
	if !tr.Connected() {
		t.Error("Connected() = false after suppressed refresh")
	}

	// other progress messages are real state changes
	status, changed = tr.OnRegistrationState(ev.RegistrationProgress, "Registration in progress")
	if !changed || status != ev.StatusConnecting {
		t.Errorf("progress = (%v, %v), want (CONNECTING, true)", status, changed)
	}

	// refresh wording only counts while online
	status, changed = tr.OnRegistrationState(ev.RegistrationProgress, ev.MessageRefreshRegistration)
	if changed || status != ev.StatusConnecting {
		t.Errorf("refresh while connecting = (%v, %v), want (CONNECTING, false)", status, changed)
	}
	if tr.Suppressed() != 1 {
		t.Errorf("Suppressed() = %d, want 1", tr.Suppressed())
	}
}
