package callstate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	ev "github.com/sebas/softline/internal/callevents"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMachine() (*Machine, *testClock) {
	c := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMachine(WithClock(c.Now)), c
}

func TestOutgoingCallFlow(t *testing.T) {
	m, c := newTestMachine()

	steps := []struct {
		state   ev.EngineCallState
		message string
		want    GuiState
	}{
		{ev.EngineOutgoingInit, "Starting outgoing call", GuiConnectingToServer},
		{ev.EngineOutgoingProgress, "Outgoing call in progress", GuiWaitingForContact},
		{ev.EngineOutgoingRinging, "Remote ringing", GuiRinging},
		{ev.EngineConnected, "Connected", GuiEncrypting},
		{ev.EngineStreamsRunning, "Streams running", GuiEncrypting},
	}

	for _, step := range steps {
		c.advance(time.Second)
		m.OnEngineCallEvent("alice", step.state, step.message)
		if got := m.Session().GuiState; got != step.want {
			t.Fatalf("after %v: GuiState = %v, want %v", step.state, got, step.want)
		}
		if got := m.Session().EndReason; got != ev.EndReasonNone {
			t.Fatalf("after %v: EndReason = %v, want NONE", step.state, got)
		}
	}

	c.advance(time.Second)
	if !m.OnEncryptionChanged(true, "a1b2", false) {
		t.Fatal("OnEncryptionChanged() = false, want true")
	}
	s := m.Session()
	if s.GuiState != GuiTalking {
		t.Fatalf("GuiState = %v, want TALKING", s.GuiState)
	}
	if !s.StartedAt.Equal(c.now) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt, c.now)
	}

	// streams updated after talking never go back to encrypting
	m.OnEngineCallEvent("alice", ev.EngineConnected, "")
	m.OnEngineCallEvent("alice", ev.EngineStreamsRunning, "")
	if got := m.Session().GuiState; got != GuiTalking {
		t.Fatalf("GuiState = %v, want TALKING", got)
	}

	m.OnEngineCallEvent("alice", ev.EngineCallEnd, "Busy here")
	s = m.Session()
	if s.GuiState != GuiEnded {
		t.Errorf("GuiState = %v, want ENDED", s.GuiState)
	}
	if s.EndReason != ev.EndReasonBusy {
		t.Errorf("EndReason = %v, want BUSY", s.EndReason)
	}
	if !s.StartedAt.IsZero() {
		t.Errorf("StartedAt = %v, want zero", s.StartedAt)
	}
}

func TestEndReasonIsSticky(t *testing.T) {
	m, _ := newTestMachine()

	m.OnEngineCallEvent("bob", ev.EngineOutgoingInit, "")
	m.OnEngineCallEvent("bob", ev.EngineError, "Call declined.")
	m.OnEngineCallEvent("bob", ev.EngineCallEnd, "Busy here")
	m.OnEngineCallEvent("bob", ev.EngineReleased, "User not available")
	m.ConnectionTimeout()

	if got := m.Session().EndReason; got != ev.EndReasonDeclined {
		t.Errorf("EndReason = %v, want DECLINED", got)
	}

	m.OnEngineCallEvent("carol", ev.EngineOutgoingInit, "")
	s := m.Session()
	if s.EndReason != ev.EndReasonNone {
		t.Errorf("EndReason after new call = %v, want NONE", s.EndReason)
	}
	if s.GuiState != GuiConnectingToServer {
		t.Errorf("GuiState after new call = %v, want CONNECTING_TO_SERVER", s.GuiState)
	}
	if s.PeerID != "carol" {
		t.Errorf("PeerID = %q, want carol", s.PeerID)
	}
}

func TestEndedIsTerminal(t *testing.T) {
	m, _ := newTestMachine()

	m.OnEngineCallEvent("bob", ev.EngineOutgoingInit, "")
	m.OnEngineCallEvent("bob", ev.EngineCallEnd, "")
	for _, state := range []ev.EngineCallState{ev.EngineOutgoingProgress, ev.EngineOutgoingRinging, ev.EngineConnected} {
		m.OnEngineCallEvent("bob", state, "")
		if got := m.Session().GuiState; got != GuiEnded {
			t.Fatalf("after %v: GuiState = %v, want ENDED", state, got)
		}
	}
	if m.OnEncryptionChanged(false, "", false); m.Session().GuiState != GuiEnded {
		t.Fatalf("encryption change left ENDED")
	}
}

func TestNoOpSuppression(t *testing.T) {
	m, c := newTestMachine()

	if !m.OnEngineCallEvent("bob", ev.EngineOutgoingInit, "") {
		t.Fatal("first event reported no change")
	}
	c.advance(time.Second)
	if m.OnEngineCallEvent("bob", ev.EngineOutgoingInit, "") {
		t.Error("repeated event reported a change")
	}
	if m.OnEncryptionChanged(false, "", false) {
		t.Error("encryption change with identical fields reported a change")
	}
	if m.OnStats(ev.QualityUnknown, 0) {
		t.Error("stats with identical fields reported a change")
	}
}

func TestIncomingCallAnswered(t *testing.T) {
	m, _ := newTestMachine()

	m.OnEngineCallEvent("dave", ev.EngineIncomingReceived, "")
	s := m.Session()
	if !s.Incoming || !s.IncomingRinging() {
		t.Fatalf("session = %+v, want incoming ringing", s)
	}
	if s.GuiState != GuiConnectingToServer {
		t.Fatalf("GuiState = %v, want CONNECTING_TO_SERVER", s.GuiState)
	}

	m.OnEngineCallEvent("dave", ev.EngineConnected, "")
	m.OnEngineCallEvent("dave", ev.EngineCallEnd, "")
	s = m.Session()
	if s.Missed() {
		t.Error("Missed() = true for an answered call")
	}
}

func TestIncomingCallMissed(t *testing.T) {
	m, _ := newTestMachine()

	m.OnEngineCallEvent("erin", ev.EngineIncomingReceived, "")
	m.OnEngineCallEvent("erin", ev.EngineCallEnd, "Call terminated")
	if !m.Session().Missed() {
		t.Error("Missed() = false for an unanswered incoming call")
	}
}

func TestOnStatsReconcilesStart(t *testing.T) {
	m, c := newTestMachine()

	m.OnEngineCallEvent("bob", ev.EngineOutgoingInit, "")
	m.OnEngineCallEvent("bob", ev.EngineConnected, "")
	m.OnEncryptionChanged(false, "", false)

	c.advance(30 * time.Second)
	if !m.OnStats(ev.QualityGood, 12*time.Second) {
		t.Fatal("OnStats() = false, want true")
	}

	want := Session{
		PeerID:      "bob",
		EngineState: ev.EngineConnected,
		GuiState:    GuiTalking,
		Quality:     ev.QualityGood,
		Duration:    12 * time.Second,
		StartedAt:   c.now.Add(-12 * time.Second),
		Answered:    true,
	}
	if diff := cmp.Diff(want, m.Session()); diff != "" {
		t.Errorf("Session() mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectionTimeout(t *testing.T) {
	m, _ := newTestMachine()

	if !m.ConnectionTimeout() {
		t.Fatal("ConnectionTimeout() = false, want true")
	}
	s := m.Session()
	if s.GuiState != GuiEnded || s.EndReason != ev.EndReasonServerConnectionTimeout {
		t.Errorf("session = %v/%v, want ENDED/SERVER_CONNECTION_TIMEOUT", s.GuiState, s.EndReason)
	}
	if m.ConnectionTimeout() {
		t.Error("second ConnectionTimeout() = true, want false")
	}
}

func TestMalformedInput(t *testing.T) {
	m, _ := newTestMachine()

	if m.OnEngineCallEvent("bob", ev.EngineCallState(77), "") {
		t.Error("unknown state reported a change")
	}
	if got := m.Session().GuiState; got != GuiUnknown {
		t.Errorf("GuiState = %v, want UNKNOWN", got)
	}

	// an event without a peer is still processed
	m.OnEngineCallEvent("", ev.EngineOutgoingInit, "")
	if got := m.Session().GuiState; got != GuiConnectingToServer {
		t.Errorf("GuiState = %v, want CONNECTING_TO_SERVER", got)
	}
}

func TestEndLocally(t *testing.T) {
	m, _ := newTestMachine()

	if m.EndLocally() {
		t.Error("EndLocally() without a call = true")
	}
	m.OnEngineCallEvent("bob", ev.EngineOutgoingInit, "")
	m.OnEngineCallEvent("bob", ev.EngineConnected, "")
	if !m.EndLocally() {
		t.Fatal("EndLocally() = false")
	}
	if got := m.Session().GuiState; got != GuiEnded {
		t.Errorf("GuiState = %v, want ENDED", got)
	}
}
