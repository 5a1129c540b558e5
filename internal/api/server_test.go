package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	types "github.com/sebas/softline/api/types/v1"
	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/calllog"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/platform"
	"github.com/sebas/softline/internal/session"
)

type fakeSession struct {
	mu       sync.Mutex
	snap     session.Snapshot
	running  bool
	commands []string
	volumes  engine.Volumes
	err      error
}

func (f *fakeSession) record(c string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c)
	return f.err
}

func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }
func (f *fakeSession) Running() bool              { return f.running }
func (f *fakeSession) Connect() error             { return f.record("connect") }
func (f *fakeSession) Call(id string) error       { return f.record("call:" + id) }
func (f *fakeSession) PickUp() error              { return f.record("pickup") }
func (f *fakeSession) TerminateCall() error       { return f.record("terminate") }

func (f *fakeSession) VerifyAuthToken(verified bool) error {
	if verified {
		return f.record("verify:true")
	}
	return f.record("verify:false")
}

func (f *fakeSession) AcceptUnencryptedCall() error { return f.record("accept") }

func (f *fakeSession) SetVolumes(v engine.Volumes) error {
	f.volumes = v
	return f.record("volumes")
}

func (f *fakeSession) TelephonyChanged(state platform.TelephonyState) error {
	return f.record("telephony:" + state.String())
}

type fakeSessions struct {
	sess     *fakeSession
	started  []string
	startErr error
}

func (f *fakeSessions) Current() (Session, bool) {
	if f.sess == nil || !f.sess.running {
		return nil, false
	}
	return f.sess, true
}

func (f *fakeSessions) Last() (Session, bool) {
	if f.sess == nil {
		return nil, false
	}
	return f.sess, true
}

func (f *fakeSessions) Start(callID string) (Session, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, callID)
	if f.sess == nil {
		f.sess = &fakeSession{running: true}
	}
	return f.sess, nil
}

type fakeHistory struct {
	entries []calllog.Entry
	missed  int
	since   time.Time
}

func (f *fakeHistory) List(ctx context.Context, limit int) ([]calllog.Entry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeHistory) CountMissed(ctx context.Context, since time.Time) (int, error) {
	f.since = since
	return f.missed, nil
}

func newTestServer(sessions Sessions, history CallHistory) *Server {
	return NewServer(Config{
		Sessions: sessions,
		History:  history,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestStatusWithoutSession(t *testing.T) {
	s := newTestServer(&fakeSessions{}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	got := decodeBody[types.StatusResponse](t, rec)
	want := types.StatusResponse{Status: "UNKNOWN", Description: "unknown", Phase: "IDLE"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusAndCall(t *testing.T) {
	sess := &fakeSession{
		running: true,
		snap: session.Snapshot{
			Phase:  session.PhaseOngoingCall,
			Status: callevents.StatusOngoingCall,
			Call: callstate.Session{
				PeerID:      "bob",
				EngineState: callevents.EngineStreamsRunning,
				GuiState:    callstate.GuiTalking,
				Encrypted:   true,
				Quality:     callevents.QualityGood,
				Duration:    42 * time.Second,
			},
		},
	}
	s := newTestServer(&fakeSessions{sess: sess}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "")
	status := decodeBody[types.StatusResponse](t, rec)
	if status.Status != "ONGOING_CALL" || status.Phase != "ONGOING_CALL" || !status.Running {
		t.Errorf("status = %+v, want running ONGOING_CALL", status)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/call", "")
	call := decodeBody[types.CallSession](t, rec)
	if call.PeerID != "bob" || call.State != "TALKING" || call.Duration != 42 || !call.InCall {
		t.Errorf("call = %+v, want bob TALKING 42s", call)
	}
}

func TestCommands(t *testing.T) {
	sess := &fakeSession{running: true}
	s := newTestServer(&fakeSessions{sess: sess}, nil)

	tests := []struct {
		path string
		body string
	}{
		{"/api/v1/connect", ""},
		{"/api/v1/call", `{"peer_id":"bob"}`},
		{"/api/v1/pickup", ""},
		{"/api/v1/verify", `{"verified":true}`},
		{"/api/v1/accept-unencrypted", ""},
		{"/api/v1/volumes", `{"speaker":0.5,"microphone":2}`},
		{"/api/v1/telephony", `{"state":"offhook"}`},
		{"/api/v1/terminate", ""},
	}
	for _, tt := range tests {
		rec := do(t, s.Handler(), http.MethodPost, tt.path, tt.body)
		if rec.Code != http.StatusAccepted {
			t.Errorf("POST %s = %d, want 202: %s", tt.path, rec.Code, rec.Body.String())
		}
	}

	want := []string{"connect", "call:bob", "pickup", "verify:true", "accept", "volumes", "telephony:offhook", "terminate"}
	if diff := cmp.Diff(want, sess.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(engine.Volumes{Speaker: 0.5, Microphone: 2}, sess.volumes); diff != "" {
		t.Errorf("volumes mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandValidation(t *testing.T) {
	sess := &fakeSession{running: true}
	s := newTestServer(&fakeSessions{sess: sess}, nil)

	tests := []struct {
		path string
		body string
	}{
		{"/api/v1/call", `{}`},
		{"/api/v1/call", `{"peer":"bob"}`},
		{"/api/v1/telephony", `{"state":"dialing"}`},
		{"/api/v1/volumes", `{"speaker":-1}`},
	}
	for _, tt := range tests {
		rec := do(t, s.Handler(), http.MethodPost, tt.path, tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s %s = %d, want 400", tt.path, tt.body, rec.Code)
		}
	}
	if len(sess.commands) != 0 {
		t.Errorf("commands = %v, want none", sess.commands)
	}
}

func TestCommandWithoutSession(t *testing.T) {
	s := newTestServer(&fakeSessions{sess: &fakeSession{running: false}}, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/pickup", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("POST /api/v1/pickup = %d, want 409", rec.Code)
	}
	if got := decodeBody[types.ErrorResponse](t, rec); got.Error != "no running session" {
		t.Errorf("error = %q, want %q", got.Error, "no running session")
	}
}

func TestCommandAfterSessionFinished(t *testing.T) {
	sess := &fakeSession{running: true, err: session.ErrNotRunning}
	s := newTestServer(&fakeSessions{sess: sess}, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/connect", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("POST /api/v1/connect = %d, want 409", rec.Code)
	}

	sess.err = errors.New("boom")
	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/connect", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("POST /api/v1/connect = %d, want 500", rec.Code)
	}
}

func TestStart(t *testing.T) {
	sessions := &fakeSessions{}
	s := newTestServer(sessions, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/start", `{"call_id":"bob"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/start = %d, want 202", rec.Code)
	}
	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/start = %d, want 202", rec.Code)
	}
	if diff := cmp.Diff([]string{"bob", ""}, sessions.started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}
}

func TestStartDuringShutdown(t *testing.T) {
	sessions := &fakeSessions{startErr: session.ErrNotRunning}
	s := newTestServer(sessions, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/start", `{"call_id":"bob"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("POST /api/v1/start = %d, want 409", rec.Code)
	}
	if len(sessions.started) != 0 {
		t.Errorf("started = %v, want none", sessions.started)
	}
}

func TestCallLog(t *testing.T) {
	ended := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	history := &fakeHistory{
		entries: []calllog.Entry{
			{ID: uuid.New(), Peer: "carol", Incoming: true, Missed: true, EndReason: "NONE", EndedAt: ended},
			{ID: uuid.New(), Peer: "bob", Answered: true, EndReason: "NONE", EndedAt: ended.Add(-time.Hour), Duration: 90 * time.Second},
		},
		missed: 1,
	}
	s := newTestServer(&fakeSessions{}, history)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/calls?limit=1&since=2024-03-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/calls = %d, want 200", rec.Code)
	}
	got := decodeBody[types.CallLogResponse](t, rec)
	if got.Missed != 1 || len(got.Calls) != 1 {
		t.Fatalf("call log = %+v, want 1 call and 1 missed", got)
	}
	if got.Calls[0].Peer != "carol" || got.Calls[0].EndedAt != "2024-03-01T09:30:00Z" {
		t.Errorf("call = %+v, want carol at 09:30", got.Calls[0])
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !history.since.Equal(want) {
		t.Errorf("since = %v, want %v", history.since, want)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/calls?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET /api/v1/calls?limit=zero = %d, want 400", rec.Code)
	}
}

func TestCallLogDisabled(t *testing.T) {
	s := newTestServer(&fakeSessions{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/calls", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/v1/calls = %d, want 404", rec.Code)
	}
}

func TestCommandRateLimit(t *testing.T) {
	sess := &fakeSession{running: true}
	s := NewServer(Config{
		Sessions:    &fakeSessions{sess: sess},
		CommandRate: 2,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, s.Handler(), http.MethodPost, "/api/v1/connect", "").Code)
	}
	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("status codes mismatch (-want +got):\n%s", diff)
	}

	// Queries are not limited.
	if code := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "").Code; code != http.StatusOK {
		t.Errorf("GET /api/v1/status = %d, want 200", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeSessions{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rec.Code)
	}
}
