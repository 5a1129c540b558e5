package effects

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/softline/internal/clock"
)

type fakePlayer struct {
	mu       sync.Mutex
	kind     Kind
	prepared int
	plays    int
	stops    int
	closed   bool
	done     func(error)
	playErr  error
}

func (p *fakePlayer) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared++
	return nil
}

func (p *fakePlayer) Play(done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.plays++
	p.done = done
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// finish simulates the clip reaching its end.
func (p *fakePlayer) finish(err error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	done(err)
}

type fakeFactory struct {
	mu      sync.Mutex
	players []*fakePlayer
	failFor map[Kind]error
	playErr map[Kind]error
}

func (f *fakeFactory) NewPlayer(kind Kind) (Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[kind]; err != nil {
		return nil, err
	}
	p := &fakePlayer{kind: kind, playErr: f.playErr[kind]}
	f.players = append(f.players, p)
	return p, nil
}

func (f *fakeFactory) created(kind Kind) []*fakePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakePlayer
	for _, p := range f.players {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func newTestScheduler() (*Scheduler, *fakeFactory, *clock.Fake) {
	f := &fakeFactory{}
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewScheduler(f, c, nil), f, c
}

func TestStartIsIdempotent(t *testing.T) {
	s, f, _ := newTestScheduler()

	s.Start(Ringtone)
	s.Start(Ringtone)

	players := f.created(Ringtone)
	if len(players) != 1 {
		t.Fatalf("players created = %d, want 1", len(players))
	}
	if players[0].plays != 1 {
		t.Errorf("plays = %d, want 1", players[0].plays)
	}
	if !s.IsPlaying(Ringtone) {
		t.Error("IsPlaying(Ringtone) = false, want true")
	}
}

func TestStopUnknownKindIsNoOp(t *testing.T) {
	s, f, _ := newTestScheduler()

	s.Stop(UnencryptedCall)
	s.StopAll()

	if len(f.players) != 0 {
		t.Errorf("players created = %d, want 0", len(f.players))
	}
	if s.Active(UnencryptedCall) {
		t.Error("Active(UnencryptedCall) = true, want false")
	}
}

func TestStopReleasesPlayer(t *testing.T) {
	s, f, _ := newTestScheduler()

	s.Start(WaitingForContact)
	s.Stop(WaitingForContact)
	s.Stop(WaitingForContact)

	p := f.created(WaitingForContact)[0]
	if p.stops != 1 || !p.closed {
		t.Errorf("stops = %d, closed = %v, want 1, true", p.stops, p.closed)
	}
	if s.Active(WaitingForContact) {
		t.Error("Active() after Stop() = true")
	}

	s.Start(WaitingForContact)
	if got := len(f.created(WaitingForContact)); got != 2 {
		t.Errorf("players after restart = %d, want 2", got)
	}
}

func TestReplayWaitsForMinimumPlayTime(t *testing.T) {
	s, f, c := newTestScheduler()

	s.Start(NativeCallInterruption)
	p := f.created(NativeCallInterruption)[0]

	c.Advance(100 * time.Millisecond)
	p.finish(nil)

	c.Advance(MinPlayTime - 100*time.Millisecond - time.Millisecond)
	if p.plays != 1 {
		t.Fatalf("plays before minimum play time = %d, want 1", p.plays)
	}
	c.Advance(time.Millisecond)
	if p.plays != 2 {
		t.Fatalf("plays at minimum play time = %d, want 2", p.plays)
	}
}

func TestLongClipReplaysImmediately(t *testing.T) {
	s, f, c := newTestScheduler()

	s.Start(Ringtone)
	p := f.created(Ringtone)[0]

	c.Advance(5 * time.Second)
	p.finish(nil)
	c.Advance(0)

	if p.plays != 2 {
		t.Errorf("plays = %d, want 2", p.plays)
	}
}

func TestStopCancelsPendingReplay(t *testing.T) {
	s, f, c := newTestScheduler()

	s.Start(UnencryptedCall)
	p := f.created(UnencryptedCall)[0]
	p.finish(nil)
	s.Stop(UnencryptedCall)

	c.Advance(10 * time.Second)
	if p.plays != 1 {
		t.Errorf("plays after Stop() = %d, want 1", p.plays)
	}
	if c.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", c.PendingTimers())
	}
}

func TestPrepareThenStart(t *testing.T) {
	s, f, _ := newTestScheduler()

	s.Prepare(EncryptionHandshake)
	p := f.created(EncryptionHandshake)[0]
	if p.prepared != 1 || p.plays != 0 {
		t.Fatalf("prepared = %d, plays = %d, want 1, 0", p.prepared, p.plays)
	}
	if !s.Active(EncryptionHandshake) || s.IsPlaying(EncryptionHandshake) {
		t.Fatal("prepared handle should be active but silent")
	}

	s.Prepare(EncryptionHandshake)
	s.StartPrepared(EncryptionHandshake)
	s.StartPrepared(EncryptionHandshake)

	if got := len(f.created(EncryptionHandshake)); got != 1 {
		t.Errorf("players created = %d, want 1", got)
	}
	if p.plays != 1 {
		t.Errorf("plays = %d, want 1", p.plays)
	}
}

func TestPlayerErrorDiscardsOnlyThatHandle(t *testing.T) {
	s, f, _ := newTestScheduler()

	s.Start(Ringtone)
	s.Start(WaitingForContact)
	ring := f.created(Ringtone)[0]

	ring.finish(errors.New("device lost"))

	if s.Active(Ringtone) {
		t.Error("failed handle still active")
	}
	if !ring.closed {
		t.Error("failed player not closed")
	}
	if !s.IsPlaying(WaitingForContact) {
		t.Error("unrelated effect stopped by player error")
	}

	s.Start(Ringtone)
	if got := len(f.created(Ringtone)); got != 2 {
		t.Errorf("players after failure = %d, want 2", got)
	}
}

func TestFactoryAndPlayErrors(t *testing.T) {
	s, f, _ := newTestScheduler()
	f.failFor = map[Kind]error{Ringtone: errors.New("no device")}
	f.playErr = map[Kind]error{UnencryptedCall: errors.New("busy")}

	s.Start(Ringtone)
	s.Start(UnencryptedCall)

	if s.Active(Ringtone) || s.Active(UnencryptedCall) {
		t.Error("handles kept after errors")
	}
}
