package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sebas/softline/internal/clock"
)

func TestGuardedLockIsIdempotent(t *testing.T) {
	acquired, released := 0, 0
	l := NewGuardedLock("power", func() { acquired++ }, func() { released++ }, nil)

	if l.Release() {
		t.Error("Release() before Acquire() = true")
	}
	if !l.Acquire() || l.Acquire() {
		t.Error("Acquire() sequence should be true, false")
	}
	if !l.Held() {
		t.Error("Held() = false after Acquire()")
	}
	if !l.Release() || l.Release() {
		t.Error("Release() sequence should be true, false")
	}
	if acquired != 1 || released != 1 {
		t.Errorf("hooks ran %d/%d times, want 1/1", acquired, released)
	}
}

func TestAudioFocusRequestedOnce(t *testing.T) {
	f := NewLocalAudioFocus(nil)

	f.Request()
	f.Request()
	if f.Requests() != 1 {
		t.Errorf("Requests() = %d, want 1", f.Requests())
	}
	if !f.Abandon() || f.Abandon() {
		t.Error("Abandon() sequence should be true, false")
	}
	if f.Granted() {
		t.Error("Granted() = true after Abandon()")
	}
}

func TestRingerSaver(t *testing.T) {
	r := NewMemoryRinger(RingerVibrate)
	s := NewRingerSaver(r)

	if !s.Silence() {
		t.Fatal("Silence() = false")
	}
	if !s.Saved() {
		t.Error("Saved() after Silence() = false")
	}
	if r.Mode() != RingerSilent {
		t.Errorf("Mode() = %v, want silent", r.Mode())
	}
	if s.Silence() {
		t.Error("second Silence() = true")
	}
	if !s.Restore() || s.Restore() {
		t.Error("Restore() sequence should be true, false")
	}
	if r.Mode() != RingerVibrate {
		t.Errorf("Mode() after Restore() = %v, want vibrate", r.Mode())
	}
	if s.Saved() {
		t.Error("Saved() after Restore() = true")
	}
	if r.Sets() != 2 {
		t.Errorf("Sets() = %d, want 2", r.Sets())
	}
}

func TestRingerSaverLeavesSilentAlone(t *testing.T) {
	r := NewMemoryRinger(RingerSilent)
	s := NewRingerSaver(r)

	if s.Silence() {
		t.Error("Silence() on a silent ringer = true")
	}
	if s.Restore() {
		t.Error("Restore() without saved mode = true")
	}
	if r.Sets() != 0 {
		t.Errorf("Sets() = %d, want 0", r.Sets())
	}
}

func TestParseRingerMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RingerMode
		wantErr bool
	}{
		{"normal", RingerNormal, false},
		{" Vibrate ", RingerVibrate, false},
		{"SILENT", RingerSilent, false},
		{"loud", RingerNormal, true},
	}
	for _, tt := range tests {
		got, err := ParseRingerMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRingerMode(%q) = %v, %v, want %v, error %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestParseTelephonyState(t *testing.T) {
	tests := []struct {
		in   string
		want TelephonyState
		err  bool
	}{
		{"idle", TelephonyIdle, false},
		{"OFFHOOK", TelephonyOffHook, false},
		{"off-hook", TelephonyOffHook, false},
		{"ringing", TelephonyRinging, false},
		{"busy", TelephonyIdle, true},
	}
	for _, tt := range tests {
		got, err := ParseTelephonyState(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseTelephonyState(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestConnectivityMonitorReportsChanges(t *testing.T) {
	var mu sync.Mutex
	var once sync.Once
	started := make(chan struct{})
	addrs := []InterfaceAddrs{{Name: "wlan0", Addrs: []string{"192.168.1.5"}}}
	list := func() ([]InterfaceAddrs, error) {
		mu.Lock()
		current := addrs
		mu.Unlock()
		once.Do(func() { close(started) })
		return current, nil
	}

	c := clock.NewFake(time.Unix(0, 0))
	m := NewConnectivityMonitor(list, c, time.Second, nil)

	changes := make(chan bool, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, func(connected bool) { changes <- connected })
	}()

	<-started

	mu.Lock()
	addrs = nil
	mu.Unlock()

	var got bool
	waitFor(t, func() bool {
		c.Advance(time.Second)
		select {
		case got = <-changes:
			return true
		default:
			return false
		}
	})
	if got {
		t.Error("connected = true after interfaces went away")
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
