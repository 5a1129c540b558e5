package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/clock"
	"github.com/sebas/softline/internal/credentials"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/engine/enginetest"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRegistryRoutesToRunningSession(t *testing.T) {
	eng := &enginetest.Engine{}
	reg := NewRegistry(Config{
		Engine:      eng.Factory(),
		Credentials: credentials.Static{ID: "alice", Password: "secret"},
		Clock:       clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if _, ok := reg.Current(); ok {
		t.Fatal("Current() reported a session before any request")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := reg.Request(ctx, "")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	second, err := reg.Request(ctx, "bob")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if first != second {
		t.Fatal("Request() started a second session while one was running")
	}
	if cur, ok := reg.Current(); !ok || cur != first {
		t.Errorf("Current() = %p, %v, want the running session", cur, ok)
	}

	waitUntil(t, "register command", func() bool { return eng.Count("register") == 1 })
	eng.Emit(engine.RegistrationChanged{State: callevents.RegistrationOk})
	waitUntil(t, "deferred call", func() bool { return eng.Count("call:bob") == 1 })

	cancel()
	waitUntil(t, "unregister", func() bool { return eng.Count("unregister") == 1 })
	eng.Emit(engine.RegistrationChanged{State: callevents.RegistrationCleared})
	reg.Wait()

	if _, ok := reg.Current(); ok {
		t.Error("Current() reported a finished session")
	}
	if reg.Last() != first {
		t.Error("Last() did not return the finished session")
	}
}

func TestRegistryStartsNewSessionAfterFinish(t *testing.T) {
	eng := &enginetest.Engine{}
	reg := NewRegistry(Config{
		Engine:      eng.Factory(),
		Credentials: credentials.Static{ID: "alice", Password: "secret"},
		Clock:       clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx1, cancel1 := context.WithCancel(context.Background())
	first, err := reg.Request(ctx1, "")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	waitUntil(t, "register command", func() bool { return eng.Count("register") == 1 })
	cancel1()
	<-first.Done()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second, err := reg.Request(ctx2, "")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if second == first {
		t.Fatal("Request() reused a finished session")
	}
	waitUntil(t, "second register command", func() bool { return eng.Count("register") == 2 })

	cancel2()
	<-second.Done()
	reg.Wait()
}

func TestRegistryClosedRejectsRequests(t *testing.T) {
	eng := &enginetest.Engine{}
	reg := NewRegistry(Config{
		Engine:      eng.Factory(),
		Credentials: credentials.Static{ID: "alice", Password: "secret"},
		Clock:       clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	first, err := reg.Request(ctx, "")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	waitUntil(t, "register command", func() bool { return eng.Count("register") == 1 })

	cancel()
	reg.Close()
	if _, err := reg.Request(context.Background(), "bob"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Request() after Close = %v, want ErrNotRunning", err)
	}
	reg.Wait()
	<-first.Done()

	if got := eng.Count("register"); got != 1 {
		t.Errorf("register sent %d times, want 1", got)
	}
	if reg.Last() != first {
		t.Error("Last() changed after a rejected request")
	}
}
