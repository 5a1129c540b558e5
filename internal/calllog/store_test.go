package calllog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := Entry{
		Peer:      "1002",
		Incoming:  true,
		Answered:  true,
		EndReason: "NONE",
		EndedAt:   time.UnixMilli(1_700_000_000_000),
		Duration:  42 * time.Second,
	}
	saved, err := s.Record(ctx, in)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if saved.ID == uuid.Nil {
		t.Fatal("Record() did not assign an id")
	}

	got, err := s.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestListAndCountMissed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, missed := range []bool{true, false, true} {
		_, err := s.Record(ctx, Entry{
			Peer:     "peer",
			Incoming: true,
			Missed:   missed,
			EndedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if !list[0].EndedAt.After(list[1].EndedAt) {
		t.Errorf("List() not ordered most recent first: %v, %v", list[0].EndedAt, list[1].EndedAt)
	}

	n, err := s.CountMissed(ctx, base)
	if err != nil {
		t.Fatalf("CountMissed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountMissed() = %d, want 2", n)
	}
	if n, _ := s.CountMissed(ctx, base.Add(time.Minute)); n != 1 {
		t.Errorf("CountMissed(later) = %d, want 1", n)
	}
}

func TestAsyncWriter(t *testing.T) {
	s := openTestStore(t)
	w := NewAsyncWriter(s, 4, nil)
	go w.Run(context.Background())

	w.Submit(Entry{Peer: "a", Missed: true, EndedAt: time.Now()})
	w.Submit(Entry{Peer: "b", EndedAt: time.Now()})
	if !w.Close(2 * time.Second) {
		t.Fatal("Close() did not drain in time")
	}

	list, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len(List()) = %d, want 2", len(list))
	}

	w.Submit(Entry{Peer: "late"})
	if got := w.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestAsyncWriterStopsWithContext(t *testing.T) {
	s := openTestStore(t)
	w := NewAsyncWriter(s, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	w.Submit(Entry{Peer: "queued", Missed: true, EndedAt: time.Now()})
	g.Go(func() error {
		w.Run(gctx)
		return nil
	})

	cancel()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	list, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Peer != "queued" {
		t.Errorf("List() = %+v, want the queued entry written", list)
	}
	if !w.Close(time.Second) {
		t.Error("Close() after Run returned = false, want true")
	}
}
