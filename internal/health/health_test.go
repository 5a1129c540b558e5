package health

import (
	"context"
	"io"
	"log/slog"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/callevents"
)

func TestServingFollowsStatus(t *testing.T) {
	s := NewServer("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	steps := []struct {
		n    broadcast.Notification
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{broadcast.StatusChanged(callevents.StatusConnecting), healthpb.HealthCheckResponse_NOT_SERVING},
		{broadcast.StatusChanged(callevents.StatusOnline), healthpb.HealthCheckResponse_SERVING},
		{broadcast.StatusChanged(callevents.StatusOngoingCall), healthpb.HealthCheckResponse_SERVING},
		{broadcast.StatusChanged(callevents.StatusError), healthpb.HealthCheckResponse_NOT_SERVING},
		{broadcast.StatusChanged(callevents.StatusOnline), healthpb.HealthCheckResponse_SERVING},
		{broadcast.ServiceFinishing(), healthpb.HealthCheckResponse_NOT_SERVING},
	}

	got, err := s.Check(ctx, Service)
	if err != nil || got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Check() = %v, %v, want NOT_SERVING", got, err)
	}
	for _, step := range steps {
		s.PublishAsync(step.n)
		got, err := s.Check(ctx, Service)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if got != step.want {
			t.Errorf("after %s %v: Check() = %v, want %v", step.n.Kind, step.n.Status, got, step.want)
		}
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := NewServer("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}
