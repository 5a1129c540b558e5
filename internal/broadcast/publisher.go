package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher is the interface for delivering notifications.
// Implementations may be no-op, logging, in-memory (for testing),
// MQTT or a websocket hub.
type Publisher interface {
	// Publish sends a notification. Returns error only for transport failures.
	Publish(ctx context.Context, n Notification) error

	// PublishAsync sends a notification without waiting for delivery.
	// The session actor only uses this form.
	PublishAsync(n Notification)

	// Flush ensures all pending async notifications are delivered.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// NoopPublisher discards all notifications.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that silently discards notifications.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(ctx context.Context, n Notification) error {
	return nil
}

func (p *NoopPublisher) PublishAsync(n Notification) {}

func (p *NoopPublisher) Flush(ctx context.Context) error {
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}

// LoggingPublisher logs notifications at debug level.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher creates a publisher that logs notifications.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, n Notification) error {
	p.PublishAsync(n)
	return nil
}

func (p *LoggingPublisher) PublishAsync(n Notification) {
	attrs := []any{"kind", n.Kind, "seq", n.Seq}
	switch n.Kind {
	case KindStatusChanged:
		attrs = append(attrs, "status", n.Status)
	case KindCallStateChanged:
		attrs = append(attrs, "state", n.Call.GuiState, "peer", n.Call.PeerID, "end_reason", n.Call.EndReason)
	case KindConnectionDetailsChanged:
		attrs = append(attrs, "quality", n.Connection.Quality, "jitter_ms", n.Connection.Jitter)
	}
	p.logger.Debug("[Broadcast] Notification", attrs...)
}

func (p *LoggingPublisher) Flush(ctx context.Context) error {
	return nil
}

func (p *LoggingPublisher) Close() error {
	return nil
}

// ChannelPublisher publishes to an in-memory channel. Used for testing
// and for in-process listeners.
type ChannelPublisher struct {
	mu        sync.RWMutex
	ch        chan Notification
	closed    bool
	dropCount atomic.Int64
}

// NewChannelPublisher creates a publisher backed by a buffered channel.
// Notifications are dropped if the buffer is full.
func NewChannelPublisher(bufferSize int) *ChannelPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelPublisher{ch: make(chan Notification, bufferSize)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, n Notification) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	select {
	case p.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.drop(n)
		return nil
	}
}

func (p *ChannelPublisher) PublishAsync(n Notification) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- n:
	default:
		p.drop(n)
	}
}

func (p *ChannelPublisher) drop(n Notification) {
	p.dropCount.Add(1)
	slog.Warn("[Broadcast] Notification dropped: buffer full", "kind", n.Kind, "seq", n.Seq)
}

func (p *ChannelPublisher) Flush(ctx context.Context) error {
	return nil // Channel is always "flushed"
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// Notifications returns the channel for consuming notifications.
func (p *ChannelPublisher) Notifications() <-chan Notification {
	return p.ch
}

// DroppedCount returns the number of notifications dropped due to overflow.
func (p *ChannelPublisher) DroppedCount() int64 {
	return p.dropCount.Load()
}

// MultiPublisher fans out notifications to multiple publishers.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a publisher that sends to all provided publishers.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *MultiPublisher) PublishAsync(n Notification) {
	for _, pub := range p.publishers {
		pub.PublishAsync(n)
	}
}

func (p *MultiPublisher) Flush(ctx context.Context) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *MultiPublisher) Close() error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
