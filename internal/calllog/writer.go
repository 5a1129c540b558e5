package calllog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder accepts finished calls without blocking the caller.
type Recorder interface {
	Submit(e Entry)
}

// AsyncWriter queues entries and writes them to a Store from its own
// goroutine. Entries are dropped when the queue is full.
type AsyncWriter struct {
	store  *Store
	logger *slog.Logger
	ch     chan Entry

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
	started atomic.Bool
}

// NewAsyncWriter returns a writer with a queue of bufferSize entries.
func NewAsyncWriter(store *Store, bufferSize int, logger *slog.Logger) *AsyncWriter {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncWriter{
		store:  store,
		logger: logger,
		ch:     make(chan Entry, bufferSize),
		done:   make(chan struct{}),
	}
}

// Submit queues e. It never blocks.
func (w *AsyncWriter) Submit(e Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.ch <- e:
	default:
		w.dropped.Add(1)
		w.logger.Warn("[CallLog] Entry dropped: queue full", "peer", e.Peer)
	}
}

// Run writes queued entries until Close is called or ctx ends. Either way
// the entries already queued are written before Run returns.
func (w *AsyncWriter) Run(ctx context.Context) {
	w.started.Store(true)
	defer close(w.done)
	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				return
			}
			w.write(ctx, e)
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

func (w *AsyncWriter) drain(ctx context.Context) {
	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				return
			}
			w.write(ctx, e)
		default:
			return
		}
	}
}

// write ignores ctx cancellation; each insert gets its own bound.
func (w *AsyncWriter) write(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	saved, err := w.store.Record(wctx, e)
	if err != nil {
		w.logger.Error("[CallLog] Failed to record call", "peer", e.Peer, "error", err)
		return
	}
	w.logger.Debug("[CallLog] Recorded call", "id", saved.ID, "peer", saved.Peer, "missed", saved.Missed)
}

// Close stops accepting entries and waits up to timeout for Run to drain the
// queue. It reports whether the drain finished.
func (w *AsyncWriter) Close(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()

	if !w.started.Load() {
		return len(w.ch) == 0
	}
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Dropped returns the number of entries that were not queued.
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}
