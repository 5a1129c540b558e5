package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/softline/internal/clock"
)

// DefaultIterateInterval is the engine pump cadence.
const DefaultIterateInterval = 20 * time.Millisecond

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Factory Factory
	Sink    Sink
	// OnExit is called once when the worker goroutine ends, with the error
	// that ended it or nil after Stop.
	OnExit          func(error)
	IterateInterval time.Duration
	Clock           clock.Clock
	Logger          *slog.Logger
}

// Worker runs the engine on its own goroutine. Jobs are executed in order;
// the engine is pumped between jobs at a fixed cadence.
type Worker struct {
	cfg WorkerConfig

	mu      sync.Mutex
	queue   []func(Engine)
	stopped bool
	notify  chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	err      error
}

// NewWorker creates a worker. Call Start to launch it.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.IterateInterval <= 0 {
		cfg.IterateInterval = DefaultIterateInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Do queues job for the worker goroutine. It never blocks.
func (w *Worker) Do(job func(Engine)) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stop asks the worker to finish. Jobs queued before Stop still run.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.stop)
	})
}

// Join waits up to timeout for the worker goroutine to end.
func (w *Worker) Join(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the worker goroutine has ended.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error that ended the worker. Valid after Done is closed.
func (w *Worker) Err() error {
	<-w.done
	return w.err
}

func (w *Worker) run() {
	var eng Engine
	defer func() {
		if r := recover(); r != nil {
			w.err = &PanicError{Value: r}
			w.cfg.Logger.Error("[Engine] Worker panicked", "panic", r)
		}
		w.mu.Lock()
		w.stopped = true
		w.queue = nil
		w.mu.Unlock()
		if eng != nil {
			if err := eng.Close(); err != nil {
				w.cfg.Logger.Warn("[Engine] Close failed", "error", err)
			}
		}
		close(w.done)
		if w.cfg.OnExit != nil {
			w.cfg.OnExit(w.err)
		}
	}()

	var err error
	eng, err = w.cfg.Factory(w.cfg.Sink)
	if err != nil {
		w.err = err
		w.cfg.Logger.Error("[Engine] Failed to create engine", "error", err)
		return
	}
	w.cfg.Logger.Debug("[Engine] Worker started", "iterate_interval", w.cfg.IterateInterval)

	ticker := w.cfg.Clock.NewTicker(w.cfg.IterateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.runJobs(eng)
			w.cfg.Logger.Debug("[Engine] Worker stopped")
			return
		case <-w.notify:
			w.runJobs(eng)
		case <-ticker.C():
			eng.Iterate()
		}
	}
}

func (w *Worker) runJobs(eng Engine) {
	w.mu.Lock()
	jobs := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, job := range jobs {
		job(eng)
	}
}
