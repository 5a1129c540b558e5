package session

import (
	"context"
	"sync"
)

// Registry keeps at most one running session. A start request while a
// session runs is routed to it instead of creating a second one.
type Registry struct {
	base Config

	mu      sync.Mutex
	current *Orchestrator
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry creates a registry that builds sessions from base.
func NewRegistry(base Config) *Registry {
	return &Registry{base: base}
}

// Request starts a session, or hands callID to the running one. An empty
// callID only connects. After Close it returns ErrNotRunning.
func (r *Registry) Request(ctx context.Context, callID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrNotRunning
	}

	if o := r.current; o != nil && o.Running() {
		var err error
		if callID != "" {
			err = o.Call(callID)
		} else {
			err = o.Connect()
		}
		if err == nil {
			return o, nil
		}
		// The session finished between the check and the post.
	}

	cfg := r.base
	cfg.StartCall = callID
	o := New(cfg)
	r.current = o

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := o.Run(ctx); err != nil {
			o.logger.Error("[Registry] Session ended with error", "error", err)
		}
	}()
	return o, nil
}

// Current returns the running session, if any.
func (r *Registry) Current() (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || !r.current.Running() {
		return nil, false
	}
	return r.current, true
}

// Last returns the most recent session, running or not.
func (r *Registry) Last() *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close stops the registry from starting sessions. Running sessions are
// left alone; they end with their context.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Wait blocks until every session started by the registry has finished.
// Call Close first so no session starts during the wait.
func (r *Registry) Wait() {
	r.wg.Wait()
}
