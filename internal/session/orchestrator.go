// Package session runs one call session: it registers with the server, drives
// at most one call, and shuts itself down when the call ends or the session
// stays idle.
//
// The Orchestrator is an actor. Every public method only queues an event;
// a single goroutine (Run) owns all session state and dispatches the events
// in order. The engine lives on its own worker goroutine and talks back
// through the same inbox.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/clock"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/metrics"
	"github.com/sebas/softline/internal/platform"
	"github.com/sebas/softline/internal/quality"
	"github.com/sebas/softline/internal/registration"
)

// Orchestrator is the top-level actor of a call session.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	// inbox
	mu       sync.Mutex
	inbox    []event
	notify   chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
	snapshot atomic.Pointer[Snapshot]

	// Everything below is owned by the Run goroutine.
	machine    *callstate.Machine
	tracker    *registration.Tracker
	aggregator *quality.Aggregator
	ringer     *platform.RingerSaver
	limiter    *rate.Limiter

	worker    *engine.Worker
	workerGen int
	restarts  int

	phase         Phase
	status        callevents.SessionStatus
	seq           uint64
	configMissing bool
	pendingCall   string

	unencryptedAccepted bool
	callEndHandled      bool
	telephony           platform.TelephonyState
	mediaPaused         bool

	timers   [numTimers]clock.Timer
	timerSeq [numTimers]uint64

	// shutdown latch
	goingDown              bool
	terminateAlreadyCalled bool
	finished               bool
	exitErr                error
}

// New creates an orchestrator. Call Run to start it.
func New(cfg Config) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:         cfg,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		tracker:     registration.NewTracker(cfg.Logger),
		aggregator:  quality.NewAggregator(),
		ringer:      platform.NewRingerSaver(cfg.Ringer),
		limiter:     rate.NewLimiter(rate.Every(cfg.RefreshMinInterval), 1),
		pendingCall: cfg.StartCall,
	}
	o.machine = callstate.NewMachine(
		callstate.WithClock(cfg.Clock.Now),
		callstate.WithLogger(cfg.Logger),
	)
	o.publishSnapshot()
	return o
}

// Run starts the session and processes events until the shutdown sequence
// completes. Cancelling ctx requests shutdown; Run still returns only after
// the sequence finished.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)
	defer o.stopped.Store(true)

	o.startup()

	ctxDone := ctx.Done()
	for !o.finished {
		select {
		case <-ctxDone:
			ctxDone = nil
			o.logger.Info("[Session] Context cancelled, shutting down")
			o.handleTerminate("requested")
			o.afterDispatch()
		case <-o.notify:
			for _, ev := range o.drain() {
				o.dispatch(ev)
				o.afterDispatch()
				if o.finished {
					break
				}
			}
		}
	}
	return o.exitErr
}

// Done is closed when Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// post queues ev for the Run goroutine. It never blocks.
func (o *Orchestrator) post(ev event) error {
	if o.stopped.Load() {
		return ErrNotRunning
	}
	o.mu.Lock()
	o.inbox = append(o.inbox, ev)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

func (o *Orchestrator) drain() []event {
	o.mu.Lock()
	defer o.mu.Unlock()
	evs := o.inbox
	o.inbox = nil
	return evs
}

func (o *Orchestrator) dispatch(ev event) {
	switch e := ev.(type) {
	case engineEvent:
		if e.gen != o.workerGen {
			o.logger.Debug("[Session] Dropping event from replaced worker", "gen", e.gen)
			return
		}
		o.onEngineEvent(e.ev)
	case workerExited:
		o.onWorkerExited(e.gen, e.err)
	case activeCallChecked:
		if e.gen == o.workerGen {
			o.onActiveCallChecked(e.active)
		}
	case timerFired:
		o.onTimer(e.kind, e.seq)
	case terminateNow:
		o.terminatePrivate()

	case connectCmd:
		o.connect()
	case callCmd:
		o.requestCall(e.id)
	case pickUpCmd:
		o.pickUp()
	case terminateCallCmd:
		o.terminateCall()
	case verifyCmd:
		o.do("verify", func(eng engine.Engine) error { return eng.VerifyAuthToken(e.verified) })
	case acceptUnencryptedCmd:
		o.acceptUnencrypted()
	case volumesCmd:
		o.do("volumes", func(eng engine.Engine) error { return eng.SetAudioVolumes(e.v) })
	case terminateCmd:
		o.handleTerminate(e.cause)

	case telephonyChanged:
		o.onTelephony(e.state)
	case connectivityChanged:
		o.onConnectivity(e.connected)

	default:
		o.logger.Error("[Session] Unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

func (o *Orchestrator) afterDispatch() {
	o.publishStatusIfChanged()
	phase := phaseFor(o.status, o.goingDown)
	if phase != o.phase {
		o.logger.Info("[Session] Phase changed", "from", o.phase.String(), "to", phase.String())
		o.phase = phase
	}
	o.publishSnapshot()
}

func (o *Orchestrator) onEngineEvent(ev engine.Event) {
	switch e := ev.(type) {
	case engine.RegistrationChanged:
		o.onRegistration(e)
	case engine.CallStateChanged:
		o.onCallState(e)
	case engine.CallStats:
		o.onCallStats(e)
	case engine.EncryptionChanged:
		o.onEncryption(e)
	}
}

// sessionStatus overlays the call on the registration status.
func (o *Orchestrator) sessionStatus() callevents.SessionStatus {
	s := o.tracker.Status()
	if s == callevents.StatusOnline && o.machine.Session().InCall() {
		return callevents.StatusOngoingCall
	}
	return s
}

func (o *Orchestrator) publishStatusIfChanged() {
	s := o.sessionStatus()
	if s == o.status {
		return
	}
	o.status = s
	metrics.SetSessionStatus(s.String())
	o.publish(broadcast.StatusChanged(s))
}

func (o *Orchestrator) publish(n broadcast.Notification) {
	o.seq++
	n.Seq = o.seq
	n.Time = o.clock.Now()
	o.cfg.Publisher.PublishAsync(n)
}

func (o *Orchestrator) publishSnapshot() {
	o.snapshot.Store(&Snapshot{
		Phase:                o.phase,
		Status:               o.status,
		Call:                 o.machine.Session(),
		Connection:           o.aggregator.Details(),
		ConfigurationMissing: o.configMissing,
		Finished:             o.finished,
	})
}

// Snapshot returns the state as of the last dispatched event.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snapshot.Load()
}

// Status returns the current session status.
func (o *Orchestrator) Status() callevents.SessionStatus {
	return o.Snapshot().Status
}

// CallSession returns the current call.
func (o *Orchestrator) CallSession() callstate.Session {
	return o.Snapshot().Call
}

// ConnectionDetails returns the current connection details.
func (o *Orchestrator) ConnectionDetails() quality.Details {
	return o.Snapshot().Connection
}

// Phase returns the orchestrator phase.
func (o *Orchestrator) Phase() Phase {
	return o.Snapshot().Phase
}

// Running reports whether the session accepts commands.
func (o *Orchestrator) Running() bool {
	return !o.stopped.Load()
}

// Connect loads the credentials and registers, e.g. after the credentials
// file appeared.
func (o *Orchestrator) Connect() error { return o.post(connectCmd{}) }

// Call places an outgoing call, once registered.
func (o *Orchestrator) Call(id string) error { return o.post(callCmd{id: id}) }

// PickUp answers the ringing incoming call.
func (o *Orchestrator) PickUp() error { return o.post(pickUpCmd{}) }

// TerminateCall hangs up, or shuts the session down when there is no call.
func (o *Orchestrator) TerminateCall() error { return o.post(terminateCallCmd{}) }

// VerifyAuthToken records whether the user confirmed the authentication token.
func (o *Orchestrator) VerifyAuthToken(verified bool) error {
	return o.post(verifyCmd{verified: verified})
}

// AcceptUnencryptedCall silences the unencrypted-call alarm for this call.
func (o *Orchestrator) AcceptUnencryptedCall() error { return o.post(acceptUnencryptedCmd{}) }

// SetVolumes sets the speaker and microphone gains.
func (o *Orchestrator) SetVolumes(v engine.Volumes) error { return o.post(volumesCmd{v: v}) }

// Terminate starts the shutdown sequence.
func (o *Orchestrator) Terminate() error { return o.post(terminateCmd{cause: "requested"}) }

// TelephonyChanged reports a native phone state change.
func (o *Orchestrator) TelephonyChanged(state platform.TelephonyState) error {
	return o.post(telephonyChanged{state: state})
}

// ConnectivityChanged reports a network change.
func (o *Orchestrator) ConnectivityChanged(connected bool) error {
	return o.post(connectivityChanged{connected: connected})
}
