package session

import (
	"errors"
	"time"

	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/credentials"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/metrics"
)

// startup acquires the retention locks, starts the engine worker and the
// terminate checker, and connects.
func (o *Orchestrator) startup() {
	o.logger.Info("[Session] Starting", "start_call", o.pendingCall)
	metrics.SetSessionStatus(o.status.String())

	o.cfg.PowerLock.Acquire()
	o.cfg.NetworkLock.Acquire()
	o.startWorker()
	o.startTimer(timerTerminateCheck, o.cfg.TerminateCheckInterval)
	o.connect()
	o.afterDispatch()
}

func (o *Orchestrator) startWorker() {
	o.workerGen++
	gen := o.workerGen
	o.worker = engine.NewWorker(engine.WorkerConfig{
		Factory: o.cfg.Engine,
		Sink: func(ev engine.Event) {
			_ = o.post(engineEvent{gen: gen, ev: ev})
		},
		OnExit: func(err error) {
			_ = o.post(workerExited{gen: gen, err: err})
		},
		IterateInterval: o.cfg.IterateInterval,
		Clock:           o.clock,
		Logger:          o.logger,
	})
	o.worker.Start()
	o.logger.Debug("[Session] Engine worker started", "gen", gen)
}

// do queues an engine command on the worker. Command failures are logged;
// their effect, if any, arrives later as engine events.
func (o *Orchestrator) do(op string, cmd func(engine.Engine) error) {
	if o.worker == nil {
		return
	}
	logger := o.logger
	err := o.worker.Do(func(eng engine.Engine) {
		if err := cmd(eng); err != nil {
			logger.Warn("[Session] Engine command failed", "op", op, "error", err)
		}
	})
	if err != nil {
		o.logger.Debug("[Session] Engine command dropped", "op", op, "error", err)
	}
}

// connect loads the credentials and registers. Missing credentials are not
// an error: the session waits for Connect to be called again.
func (o *Orchestrator) connect() {
	if o.goingDown {
		return
	}
	if o.tracker.Connected() {
		o.logger.Debug("[Session] Already registered")
		return
	}

	creds, err := o.cfg.Credentials.Load()
	if err != nil {
		if !o.configMissing {
			if errors.Is(err, credentials.ErrConfigurationMissing) {
				o.logger.Warn("[Session] Credentials not configured, waiting", "error", err)
			} else {
				o.logger.Error("[Session] Failed to load credentials", "error", err)
			}
		}
		o.configMissing = true
		return
	}
	o.configMissing = false

	o.logger.Info("[Session] Registering", "id", creds.ID)
	o.do("register", func(eng engine.Engine) error {
		return eng.Register(creds.ID, creds.Password)
	})
}

func (o *Orchestrator) onRegistration(e engine.RegistrationChanged) {
	noise := o.tracker.IsRefreshNoise(e.State, e.Message)
	metrics.RecordRegistrationEvent(e.State.String(), noise)

	if _, changed := o.tracker.OnRegistrationState(e.State, e.Message); changed {
		o.publishStatusIfChanged()
	}

	if o.goingDown {
		switch e.State {
		case callevents.RegistrationCleared, callevents.RegistrationFailed, callevents.RegistrationNone:
			o.terminatePrivate()
		}
		return
	}
	if o.tracker.Connected() && o.pendingCall != "" {
		id := o.pendingCall
		o.pendingCall = ""
		o.placeCall(id)
	}
}

func (o *Orchestrator) onConnectivity(connected bool) {
	if !connected || o.goingDown || !o.tracker.Connected() {
		return
	}
	if !o.limiter.AllowN(o.clock.Now(), 1) {
		o.logger.Debug("[Session] Registration refresh rate limited")
		return
	}
	o.logger.Info("[Session] Network changed, refreshing registration")
	o.do("refresh", func(eng engine.Engine) error { return eng.RefreshRegistration() })
}

func (o *Orchestrator) startTimer(kind timerKind, d time.Duration) {
	o.cancelTimer(kind)
	seq := o.timerSeq[kind]
	o.timers[kind] = o.clock.AfterFunc(d, func() {
		_ = o.post(timerFired{kind: kind, seq: seq})
	})
}

// cancelTimer stops the timer and invalidates an expiry already queued.
func (o *Orchestrator) cancelTimer(kind timerKind) {
	if t := o.timers[kind]; t != nil {
		t.Stop()
		o.timers[kind] = nil
	}
	o.timerSeq[kind]++
}

func (o *Orchestrator) cancelAllTimers() {
	for kind := timerKind(0); kind < numTimers; kind++ {
		o.cancelTimer(kind)
	}
}

func (o *Orchestrator) onTimer(kind timerKind, seq uint64) {
	if seq != o.timerSeq[kind] {
		return
	}
	o.timers[kind] = nil
	o.timerSeq[kind]++

	switch kind {
	case timerTerminateCheck:
		o.checkTerminate()
	case timerUnregisterGrace:
		o.logger.Warn("[Session] Unregistration not confirmed in time")
		o.terminatePrivate()
	case timerEncryptionCheck:
		o.checkEncryption()
	}
}

// checkTerminate is the idle watchdog. A session without a call shuts down;
// one that never reached the server first ends with a connection timeout.
func (o *Orchestrator) checkTerminate() {
	if o.goingDown {
		return
	}
	if o.machine.Session().InCall() {
		o.startTimer(timerTerminateCheck, o.cfg.TerminateCheckInterval)
		return
	}

	cause := "idle"
	if !o.tracker.Connected() {
		cause = "connection_timeout"
		before := o.machine.Session()
		if o.machine.ConnectionTimeout() {
			after := o.machine.Session()
			o.logger.Warn("[Session] Server not reached",
				"status", o.tracker.Status().String(),
				"end_reason", after.EndReason.String(),
			)
			o.updateEffects(before, after)
			o.publish(broadcast.CallStateChanged(after))
		}
	}
	o.handleTerminate(cause)
}

// handleTerminate starts the shutdown sequence once. A registered session
// unregisters first and gets a grace period for the confirmation.
func (o *Orchestrator) handleTerminate(cause string) {
	if o.goingDown {
		return
	}
	o.goingDown = true
	metrics.RecordShutdown(cause)
	o.logger.Info("[Session] Shutting down", "cause", cause, "status", o.tracker.Status().String())

	o.cancelTimer(timerTerminateCheck)
	o.cancelTimer(timerEncryptionCheck)
	o.pendingCall = ""

	if o.machine.Session().InCall() {
		o.do("terminate", func(eng engine.Engine) error { return eng.TerminateAllCalls() })
	}

	if o.tracker.Connected() {
		o.do("unregister", func(eng engine.Engine) error { return eng.Unregister() })
		o.startTimer(timerUnregisterGrace, o.cfg.UnregisterGrace)
		return
	}
	_ = o.post(terminateNow{})
}

// terminatePrivate releases everything and stops the worker. Both the grace
// timer and the unregistration result may call it; it runs once.
func (o *Orchestrator) terminatePrivate() {
	if o.terminateAlreadyCalled {
		return
	}
	o.terminateAlreadyCalled = true
	o.logger.Debug("[Session] Terminating")

	o.cancelAllTimers()
	o.cfg.Effects.StopAll()
	o.cfg.AudioFocus.Abandon()
	o.ringer.Restore()

	o.worker.Stop()
	joined := o.worker.Join(o.cfg.JoinTimeout)
	if !joined {
		o.logger.Warn("[Session] Engine worker did not stop in time", "timeout", o.cfg.JoinTimeout)
	}
	o.onJoin(true)
}

// onJoin runs after the worker ended. A requested shutdown finishes the
// session; an unexpected exit restarts the worker.
func (o *Orchestrator) onJoin(requested bool) {
	if requested {
		o.finish()
		return
	}
	o.restartWorker()
}

func (o *Orchestrator) onWorkerExited(gen int, err error) {
	if gen != o.workerGen || o.terminateAlreadyCalled {
		return
	}
	o.logger.Error("[Session] Engine worker exited unexpectedly", "gen", gen, "error", err)
	if o.goingDown {
		o.terminatePrivate()
		return
	}
	o.onJoin(false)
}

func (o *Orchestrator) restartWorker() {
	o.tracker.Reset()
	o.publishStatusIfChanged()

	// The call died with the engine; ending it shuts the session down.
	if o.endCallLocally() {
		return
	}
	if o.restarts >= o.cfg.MaxWorkerRestarts {
		o.logger.Error("[Session] Giving up on engine worker", "restarts", o.restarts)
		o.exitErr = ErrWorkerFailed
		o.handleTerminate("worker_failed")
		return
	}
	o.restarts++
	metrics.RecordWorkerRestart()
	o.logger.Warn("[Session] Restarting engine worker", "attempt", o.restarts)

	o.startWorker()
	o.connect()
}

// finish is the last step of the shutdown sequence.
func (o *Orchestrator) finish() {
	o.cfg.PowerLock.Release()
	o.cfg.NetworkLock.Release()
	o.publish(broadcast.ServiceFinishing())
	o.finished = true
	o.stopped.Store(true)
	o.logger.Info("[Session] Finished", "status", o.tracker.Status().String())
}
