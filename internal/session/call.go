package session

import (
	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/calllog"
	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/effects"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/metrics"
	"github.com/sebas/softline/internal/platform"
	"github.com/sebas/softline/internal/quality"
)

func (o *Orchestrator) onCallState(e engine.CallStateChanged) {
	before := o.machine.Session()
	if !o.machine.OnEngineCallEvent(e.PeerID, e.State, e.Message) {
		return
	}
	after := o.machine.Session()
	if e.State.IsNewCall() && after.GuiState == callstate.GuiConnectingToServer {
		o.onCallStarted(after)
	}
	o.callChanged(before, after)
}

func (o *Orchestrator) onEncryption(e engine.EncryptionChanged) {
	before := o.machine.Session()
	if o.machine.OnEncryptionChanged(e.Encrypted, e.AuthToken, e.Verified) {
		o.callChanged(before, o.machine.Session())
	}
}

func (o *Orchestrator) onCallStats(e engine.CallStats) {
	q := callevents.QualityFromFloat(e.Quality)

	before := o.machine.Session()
	if o.machine.OnStats(q, e.Duration) {
		o.callChanged(before, o.machine.Session())
	}

	changed := o.aggregator.Update(quality.Sample{
		Quality:            q,
		Codec:              e.Codec,
		IceState:           e.IceState,
		UploadBandwidth:    e.UploadBandwidth,
		DownloadBandwidth:  e.DownloadBandwidth,
		Jitter:             e.Jitter,
		PacketLossPerMille: e.PacketLossPerMille,
		LatePackets:        e.LatePackets,
		RoundTripDelay:     e.RoundTripDelay,
	})
	if changed {
		metrics.ObserveCallQuality(int(q), e.Jitter)
		o.publish(broadcast.ConnectionDetailsChanged(o.aggregator.Details()))
	}
}

// callChanged reacts to every observable change of the call session.
func (o *Orchestrator) callChanged(before, after callstate.Session) {
	o.updateEffects(before, after)
	o.publish(broadcast.CallStateChanged(after))
	o.publishStatusIfChanged()

	if after.GuiState == callstate.GuiEnded && before.GuiState != callstate.GuiEnded {
		o.onCallEnded(after)
	}
}

func (o *Orchestrator) onCallStarted(s callstate.Session) {
	o.logger.Info("[Session] Call started", "peer", s.PeerID, "incoming", s.Incoming)
	metrics.RecordCallStarted(s.Incoming)

	o.callEndHandled = false
	o.unencryptedAccepted = false
	o.pendingCall = ""

	if !o.cfg.AudioFocus.Granted() {
		o.cfg.AudioFocus.Request()
	}
	o.aggregator.Reset()
	o.publish(broadcast.ConnectionDetailsChanged(o.aggregator.Details()))
	o.cfg.Effects.Prepare(effects.EncryptionHandshake)

	if s.IncomingRinging() && o.cfg.OnIncomingCall != nil {
		o.cfg.OnIncomingCall(s)
	}
}

// updateEffects keeps the effects in step with the call phase.
func (o *Orchestrator) updateEffects(before, after callstate.Session) {
	fx := o.cfg.Effects

	if after.GuiState == callstate.GuiEnded {
		fx.StopAll()
		o.cancelTimer(timerEncryptionCheck)
		return
	}

	if after.IncomingRinging() {
		fx.Start(effects.Ringtone)
	} else {
		fx.Stop(effects.Ringtone)
	}

	if after.GuiState == callstate.GuiWaitingForContact {
		fx.Start(effects.WaitingForContact)
	} else {
		fx.Stop(effects.WaitingForContact)
	}

	if after.GuiState == callstate.GuiEncrypting && before.GuiState != callstate.GuiEncrypting {
		fx.StartPrepared(effects.EncryptionHandshake)
		o.setMicrophoneMuted(true)
		o.startTimer(timerEncryptionCheck, o.cfg.EncryptionCheckInterval)
	}
	if after.GuiState == callstate.GuiTalking && before.GuiState != callstate.GuiTalking {
		fx.Stop(effects.EncryptionHandshake)
		o.setMicrophoneMuted(false)
		o.cancelTimer(timerEncryptionCheck)
	}

	if after.GuiState == callstate.GuiTalking && !after.Encrypted && !o.unencryptedAccepted {
		fx.Start(effects.UnencryptedCall)
	} else {
		fx.Stop(effects.UnencryptedCall)
	}
}

func (o *Orchestrator) onCallEnded(s callstate.Session) {
	if o.callEndHandled {
		return
	}
	o.callEndHandled = true

	missed := s.Missed()
	o.logger.Info("[Session] Call ended",
		"peer", s.PeerID,
		"end_reason", s.EndReason.String(),
		"missed", missed,
		"duration", s.Duration,
	)

	o.cfg.AudioFocus.Abandon()
	o.cfg.Effects.StopAll()
	o.ringer.Restore()
	o.mediaPaused = false

	metrics.RecordCallEnded(s.EndReason.String(), missed)
	if o.cfg.CallLog != nil {
		o.cfg.CallLog.Submit(calllog.Entry{
			Peer:      s.PeerID,
			Incoming:  s.Incoming,
			Answered:  s.Answered,
			Missed:    missed,
			EndReason: s.EndReason.String(),
			EndedAt:   o.clock.Now(),
			Duration:  s.Duration,
		})
	}

	if o.aggregator.MarkEnded() {
		o.publish(broadcast.ConnectionDetailsChanged(o.aggregator.Details()))
	}

	o.handleTerminate("call_ended")
}

// endCallLocally ends a call the engine no longer has. It reports whether a
// call was ended.
func (o *Orchestrator) endCallLocally() bool {
	before := o.machine.Session()
	if !o.machine.EndLocally() {
		return false
	}
	o.callChanged(before, o.machine.Session())
	return true
}

func (o *Orchestrator) setMicrophoneMuted(muted bool) {
	o.do("mute", func(eng engine.Engine) error { return eng.SetMicrophoneMuted(muted) })
}

// checkEncryption asks the engine whether a call stuck in the handshake
// still exists.
func (o *Orchestrator) checkEncryption() {
	if o.machine.Session().GuiState != callstate.GuiEncrypting {
		return
	}
	gen := o.workerGen
	err := o.worker.Do(func(eng engine.Engine) {
		_ = o.post(activeCallChecked{gen: gen, active: eng.HasActiveCall()})
	})
	if err != nil {
		o.logger.Debug("[Session] Encryption check dropped", "error", err)
	}
}

func (o *Orchestrator) onActiveCallChecked(active bool) {
	if o.goingDown || o.machine.Session().GuiState != callstate.GuiEncrypting {
		return
	}
	if active {
		o.startTimer(timerEncryptionCheck, o.cfg.EncryptionCheckInterval)
		return
	}
	o.logger.Warn("[Session] Encryption handshake stalled without a call, ending it")
	o.endCallLocally()
}

// onTelephony handles a native phone call competing with ours.
func (o *Orchestrator) onTelephony(state platform.TelephonyState) {
	if state == o.telephony {
		return
	}
	o.logger.Info("[Session] Telephony state changed", "from", o.telephony.String(), "to", state.String())
	o.telephony = state

	inCall := o.machine.Session().InCall()
	switch state {
	case platform.TelephonyRinging:
		if !inCall {
			return
		}
		o.ringer.Silence()
		o.cfg.Effects.Start(effects.NativeCallInterruption)

	case platform.TelephonyOffHook:
		o.cfg.Effects.Stop(effects.NativeCallInterruption)
		if inCall && !o.mediaPaused {
			o.mediaPaused = true
			o.do("pause", func(eng engine.Engine) error { return eng.PauseCall() })
		}

	case platform.TelephonyIdle:
		o.ringer.Restore()
		o.cfg.Effects.Stop(effects.NativeCallInterruption)
		if o.mediaPaused {
			o.mediaPaused = false
			if inCall {
				o.do("resume", func(eng engine.Engine) error { return eng.ResumeCall() })
			}
		}
	}
}

func (o *Orchestrator) requestCall(id string) {
	switch {
	case id == "":
		o.logger.Warn("[Session] Call without a peer id ignored")
	case o.goingDown:
		o.logger.Warn("[Session] Call ignored while shutting down", "peer", id)
	case o.tracker.Connected():
		o.placeCall(id)
	default:
		o.logger.Info("[Session] Call deferred until registered", "peer", id)
		o.pendingCall = id
	}
}

func (o *Orchestrator) placeCall(id string) {
	if o.machine.Session().InCall() {
		o.logger.Warn("[Session] Call ignored, another call is in progress", "peer", id)
		return
	}
	o.logger.Info("[Session] Calling", "peer", id)
	o.do("call", func(eng engine.Engine) error { return eng.Call(id) })
}

func (o *Orchestrator) pickUp() {
	if !o.machine.Session().IncomingRinging() {
		o.logger.Warn("[Session] Pick up without a ringing call ignored")
		return
	}
	o.do("pickup", func(eng engine.Engine) error { return eng.PickUp() })
}

func (o *Orchestrator) terminateCall() {
	if o.machine.Session().InCall() {
		o.do("terminate", func(eng engine.Engine) error { return eng.TerminateAllCalls() })
		return
	}
	o.handleTerminate("requested")
}

func (o *Orchestrator) acceptUnencrypted() {
	o.unencryptedAccepted = true
	o.cfg.Effects.Stop(effects.UnencryptedCall)
}
