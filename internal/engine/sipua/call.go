package sipua

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/engine"
)

type direction int

const (
	directionOutgoing direction = iota
	directionIncoming
)

// call is the single dialog the agent handles at a time.
type call struct {
	id       string
	peer     string
	dir      direction
	state    callevents.EngineCallState
	localTag string
	cseq     uint32

	invite   *sip.Request
	inviteTx sip.ServerTransaction // incoming only
	// final is the 2xx that established the dialog: received for outgoing
	// calls, sent for incoming ones.
	final *sip.Response

	cancel   context.CancelFunc // outgoing INVITE in flight
	localEnd bool

	media      *mediaSession
	remote     remoteMedia
	answeredAt time.Time

	statsAt    time.Time
	statsSent  uint64
	statsRecvd uint64
}

func (u *UA) setStateLocked(c *call, state callevents.EngineCallState, message string) {
	c.state = state
	u.log.Debug("[Call] State", "call_id", c.id, "peer", c.peer, "state", state, "message", message)
	u.emitLocked(engine.CallStateChanged{PeerID: c.peer, State: state, Message: message})
}

// endLocked reports the terminal state and frees the call.
func (u *UA) endLocked(c *call, state callevents.EngineCallState, message string) {
	if u.call != c {
		return
	}
	u.setStateLocked(c, state, message)
	_ = c.media.Close()
	u.call = nil
	u.setStateLocked(c, callevents.EngineReleased, msgCallReleased)
}

func (u *UA) streamsRunningLocked(c *call) {
	u.setStateLocked(c, callevents.EngineStreamsRunning, "Streams running")
	u.emitLocked(engine.EncryptionChanged{})
	c.statsAt = time.Now()
}

// Call places an outgoing call to id.
func (u *UA) Call(id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.call != nil {
		return &engine.CallError{Op: "call", Peer: id, Cause: engine.ErrCallInProgress}
	}
	if u.account.user == "" {
		return &engine.CallError{Op: "call", Peer: id, Cause: engine.ErrNotRegistered}
	}

	media, err := listenMedia("", u.log)
	if err != nil {
		return &engine.CallError{Op: "call", Peer: id, Cause: err}
	}
	offer, err := buildSDP(u.cfg.AdvertiseAddr, media.LocalPort(), newSessionID())
	if err != nil {
		_ = media.Close()
		return &engine.CallError{Op: "call", Peer: id, Cause: err}
	}

	c := &call{
		id:       uuid.New().String(),
		peer:     id,
		dir:      directionOutgoing,
		localTag: generateTag(),
		cseq:     1,
		media:    media,
	}
	c.invite = u.buildInvite(c, offer)

	ctx, cancel := context.WithTimeout(u.ctx, u.cfg.InviteTimeout)
	c.cancel = cancel
	u.call = c
	u.setStateLocked(c, callevents.EngineOutgoingInit, "Starting outgoing call")

	u.spawn(func(context.Context) {
		defer cancel()
		u.runInvite(ctx, c)
	})
	return nil
}

func (u *UA) buildInvite(c *call, offer []byte) *sip.Request {
	target := sip.Uri{Scheme: "sip", User: c.peer, Host: u.cfg.Domain}
	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", c.localTag)
	invite.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: u.account.user, Host: u.cfg.Domain},
		Params:  fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})

	callID := sip.CallIDHeader(c.id)
	invite.AppendHeader(&callID)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: c.cseq, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: u.contactURI(u.account.user)})
	invite.AppendHeader(sip.NewHeader("User-Agent", userAgent))

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(offer)

	invite.SetDestination(u.cfg.Registrar)
	return invite
}

// runInvite drives the client INVITE transaction until a final outcome.
func (u *UA) runInvite(ctx context.Context, c *call) {
	tx, err := u.client.TransactionRequest(ctx, c.invite)
	if err != nil {
		u.log.Warn("[Call] INVITE failed", "call_id", c.id, "error", err)
		u.mu.Lock()
		u.endLocked(c, callevents.EngineError, msgRequestTimeout)
		u.mu.Unlock()
		return
	}

	u.mu.Lock()
	if u.call == c {
		u.setStateLocked(c, callevents.EngineOutgoingProgress, "Outgoing call in progress")
	}
	u.mu.Unlock()
	u.log.Info("[Call] INVITE sent", "call_id", c.id, "target", c.invite.Recipient.String())

	for {
		select {
		case <-ctx.Done():
			u.abandonInvite(ctx, c)
			return
		case resp := <-tx.Responses():
			if resp == nil {
				if ctx.Err() != nil {
					u.abandonInvite(ctx, c)
					return
				}
				u.mu.Lock()
				u.endLocked(c, callevents.EngineError, msgRequestTimeout)
				u.mu.Unlock()
				return
			}
			if u.handleInviteResponse(c, resp) {
				return
			}
		case <-tx.Done():
			if ctx.Err() != nil {
				u.abandonInvite(ctx, c)
				return
			}
			u.mu.Lock()
			u.endLocked(c, callevents.EngineError, msgRequestTimeout)
			u.mu.Unlock()
			return
		}
	}
}

// abandonInvite cancels an unanswered outgoing call after a local hangup,
// a timeout or shutdown.
func (u *UA) abandonInvite(ctx context.Context, c *call) {
	if u.ctx.Err() != nil {
		return
	}
	if err := u.sendCancel(c); err != nil {
		u.log.Warn("[Call] CANCEL failed", "call_id", c.id, "error", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if c.localEnd || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		u.endLocked(c, callevents.EngineCallEnd, msgCallTerminated)
		return
	}
	u.endLocked(c, callevents.EngineError, msgRequestTimeout)
}

// handleInviteResponse reports whether resp ended the transaction.
func (u *UA) handleInviteResponse(c *call, resp *sip.Response) bool {
	code := int(resp.StatusCode)
	u.log.Debug("[Call] Response", "call_id", c.id, "status", code, "reason", resp.Reason)

	switch {
	case code < 180:
		return false

	case code < 200:
		state, message := callevents.EngineOutgoingRinging, "Remote ringing"
		if code == 183 || len(resp.Body()) > 0 {
			state, message = callevents.EngineOutgoingEarlyMedia, "Early media"
			if rm, err := parseSDP(resp.Body()); err == nil {
				c.media.Start(rm.Addr)
			}
		}
		u.mu.Lock()
		if u.call == c && c.state != state {
			u.setStateLocked(c, state, message)
		}
		u.mu.Unlock()
		return false

	case code < 300:
		u.answered(c, resp)
		return true

	default:
		u.mu.Lock()
		u.endLocked(c, callevents.EngineError, failureMessage(code, resp.Reason))
		u.mu.Unlock()
		return true
	}
}

func (u *UA) answered(c *call, resp *sip.Response) {
	if err := u.sendAck(c, resp); err != nil {
		u.log.Error("[Call] Failed to send ACK", "call_id", c.id, "error", err)
	}
	rm, sdpErr := parseSDP(resp.Body())

	u.mu.Lock()
	c.final = resp
	if u.call != c || c.localEnd || sdpErr != nil {
		if sdpErr != nil {
			u.log.Warn("[Call] Unusable answer", "call_id", c.id, "error", sdpErr)
			u.endLocked(c, callevents.EngineError, callevents.MessageIncompatibleMedia)
		} else {
			u.endLocked(c, callevents.EngineCallEnd, msgCallTerminated)
		}
		u.mu.Unlock()
		u.spawn(func(ctx context.Context) { u.sendBye(ctx, c) })
		return
	}

	c.remote = rm
	c.answeredAt = time.Now()
	c.media.Start(rm.Addr)
	u.setStateLocked(c, callevents.EngineConnected, "Connected")
	u.streamsRunningLocked(c)
	u.mu.Unlock()

	u.log.Info("[Call] Answered", "call_id", c.id, "peer", c.peer, "remote_media", rm.Addr.String())
}

// PickUp answers the ringing incoming call.
func (u *UA) PickUp() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	c := u.call
	if c == nil || c.dir != directionIncoming || c.state != callevents.EngineIncomingReceived {
		return &engine.CallError{Op: "pickup", Cause: engine.ErrNoActiveCall}
	}

	answer, err := buildSDP(u.cfg.AdvertiseAddr, c.media.LocalPort(), newSessionID())
	if err != nil {
		return &engine.CallError{Op: "pickup", Peer: c.peer, Cause: err}
	}
	resp := sip.NewResponseFromRequest(c.invite, sip.StatusOK, "OK", answer)
	setToTag(resp, c.localTag)
	resp.AppendHeader(&sip.ContactHeader{Address: u.contactURI(u.account.user)})
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)

	if err := c.inviteTx.Respond(resp); err != nil {
		return &engine.CallError{Op: "pickup", Peer: c.peer, Cause: err}
	}

	c.final = resp
	c.answeredAt = time.Now()
	c.media.Start(c.remote.Addr)
	u.setStateLocked(c, callevents.EngineConnected, "Connected")
	return nil
}

// TerminateAllCalls hangs up the current call, whatever its phase.
func (u *UA) TerminateAllCalls() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	c := u.call
	if c == nil {
		return nil
	}
	switch {
	case c.dir == directionOutgoing && c.answeredAt.IsZero():
		c.localEnd = true
		c.cancel()
	case c.dir == directionIncoming && c.answeredAt.IsZero():
		resp := sip.NewResponseFromRequest(c.invite, sip.StatusCode(603), "Decline", nil)
		setToTag(resp, c.localTag)
		if err := c.inviteTx.Respond(resp); err != nil {
			u.log.Warn("[Call] Failed to decline", "call_id", c.id, "error", err)
		}
		u.endLocked(c, callevents.EngineCallEnd, msgCallTerminated)
	default:
		u.endLocked(c, callevents.EngineCallEnd, msgCallTerminated)
		u.spawn(func(ctx context.Context) { u.sendBye(ctx, c) })
	}
	return nil
}

func (u *UA) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	peer := ""
	if from := req.From(); from != nil {
		peer = from.Address.User
	}

	u.mu.Lock()
	if u.call != nil {
		u.mu.Unlock()
		u.respond(req, tx, 486, "Busy Here")
		return
	}
	rm, err := parseSDP(req.Body())
	if err != nil {
		u.mu.Unlock()
		u.log.Info("[Call] Rejecting incoming call", "peer", peer, "error", err)
		u.respond(req, tx, 488, "Not Acceptable Here")
		return
	}
	media, err := listenMedia("", u.log)
	if err != nil {
		u.mu.Unlock()
		u.log.Error("[Call] Media allocation failed", "error", err)
		u.respond(req, tx, 500, "Server Internal Error")
		return
	}
	c := &call{
		id:       callIDOf(req),
		peer:     peer,
		dir:      directionIncoming,
		localTag: generateTag(),
		invite:   req,
		inviteTx: tx,
		media:    media,
		remote:   rm,
	}
	u.call = c
	u.mu.Unlock()

	u.respond(req, tx, 100, "Trying")
	ringing := sip.NewResponseFromRequest(req, sip.StatusCode(180), "Ringing", nil)
	setToTag(ringing, c.localTag)
	if err := tx.Respond(ringing); err != nil {
		u.log.Warn("[Call] Failed to send 180 Ringing", "call_id", c.id, "error", err)
	}

	u.mu.Lock()
	if u.call == c {
		u.setStateLocked(c, callevents.EngineIncomingReceived, "Incoming call")
	}
	u.mu.Unlock()
	u.log.Info("[Call] Incoming", "call_id", c.id, "peer", peer, "source", req.Source())
}

func (u *UA) onAck(req *sip.Request, _ sip.ServerTransaction) {
	u.mu.Lock()
	defer u.mu.Unlock()
	c := u.call
	if c == nil || c.id != callIDOf(req) || c.state != callevents.EngineConnected {
		return
	}
	u.streamsRunningLocked(c)
}

func (u *UA) onBye(req *sip.Request, tx sip.ServerTransaction) {
	u.mu.Lock()
	c := u.call
	if c == nil || c.id != callIDOf(req) {
		u.mu.Unlock()
		u.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}
	u.endLocked(c, callevents.EngineCallEnd, msgCallTerminated)
	u.mu.Unlock()

	u.respond(req, tx, 200, "OK")
	u.log.Info("[Call] BYE received", "call_id", c.id)
}

func (u *UA) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	u.mu.Lock()
	c := u.call
	if c == nil || c.id != callIDOf(req) || c.dir != directionIncoming || !c.answeredAt.IsZero() {
		u.mu.Unlock()
		u.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}
	u.endLocked(c, callevents.EngineCallEnd, msgCallTerminated)
	u.mu.Unlock()

	u.respond(req, tx, 200, "OK")
	terminated := sip.NewResponseFromRequest(c.invite, sip.StatusCode(487), "Request Terminated", nil)
	setToTag(terminated, c.localTag)
	_ = c.inviteTx.Respond(terminated)
	u.log.Info("[Call] CANCEL received", "call_id", c.id)
}

func (u *UA) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	resp := sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil)
	if err := tx.Respond(resp); err != nil {
		u.log.Warn("[SIP] Failed to respond", "method", req.Method, "status", code, "error", err)
	}
}

// sendAck acknowledges a 2xx. The ACK is a new request sent to the remote
// target, outside the INVITE transaction.
func (u *UA) sendAck(c *call, resp *sip.Response) error {
	target := c.invite.Recipient
	if contact := resp.Contact(); contact != nil {
		target = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, target)
	sip.CopyHeaders("From", c.invite, ack)
	sip.CopyHeaders("Call-ID", c.invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	ack.AppendHeader(&sip.CSeqHeader{SeqNo: c.cseq, MethodName: sip.ACK})
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	ack.SetDestination(responseSource(resp, u.cfg.Registrar))
	if err := u.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

func (u *UA) sendCancel(c *call) error {
	cancelReq := sip.NewRequest(sip.CANCEL, c.invite.Recipient)
	sip.CopyHeaders("Via", c.invite, cancelReq)
	sip.CopyHeaders("From", c.invite, cancelReq)
	sip.CopyHeaders("To", c.invite, cancelReq)
	sip.CopyHeaders("Call-ID", c.invite, cancelReq)
	cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: c.cseq, MethodName: sip.CANCEL})
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)
	cancelReq.SetDestination(u.cfg.Registrar)

	ctx, cancel := context.WithTimeout(u.ctx, 5*time.Second)
	defer cancel()
	_, err := u.roundTrip(ctx, cancelReq)
	return err
}

// sendBye ends an established dialog. From and To are swapped for calls we
// answered.
func (u *UA) sendBye(ctx context.Context, c *call) {
	if c.final == nil {
		return
	}

	var target sip.Uri
	var from *sip.FromHeader
	var to *sip.ToHeader
	dest := u.cfg.Registrar

	if c.dir == directionOutgoing {
		target = c.invite.Recipient
		if contact := c.final.Contact(); contact != nil {
			target = contact.Address
		}
		if f := c.invite.From(); f != nil {
			from = &sip.FromHeader{DisplayName: f.DisplayName, Address: f.Address, Params: f.Params.Clone()}
		}
		if t := c.final.To(); t != nil {
			to = &sip.ToHeader{DisplayName: t.DisplayName, Address: t.Address, Params: t.Params.Clone()}
		}
		dest = responseSource(c.final, dest)
	} else {
		if contact := c.invite.Contact(); contact != nil {
			target = contact.Address
			target.UriParams = sip.NewParams()
		} else if f := c.invite.From(); f != nil {
			target = f.Address
		}
		if t := c.final.To(); t != nil {
			from = &sip.FromHeader{DisplayName: t.DisplayName, Address: t.Address, Params: t.Params.Clone()}
		}
		if f := c.invite.From(); f != nil {
			to = &sip.ToHeader{DisplayName: f.DisplayName, Address: f.Address, Params: f.Params.Clone()}
		}
		if src := c.invite.Source(); src != "" {
			dest = src
		}
	}

	bye := sip.NewRequest(sip.BYE, target)
	if from != nil {
		bye.AppendHeader(from)
	}
	if to != nil {
		bye.AppendHeader(to)
	}
	sip.CopyHeaders("Call-ID", c.invite, bye)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: c.cseq + 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	bye.SetDestination(dest)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := u.roundTrip(ctx, bye)
	if err != nil {
		u.log.Warn("[Call] BYE failed", "call_id", c.id, "error", err)
		return
	}
	u.log.Debug("[Call] BYE answered", "call_id", c.id, "status", int(resp.StatusCode))
}

func setToTag(resp *sip.Response, tag string) {
	to := resp.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	if _, ok := to.Params.Get("tag"); !ok {
		to.Params.Add("tag", tag)
	}
}

func callIDOf(req *sip.Request) string {
	if id := req.CallID(); id != nil {
		return string(*id)
	}
	return ""
}

func responseSource(resp *sip.Response, fallback string) string {
	if src := resp.Source(); src != "" {
		return src
	}
	return fallback
}
