// Package sipua implements engine.Engine with a SIP user agent over UDP and a
// single PCMU RTP stream per call.
package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/engine"
)

const userAgent = "softline"

// Config configures the user agent.
type Config struct {
	// Domain is the SIP domain of the account.
	Domain string
	// Registrar is the host:port all requests are sent to. Defaults to Domain:5060.
	Registrar string
	// ListenAddr is the local UDP address for SIP.
	ListenAddr string
	// AdvertiseAddr is the IP placed in Contact and SDP.
	AdvertiseAddr string
	// Port is the advertised SIP port.
	Port int

	Expires       time.Duration
	InviteTimeout time.Duration
	StatsInterval time.Duration
	// AckTimeout bounds the wait for the ACK of an answered incoming call.
	AckTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Registrar == "" {
		c.Registrar = net.JoinHostPort(c.Domain, "5060")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:5060"
	}
	if c.Port == 0 {
		if _, port, err := net.SplitHostPort(c.ListenAddr); err == nil {
			c.Port, _ = strconv.Atoi(port)
		}
	}
	if c.Expires <= 0 {
		c.Expires = time.Hour
	}
	if c.InviteTimeout <= 0 {
		c.InviteTimeout = 60 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New returns a factory for user agents built from cfg.
func New(cfg Config) engine.Factory {
	return func(sink engine.Sink) (engine.Engine, error) {
		return newUA(cfg, sink)
	}
}

type account struct {
	user     string
	password string
}

// UA is the SIP user agent. Commands come from the engine worker; SIP
// handlers and transaction goroutines queue events that Iterate delivers.
type UA struct {
	cfg    Config
	log    *slog.Logger
	sink   engine.Sink
	sipUA  *sipgo.UserAgent
	client *sipgo.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	regCallID string
	regCSeq   atomic.Uint32

	mu         sync.Mutex
	pending    []engine.Event
	account    account
	regGen     uint64
	registered bool
	refreshAt  time.Time
	call       *call
}

func newUA(cfg Config, sink engine.Sink) (*UA, error) {
	cfg.applyDefaults()

	sipUA, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(sipUA)
	if err != nil {
		sipUA.Close()
		return nil, fmt.Errorf("create SIP server: %w", err)
	}
	client, err := sipgo.NewClient(sipUA)
	if err != nil {
		sipUA.Close()
		return nil, fmt.Errorf("create SIP client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &UA{
		cfg:       cfg,
		log:       cfg.Logger,
		sink:      sink,
		sipUA:     sipUA,
		client:    client,
		ctx:       ctx,
		cancel:    cancel,
		regCallID: uuid.New().String(),
	}

	srv.OnRequest(sip.INVITE, u.onInvite)
	srv.OnRequest(sip.ACK, u.onAck)
	srv.OnRequest(sip.BYE, u.onBye)
	srv.OnRequest(sip.CANCEL, u.onCancel)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if err := srv.ListenAndServe(ctx, "udp", cfg.ListenAddr); err != nil && ctx.Err() == nil {
			u.log.Error("[SIP] Listener stopped", "addr", cfg.ListenAddr, "error", err)
		}
	}()

	u.log.Info("[SIP] User agent started",
		"listen", cfg.ListenAddr,
		"advertise", cfg.AdvertiseAddr,
		"registrar", cfg.Registrar,
	)
	return u, nil
}

// Iterate delivers queued events, refreshes a due registration and samples
// call statistics.
func (u *UA) Iterate() {
	now := time.Now()

	u.mu.Lock()
	if u.registered && !u.refreshAt.IsZero() && !now.Before(u.refreshAt) {
		u.refreshAt = time.Time{}
		u.startRegisterLocked(true)
	}
	if c := u.call; c != nil {
		u.tickCallLocked(c, now)
	}
	events := u.pending
	u.pending = nil
	u.mu.Unlock()

	for _, ev := range events {
		u.sink(ev)
	}
}

func (u *UA) tickCallLocked(c *call, now time.Time) {
	if c.state == callevents.EngineConnected && c.dir == directionIncoming &&
		now.Sub(c.answeredAt) >= u.cfg.AckTimeout {
		u.log.Warn("[SIP] No ACK for answered call, starting media anyway", "call_id", c.id)
		u.streamsRunningLocked(c)
	}
	if c.state != callevents.EngineStreamsRunning && c.state != callevents.EnginePaused {
		return
	}
	if now.Sub(c.statsAt) < u.cfg.StatsInterval {
		return
	}
	u.emitLocked(u.statsLocked(c, now))
}

func (u *UA) statsLocked(c *call, now time.Time) engine.CallStats {
	s := c.media.Stats()
	up, down := -1.0, -1.0
	if elapsed := now.Sub(c.statsAt).Seconds(); elapsed > 0 {
		up = float64(s.BytesSent-c.statsSent) * 8 / 1000 / elapsed
		down = float64(s.BytesRecvd-c.statsRecvd) * 8 / 1000 / elapsed
	}
	c.statsAt, c.statsSent, c.statsRecvd = now, s.BytesSent, s.BytesRecvd

	return engine.CallStats{
		Quality:            qualityScore(s),
		Codec:              codecName,
		IceState:           "not activated",
		UploadBandwidth:    up,
		DownloadBandwidth:  down,
		Jitter:             int(s.Jitter / time.Millisecond),
		PacketLossPerMille: int(s.LossRate * 1000),
		LatePackets:        int64(s.Late),
		Duration:           now.Sub(c.answeredAt),
	}
}

func (u *UA) emitLocked(ev engine.Event) {
	u.pending = append(u.pending, ev)
}

func (u *UA) emit(ev engine.Event) {
	u.mu.Lock()
	u.emitLocked(ev)
	u.mu.Unlock()
}

// spawn runs fn on a tracked goroutine bound to the agent's lifetime.
func (u *UA) spawn(fn func(ctx context.Context)) {
	if u.ctx.Err() != nil {
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		fn(u.ctx)
	}()
}

// VerifyAuthToken records the user's verdict. Media is not encrypted, so
// there is no token to confirm.
func (u *UA) VerifyAuthToken(verified bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.call == nil {
		return &engine.CallError{Op: "verify", Cause: engine.ErrNoActiveCall}
	}
	u.log.Debug("[SIP] Auth token verdict ignored for unencrypted call", "verified", verified)
	return nil
}

// SetAudioVolumes is accepted and ignored: there is no playback or capture
// device behind the media stream, so there is nothing to scale.
func (u *UA) SetAudioVolumes(v engine.Volumes) error {
	u.log.Debug("[SIP] Volumes ignored", "speaker", v.Speaker, "microphone", v.Microphone)
	return nil
}

// SetMicrophoneMuted mutes the local stream of the current call. Every new
// call starts unmuted.
func (u *UA) SetMicrophoneMuted(muted bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.call == nil {
		return &engine.CallError{Op: "mute", Cause: engine.ErrNoActiveCall}
	}
	u.call.media.SetMuted(muted)
	u.log.Debug("[SIP] Microphone muted", "call_id", u.call.id, "muted", muted)
	return nil
}

func (u *UA) PauseCall() error {
	return u.setPaused(true)
}

func (u *UA) ResumeCall() error {
	return u.setPaused(false)
}

func (u *UA) setPaused(paused bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	c := u.call
	if c == nil || c.answeredAt.IsZero() {
		op := "resume"
		if paused {
			op = "pause"
		}
		return &engine.CallError{Op: op, Cause: engine.ErrNoActiveCall}
	}
	c.media.SetPaused(paused)
	switch {
	case paused && c.state == callevents.EngineStreamsRunning:
		u.setStateLocked(c, callevents.EnginePausing, "Pausing call")
		u.setStateLocked(c, callevents.EnginePaused, "Call paused")
	case !paused && c.state == callevents.EnginePaused:
		u.setStateLocked(c, callevents.EngineResuming, "Resuming call")
		u.setStateLocked(c, callevents.EngineStreamsRunning, "Streams running")
	}
	return nil
}

func (u *UA) HasActiveCall() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.call != nil
}

// Close drops any call without signaling and stops the SIP stack.
func (u *UA) Close() error {
	u.mu.Lock()
	c := u.call
	u.call = nil
	u.mu.Unlock()

	if c != nil {
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.media.Close()
	}
	u.cancel()
	u.wg.Wait()
	u.sipUA.Close()
	u.log.Info("[SIP] User agent stopped")
	return nil
}

func (u *UA) contactURI(user string) sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   user,
		Host:   u.cfg.AdvertiseAddr,
		Port:   u.cfg.Port,
	}
}

func generateTag() string {
	return uuid.New().String()[:8]
}

var _ engine.Engine = (*UA)(nil)
