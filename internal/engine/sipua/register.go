package sipua

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/sebas/softline/internal/callevents"
	"github.com/sebas/softline/internal/engine"
)

const transactionTimeout = 10 * time.Second

// StatusError is a final SIP failure response.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("SIP %d %s", e.Code, e.Reason)
}

var errTransactionTerminated = errors.New("transaction terminated without final response")

func (u *UA) Register(id, password string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.account = account{user: id, password: password}
	u.startRegisterLocked(false)
	return nil
}

func (u *UA) RefreshRegistration() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.account.user == "" {
		return engine.ErrNotRegistered
	}
	u.startRegisterLocked(true)
	return nil
}

func (u *UA) Unregister() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.account.user == "" {
		return engine.ErrNotRegistered
	}
	u.regGen++
	u.registered = false
	u.refreshAt = time.Time{}
	u.emitLocked(engine.RegistrationChanged{State: callevents.RegistrationProgress, Message: msgUnregistrationInProgress})

	acct := u.account
	u.spawn(func(ctx context.Context) {
		if _, err := u.register(ctx, acct, 0); err != nil {
			u.log.Warn("[REGISTER] Unregistration failed", "user", acct.user, "error", err)
		}
		u.emit(engine.RegistrationChanged{State: callevents.RegistrationCleared, Message: msgUnregistrationDone})
	})
	return nil
}

// startRegisterLocked sends a REGISTER for the current account. Results of
// superseded attempts are dropped.
func (u *UA) startRegisterLocked(refresh bool) {
	msg := msgRegistrationInProgress
	if refresh {
		msg = callevents.MessageRefreshRegistration
	}
	u.emitLocked(engine.RegistrationChanged{State: callevents.RegistrationProgress, Message: msg})

	u.regGen++
	gen := u.regGen
	acct := u.account
	u.spawn(func(ctx context.Context) {
		granted, err := u.register(ctx, acct, u.cfg.Expires)

		u.mu.Lock()
		defer u.mu.Unlock()
		if gen != u.regGen {
			return
		}
		if err != nil {
			u.registered = false
			u.log.Warn("[REGISTER] Failed", "user", acct.user, "error", err)
			u.emitLocked(engine.RegistrationChanged{State: callevents.RegistrationFailed, Message: registrationFailure(err)})
			return
		}
		u.registered = true
		u.refreshAt = time.Now().Add(granted * 9 / 10)
		u.log.Info("[REGISTER] Registered", "user", acct.user, "expires", granted)
		u.emitLocked(engine.RegistrationChanged{State: callevents.RegistrationOk, Message: msgRegistrationSuccessful})
	})
}

func registrationFailure(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return "io error"
}

// register runs one REGISTER exchange, answering a single digest challenge.
// It returns the binding lifetime granted by the registrar.
func (u *UA) register(ctx context.Context, acct account, expires time.Duration) (time.Duration, error) {
	var auth authHeader
	for attempt := 0; ; attempt++ {
		req := u.buildRegister(acct, expires, auth)
		resp, err := u.roundTrip(ctx, req)
		if err != nil {
			return 0, err
		}

		code := int(resp.StatusCode)
		switch {
		case code >= 200 && code < 300:
			return grantedExpires(resp, expires), nil
		case (code == 401 || code == 407) && attempt == 0:
			auth, err = authorize(resp, req, acct)
			if err != nil {
				return 0, err
			}
		default:
			return 0, &StatusError{Code: code, Reason: resp.Reason}
		}
	}
}

func (u *UA) buildRegister(acct account, expires time.Duration, auth authHeader) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: u.cfg.Domain})

	aor := sip.Uri{Scheme: "sip", User: acct.user, Host: u.cfg.Domain}
	fromParams := sip.NewParams()
	fromParams.Add("tag", generateTag())
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})

	callID := sip.CallIDHeader(u.regCallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: u.regCSeq.Add(1), MethodName: sip.REGISTER})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: u.contactURI(acct.user)})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	req.AppendHeader(sip.NewHeader("User-Agent", userAgent))
	if auth.name != "" {
		req.AppendHeader(sip.NewHeader(auth.name, auth.value))
	}

	req.SetDestination(u.cfg.Registrar)
	return req
}

// roundTrip sends req and waits for its final response.
func (u *UA) roundTrip(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, transactionTimeout)
	defer cancel()

	tx, err := u.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method, err)
	}

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, errTransactionTerminated
			}
			if int(resp.StatusCode) < 200 {
				continue
			}
			return resp, nil
		case <-tx.Done():
			return nil, errTransactionTerminated
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type authHeader struct {
	name  string
	value string
}

// authorize answers the digest challenge carried by a 401 or 407.
func authorize(resp *sip.Response, req *sip.Request, acct account) (authHeader, error) {
	challengeName, credentialsName := "WWW-Authenticate", "Authorization"
	if resp.StatusCode == 407 {
		challengeName, credentialsName = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := resp.GetHeader(challengeName)
	if h == nil {
		return authHeader{}, fmt.Errorf("%d without %s header", int(resp.StatusCode), challengeName)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return authHeader{}, fmt.Errorf("parse challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   string(req.Method),
		URI:      req.Recipient.String(),
		Username: acct.user,
		Password: acct.password,
		Count:    1,
	})
	if err != nil {
		return authHeader{}, fmt.Errorf("compute digest: %w", err)
	}
	return authHeader{name: credentialsName, value: cred.String()}, nil
}

func grantedExpires(resp *sip.Response, requested time.Duration) time.Duration {
	if h := resp.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return requested
}
