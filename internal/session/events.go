package session

import (
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/platform"
)

// event is one inbox entry. dispatch switches on the concrete type.
type event interface {
	sessionEvent()
}

// engineEvent is an engine event tagged with the worker generation that
// produced it, so events from a replaced worker are dropped.
type engineEvent struct {
	gen int
	ev  engine.Event
}

type workerExited struct {
	gen int
	err error
}

type activeCallChecked struct {
	gen    int
	active bool
}

type timerKind int

const (
	timerTerminateCheck timerKind = iota
	timerUnregisterGrace
	timerEncryptionCheck
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case timerTerminateCheck:
		return "terminate_check"
	case timerUnregisterGrace:
		return "unregister_grace"
	case timerEncryptionCheck:
		return "encryption_check"
	default:
		return "unknown"
	}
}

type timerFired struct {
	kind timerKind
	seq  uint64
}

// terminateNow runs terminatePrivate on the next dispatch.
type terminateNow struct{}

// Commands.
type (
	connectCmd           struct{}
	callCmd              struct{ id string }
	pickUpCmd            struct{}
	terminateCallCmd     struct{}
	verifyCmd            struct{ verified bool }
	acceptUnencryptedCmd struct{}
	volumesCmd           struct{ v engine.Volumes }
	terminateCmd         struct{ cause string }
)

// OS signals.
type (
	telephonyChanged    struct{ state platform.TelephonyState }
	connectivityChanged struct{ connected bool }
)

func (engineEvent) sessionEvent()          {}
func (workerExited) sessionEvent()         {}
func (activeCallChecked) sessionEvent()    {}
func (timerFired) sessionEvent()           {}
func (terminateNow) sessionEvent()         {}
func (connectCmd) sessionEvent()           {}
func (callCmd) sessionEvent()              {}
func (pickUpCmd) sessionEvent()            {}
func (terminateCallCmd) sessionEvent()     {}
func (verifyCmd) sessionEvent()            {}
func (acceptUnencryptedCmd) sessionEvent() {}
func (volumesCmd) sessionEvent()           {}
func (terminateCmd) sessionEvent()         {}
func (telephonyChanged) sessionEvent()     {}
func (connectivityChanged) sessionEvent()  {}
