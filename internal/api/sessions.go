package api

import (
	"context"

	"github.com/sebas/softline/internal/session"
)

type registrySessions struct {
	ctx context.Context
	reg *session.Registry
}

// FromRegistry adapts a session registry. Sessions it starts run until ctx
// is cancelled or they shut themselves down.
func FromRegistry(ctx context.Context, reg *session.Registry) Sessions {
	return &registrySessions{ctx: ctx, reg: reg}
}

func (r *registrySessions) Current() (Session, bool) {
	o, ok := r.reg.Current()
	if !ok {
		return nil, false
	}
	return o, true
}

func (r *registrySessions) Last() (Session, bool) {
	o := r.reg.Last()
	if o == nil {
		return nil, false
	}
	return o, true
}

func (r *registrySessions) Start(callID string) (Session, error) {
	o, err := r.reg.Request(r.ctx, callID)
	if err != nil {
		return nil, err
	}
	return o, nil
}
