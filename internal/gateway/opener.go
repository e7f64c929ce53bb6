package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/aiprovider"
	"github.com/marcus-qen/frontdesk/internal/session"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// maxOpenAttempts bounds failover during a single conversation open.
const maxOpenAttempts = 3

// Opener opens conversation streams through the gateway: select an
// endpoint, dial it, and fail over to the next one when the dial fails.
// It satisfies the session orchestrator's StreamOpener.
type Opener struct {
	gw     *Gateway
	dialer *aiprovider.Dialer
	log    *zap.Logger
}

// NewOpener wires a gateway-backed stream opener.
func NewOpener(gw *Gateway, dialer *aiprovider.Dialer, log *zap.Logger) *Opener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Opener{gw: gw, dialer: dialer, log: log}
}

// Open dials a healthy endpoint, trying the next one on failure. Every
// outcome feeds the endpoint's breaker.
func (o *Opener) Open(ctx context.Context, tenantID, callID, persona string) (session.ConversationStream, error) {
	var lastErr error
	for attempt := 0; attempt < maxOpenAttempts; attempt++ {
		ep, err := o.gw.Select()
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		stream, err := o.dialer.Dial(ctx, ep.URL, tenantID, callID, persona)
		if err == nil {
			o.gw.Success(ep.ID)
			return &trackedStream{
				ConversationStream: stream,
				release:            func() { o.gw.Release(ep.ID) },
			}, nil
		}

		o.gw.Failure(ep.ID)
		o.gw.Release(ep.ID)
		o.log.Warn("endpoint dial failed, failing over",
			zap.String("endpoint_id", ep.ID),
			zap.String("call_id", callID),
			zap.Error(err),
		)
		lastErr = err

		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.Upstream, ctx.Err(), "conversation open cancelled")
		}
	}
	return nil, fault.Wrap(fault.Upstream, lastErr, "all provider endpoints failed")
}

// trackedStream returns the endpoint's conversation slot on close. Close is
// called from both the orchestrator's defer and its bridge path, so the
// release must be idempotent.
type trackedStream struct {
	session.ConversationStream
	release func()
	once    sync.Once
}

func (t *trackedStream) Close() error {
	t.once.Do(t.release)
	return t.ConversationStream.Close()
}
