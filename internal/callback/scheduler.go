package callback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/events"
	"github.com/marcus-qen/frontdesk/internal/metrics"
)

// DialResult is what one outbound attempt produced. A connected call is not
// necessarily resolved: the caller may ask for a follow-up, which puts the
// callback back on the queue.
type DialResult struct {
	Outcome  Outcome
	Resolved bool
	Note     string
}

// Dialer places the outbound leg of a callback.
type Dialer interface {
	Dial(ctx context.Context, cb Callback) (DialResult, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, cb Callback) (DialResult, error)

func (f DialFunc) Dial(ctx context.Context, cb Callback) (DialResult, error) {
	return f(ctx, cb)
}

// Scheduler works the queue on a fixed tick: expire the overdue, claim the
// due in score order, dial, and resolve or back off.
type Scheduler struct {
	queue    *Queue
	dialer   Dialer
	bus      *events.Bus
	interval time.Duration
	batch    int
	log      *zap.Logger
	now      func() time.Time
}

// NewScheduler builds a scheduler. interval <= 0 defaults to 30s.
func NewScheduler(queue *Queue, dialer Dialer, bus *events.Bus, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		queue:    queue,
		dialer:   dialer,
		bus:      bus,
		interval: interval,
		batch:    10,
		log:      log,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, ticking the queue.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass over the due queue. Exported so tests and admin
// endpoints can drive the scheduler without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	if n, err := s.queue.ExpireOverdue(now); err != nil {
		s.log.Error("callback expiry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired overdue callbacks", zap.Int64("count", n))
	}

	due, err := s.queue.Due(now, s.batch)
	if err != nil {
		s.log.Error("callback due query failed", zap.Error(err))
		return
	}

	for _, cb := range due {
		if ctx.Err() != nil {
			return
		}
		won, err := s.queue.Claim(cb.ID)
		if err != nil {
			s.log.Error("callback claim failed", zap.String("callback_id", cb.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		s.work(ctx, cb)
	}
}

func (s *Scheduler) work(ctx context.Context, cb Callback) {
	res, err := s.dialer.Dial(ctx, cb)
	if err != nil {
		s.log.Warn("callback dial error",
			zap.String("tenant_id", cb.TenantID),
			zap.String("callback_id", cb.ID),
			zap.Error(err),
		)
		if res.Outcome == "" {
			res.Outcome = OutcomeFailed
		}
	}

	if recErr := s.queue.RecordAttempt(Attempt{
		CallbackID: cb.ID,
		TenantID:   cb.TenantID,
		Outcome:    res.Outcome,
		Note:       res.Note,
	}); recErr != nil {
		s.log.Error("callback attempt record failed", zap.String("callback_id", cb.ID), zap.Error(recErr))
	}

	switch {
	case res.Outcome == OutcomeConnected && res.Resolved:
		if err := s.queue.Resolve(cb.ID); err != nil {
			s.log.Error("callback resolve failed", zap.String("callback_id", cb.ID), zap.Error(err))
			return
		}
		metrics.RecordCallback(cb.TenantID, string(StatusResolved))
		s.publish(events.CallbackResolved, cb, "callback completed")

	case res.Outcome == OutcomeConnected:
		// Reached but not settled: back on the queue for a follow-up.
		requeued, err := s.queue.Requeue(cb)
		if err != nil {
			s.log.Error("callback requeue failed", zap.String("callback_id", cb.ID), zap.Error(err))
			return
		}
		s.log.Info("callback needs follow-up",
			zap.String("tenant_id", cb.TenantID),
			zap.String("callback_id", cb.ID),
			zap.Time("next_attempt", requeued.NextAttempt),
		)

	case res.Outcome == OutcomeInvalid:
		// Redialing an invalid number is pointless.
		if _, err := s.queue.MarkFailed(cb); err != nil {
			s.log.Error("callback fail mark failed", zap.String("callback_id", cb.ID), zap.Error(err))
			return
		}
		metrics.RecordCallback(cb.TenantID, string(StatusFailed))

	default:
		// Not reached: the claim is ours, so Fail moves it back to pending
		// with backoff, or to failed once attempts run out.
		failed, err := s.queue.Fail(cb)
		if err != nil {
			s.log.Error("callback reschedule failed", zap.String("callback_id", cb.ID), zap.Error(err))
			return
		}
		metrics.RecordCallback(cb.TenantID, string(failed.Status))
		if failed.Status == StatusFailed {
			s.log.Warn("callback failed after max attempts",
				zap.String("tenant_id", cb.TenantID),
				zap.String("callback_id", cb.ID),
				zap.Int("attempts", failed.Attempts),
			)
		}
	}
}

func (s *Scheduler) publish(t events.EventType, cb Callback, summary string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:     t,
		TenantID: cb.TenantID,
		Summary:  summary,
		Detail:   map[string]any{"callback_id": cb.ID, "fingerprint": cb.CallerFingerprint},
	})
}
