package ledger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Resetter is what the cycle worker needs from the ledger store.
type Resetter interface {
	Tenants() []string
	ResetCycle(tenantID, cycle string) (Transaction, bool, error)
}

// CycleWorker fires billing-cycle resets on a cron schedule, default
// "0 0 1 * *" (first second of the month, UTC). The cycle label derived
// from the fire time makes each reset exactly-once per tenant per cycle
// even if the worker restarts mid-month.
type CycleWorker struct {
	resetter Resetter
	schedule cron.Schedule
	log      *zap.Logger
	now      func() time.Time
}

// NewCycleWorker parses the cron spec and builds a worker.
func NewCycleWorker(resetter Resetter, spec string, log *zap.Logger) (*CycleWorker, error) {
	if spec == "" {
		spec = "0 0 1 * *"
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CycleWorker{
		resetter: resetter,
		schedule: schedule,
		log:      log,
		now:      time.Now,
	}, nil
}

// Run blocks until ctx is cancelled, firing resets at each schedule point.
// It also fires once at startup for the current cycle, which is a no-op for
// tenants already reset this cycle.
func (w *CycleWorker) Run(ctx context.Context) {
	w.fire(w.now().UTC())

	for {
		next := w.schedule.Next(w.now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.fire(next)
		}
	}
}

// CycleLabel names the billing cycle containing t, e.g. "2026-08".
func CycleLabel(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (w *CycleWorker) fire(at time.Time) {
	cycle := CycleLabel(at)
	for _, tenantID := range w.resetter.Tenants() {
		tx, written, err := w.resetter.ResetCycle(tenantID, cycle)
		if err != nil {
			w.log.Error("cycle reset failed",
				zap.String("tenant_id", tenantID),
				zap.String("cycle", cycle),
				zap.Error(err),
			)
			continue
		}
		if written {
			w.log.Info("billing cycle reset",
				zap.String("tenant_id", tenantID),
				zap.String("cycle", cycle),
				zap.Int64("credited_seconds", -tx.Seconds),
			)
		}
	}
}
