package directory

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// WorkSchedule is a recurring shift: a cron expression for shift starts and
// a duration for how long each shift lasts. "0 9 * * 1-5" with 8h is a
// standard weekday day shift.
type WorkSchedule struct {
	Spec     string        `json:"spec" yaml:"spec"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	sched cron.Schedule
}

// NewWorkSchedule parses the cron spec up front so OnShift never fails.
func NewWorkSchedule(spec string, duration time.Duration) (*WorkSchedule, error) {
	if duration <= 0 {
		return nil, fault.New(fault.Validation, "shift duration must be positive")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "parse shift spec %q", spec)
	}
	return &WorkSchedule{Spec: spec, Duration: duration, sched: sched}, nil
}

// OnShift reports whether at falls inside a shift window: some shift start
// within the last Duration. A schedule whose spec was never parsed (zero
// value) is treated as always on shift.
func (w *WorkSchedule) OnShift(at time.Time) bool {
	if w == nil || w.sched == nil {
		return true
	}
	// The most recent fire at or before `at` is the first fire strictly
	// after the window's left edge.
	start := w.sched.Next(at.Add(-w.Duration))
	return !start.After(at)
}
