package callback

import (
	"time"

	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// slotGranularity is the scheduling grid callbacks are placed on.
const slotGranularity = 15 * time.Minute

// NextSlot maps an earliest-possible instant onto the tenant's business
// hours, snapped up to the 15-minute grid. An attempt that would land after
// hours moves to the opening of the next open day.
func NextSlot(after time.Time, hours tenant.BusinessHours) time.Time {
	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	t := snapUp(after.In(loc))

	// Bounded scan; a schedule with no open day inside two weeks is
	// treated as always-open rather than looping forever.
	for i := 0; i < 14*24*4; i++ {
		if hours.Open(t) {
			return t.UTC()
		}
		if t.Hour() >= hours.EndHour {
			// Jump to the next day's opening.
			next := time.Date(t.Year(), t.Month(), t.Day(), hours.StartHour, 0, 0, 0, loc)
			t = next.AddDate(0, 0, 1)
			continue
		}
		if t.Hour() < hours.StartHour {
			t = time.Date(t.Year(), t.Month(), t.Day(), hours.StartHour, 0, 0, 0, loc)
			continue
		}
		// Open hours but wrong weekday; advance a day at opening time.
		t = time.Date(t.Year(), t.Month(), t.Day(), hours.StartHour, 0, 0, 0, loc).AddDate(0, 0, 1)
	}
	return snapUp(after).UTC()
}

// snapUp rounds t up to the next grid boundary; exact boundaries stay put.
func snapUp(t time.Time) time.Time {
	snapped := t.Truncate(slotGranularity)
	if snapped.Before(t) {
		snapped = snapped.Add(slotGranularity)
	}
	return snapped
}
