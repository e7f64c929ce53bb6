package callback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/shared/privacy"
	"github.com/marcus-qen/frontdesk/internal/store"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// Monday 2026-08-24, 10:00 UTC: inside the default 9-17 weekday window.
var monday10 = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *tenant.Tenant) {
	t.Helper()
	db, err := store.Open("sqlite:" + filepath.Join(t.TempDir(), "callbacks.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg := tenant.NewRegistry(nil)
	tn, err := reg.Create(tenant.Tenant{Name: "Acme Dental"})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	q, err := NewQueue(db, reg, privacy.NewHasher([]byte("test-salt")), nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	q.now = func() time.Time { return monday10 }
	return q, tn
}

func TestCreateFingerprintsAndSlots(t *testing.T) {
	q, tn := newTestQueue(t)

	cb, err := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567", Reason: "billing question"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cb.CallerFingerprint == "" || cb.CallerFingerprint == "+15551234567" {
		t.Errorf("number not fingerprinted: %q", cb.CallerFingerprint)
	}
	if cb.Status != StatusPending || cb.Priority != PriorityNormal {
		t.Errorf("defaults not applied: %+v", cb)
	}
	if !cb.NextAttempt.Equal(monday10) {
		t.Errorf("next attempt = %v, want the already-open slot %v", cb.NextAttempt, monday10)
	}
}

func TestCreateValidation(t *testing.T) {
	q, tn := newTestQueue(t)
	if _, err := q.Create(Callback{TenantID: tn.ID}); !fault.Is(err, fault.Validation) {
		t.Errorf("missing number: want validation fault, got %v", err)
	}
	if _, err := q.Create(Callback{Number: "+15551234567"}); !fault.Is(err, fault.Validation) {
		t.Errorf("missing tenant: want validation fault, got %v", err)
	}
}

func TestDueOrdersByScore(t *testing.T) {
	q, tn := newTestQueue(t)

	low, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15550000001", Priority: PriorityLow})
	urgent, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15550000002", Priority: PriorityUrgent})

	due, err := q.Due(monday10.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	if due[0].ID != urgent.ID || due[1].ID != low.ID {
		t.Errorf("order = [%s %s], want urgent first", due[0].ID, due[1].ID)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	won, err := q.Claim(cb.ID)
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	won, err = q.Claim(cb.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Error("callback claimed twice")
	}
}

func TestFailBacksOffThenExpires(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	// First failure: 15m backoff from 10:00 lands on the 10:15 slot.
	failed, err := q.Fail(*cb)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != StatusPending || failed.Attempts != 1 {
		t.Fatalf("after first failure: %+v", failed)
	}
	want := time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC)
	if !failed.NextAttempt.Equal(want) {
		t.Errorf("next attempt = %v, want %v", failed.NextAttempt, want)
	}

	// Second failure: 1h backoff.
	failed, _ = q.Fail(*failed)
	if !failed.NextAttempt.Equal(monday10.Add(time.Hour)) {
		t.Errorf("second backoff = %v, want 11:00", failed.NextAttempt)
	}

	// Third and fourth: 4h repeats.
	failed, _ = q.Fail(*failed)
	if !failed.NextAttempt.Equal(monday10.Add(4 * time.Hour)) {
		t.Errorf("third backoff = %v, want 14:00", failed.NextAttempt)
	}

	failed, _ = q.Fail(*failed)
	if failed.Attempts != 4 || failed.Status != StatusPending {
		t.Fatalf("after fourth failure: %+v", failed)
	}

	// Fifth failure exhausts attempts; the number was never reached, so the
	// callback fails rather than expiring.
	failed, _ = q.Fail(*failed)
	if failed.Status != StatusFailed {
		t.Errorf("status after max attempts = %s, want failed", failed.Status)
	}
}

func TestFailHonorsPerCallbackAttemptCap(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, err := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	failed := cb
	for i := 0; i < 2; i++ {
		if failed, err = q.Fail(*failed); err != nil {
			t.Fatalf("fail %d: %v", i+1, err)
		}
		if failed.Status != StatusPending {
			t.Fatalf("failure %d: status = %s, want pending", i+1, failed.Status)
		}
	}

	failed, _ = q.Fail(*failed)
	if failed.Status != StatusFailed || failed.Attempts != 3 {
		t.Errorf("after third failure: status=%s attempts=%d, want failed/3", failed.Status, failed.Attempts)
	}

	got, _ := q.Get(tn.ID, cb.ID)
	if got.MaxAttempts != 3 {
		t.Errorf("persisted max attempts = %d, want 3", got.MaxAttempts)
	}
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{15 * time.Minute, time.Hour, 4 * time.Hour, 4 * time.Hour, 4 * time.Hour}
	for i, w := range want {
		if got := Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestNextSlotSnapsAndDefers(t *testing.T) {
	hours := tenant.BusinessHours{Timezone: "UTC", StartHour: 9, EndHour: 17}

	// Mid-window odd minute snaps up to the grid.
	got := NextSlot(time.Date(2026, 8, 24, 10, 7, 0, 0, time.UTC), hours)
	if want := time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("snap = %v, want %v", got, want)
	}

	// After close rolls to the next morning's opening.
	got = NextSlot(time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC), hours)
	if want := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("after close = %v, want %v", got, want)
	}

	// Friday evening rolls over the weekend.
	got = NextSlot(time.Date(2026, 8, 28, 19, 0, 0, 0, time.UTC), hours)
	if want := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("weekend roll = %v, want monday open %v", got, want)
	}
}

func TestSchedulerRetriesUntilReached(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	attempts := 0
	dialer := DialFunc(func(ctx context.Context, c Callback) (DialResult, error) {
		attempts++
		if attempts >= 2 { // reached on the second try
			return DialResult{Outcome: OutcomeConnected, Resolved: true}, nil
		}
		return DialResult{Outcome: OutcomeNoAnswer}, nil
	})
	s := NewScheduler(q, dialer, nil, time.Second, nil)

	// First tick: dial fails, callback reschedules 15m out.
	s.now = func() time.Time { return monday10 }
	s.Tick(context.Background())
	if attempts != 1 {
		t.Fatalf("attempts after first tick = %d", attempts)
	}
	got, _ := q.Get(tn.ID, cb.ID)
	if got.Status != StatusPending || got.Attempts != 1 {
		t.Fatalf("after first tick: %+v", got)
	}

	// A tick before the backoff slot does nothing.
	s.now = func() time.Time { return monday10.Add(5 * time.Minute) }
	s.Tick(context.Background())
	if attempts != 1 {
		t.Errorf("dialed before backoff elapsed")
	}

	// Past the slot: dial again, reached, resolved.
	s.now = func() time.Time { return monday10.Add(16 * time.Minute) }
	s.Tick(context.Background())
	got, _ = q.Get(tn.ID, cb.ID)
	if got.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
}

func TestSchedulerRecordsAttemptHistory(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	outcomes := []DialResult{
		{Outcome: OutcomeBusy},
		{Outcome: OutcomeConnected, Resolved: true},
	}
	i := 0
	dialer := DialFunc(func(ctx context.Context, c Callback) (DialResult, error) {
		res := outcomes[i]
		i++
		return res, nil
	})
	s := NewScheduler(q, dialer, nil, time.Second, nil)

	s.now = func() time.Time { return monday10 }
	s.Tick(context.Background())
	s.now = func() time.Time { return monday10.Add(16 * time.Minute) }
	s.Tick(context.Background())

	history, err := q.AttemptsFor(tn.ID, cb.ID)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	if history[0].Outcome != OutcomeBusy || history[1].Outcome != OutcomeConnected {
		t.Errorf("history = [%s %s], want [busy connected]", history[0].Outcome, history[1].Outcome)
	}
}

func TestConnectedButUnresolvedRequeues(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	dialer := DialFunc(func(ctx context.Context, c Callback) (DialResult, error) {
		return DialResult{Outcome: OutcomeConnected, Resolved: false, Note: "asked to call back later"}, nil
	})
	s := NewScheduler(q, dialer, nil, time.Second, nil)
	s.now = func() time.Time { return monday10 }
	s.Tick(context.Background())

	got, _ := q.Get(tn.ID, cb.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want pending follow-up", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 (connected calls do not burn the cap)", got.Attempts)
	}
	if !got.NextAttempt.After(monday10) {
		t.Errorf("next attempt = %v, want after %v", got.NextAttempt, monday10)
	}
}

func TestInvalidNumberFailsImmediately(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	dialer := DialFunc(func(ctx context.Context, c Callback) (DialResult, error) {
		return DialResult{Outcome: OutcomeInvalid}, nil
	})
	s := NewScheduler(q, dialer, nil, time.Second, nil)
	s.now = func() time.Time { return monday10 }
	s.Tick(context.Background())

	got, _ := q.Get(tn.ID, cb.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed without retries", got.Status)
	}
}

func TestPriorityTiersSpanVIPToLow(t *testing.T) {
	q, tn := newTestQueue(t)

	for _, p := range []int{PriorityVIP, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow} {
		if _, err := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567", Priority: p}); err != nil {
			t.Errorf("priority %d rejected: %v", p, err)
		}
	}
	if _, err := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567", Priority: PriorityLow + 1}); !fault.Is(err, fault.Validation) {
		t.Errorf("out-of-range priority: want validation fault, got %v", err)
	}

	due, err := q.Due(monday10.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 5 || due[0].Priority != PriorityVIP || due[4].Priority != PriorityLow {
		t.Errorf("dequeue order does not follow tiers: %+v", due)
	}
}

func TestCancelOnlyOwnTenant(t *testing.T) {
	q, tn := newTestQueue(t)
	cb, _ := q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	if err := q.Cancel("t-other", cb.ID); !fault.Is(err, fault.NotFound) {
		t.Errorf("cross-tenant cancel: want not-found, got %v", err)
	}
	if err := q.Cancel(tn.ID, cb.ID); err != nil {
		t.Errorf("cancel: %v", err)
	}
}

func TestTenantDeletedCascade(t *testing.T) {
	q, tn := newTestQueue(t)
	_, _ = q.Create(Callback{TenantID: tn.ID, Number: "+15551234567"})

	q.TenantDeleted(tn.ID)
	got, err := q.List(tn.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("callbacks after cascade = %d, want 0", len(got))
	}
}
