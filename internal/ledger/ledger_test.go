package ledger

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func activeBudget(limit int64) Budget {
	return Budget{LimitSeconds: limit, WarnSeconds: limit / 10, Active: true}
}

func TestCheckBudget(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-acme", activeBudget(1000))

	if got := l.CheckBudget("t-acme", 100); got != CheckOK {
		t.Errorf("fresh budget: got %s, want ok", got)
	}
	if got := l.CheckBudget("t-acme", 950); got != CheckWarn {
		t.Errorf("near limit: got %s, want warn", got)
	}
	if got := l.CheckBudget("t-acme", 1001); got != CheckDeny {
		t.Errorf("over limit: got %s, want deny", got)
	}
	if got := l.CheckBudget("t-unknown", 1); got != CheckDeny {
		t.Errorf("unknown tenant: got %s, want deny", got)
	}
}

func TestDebitIdempotentByCallID(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-acme", activeBudget(1000))

	tx1, applied, err := l.Debit("t-acme", 42, "call-1")
	if err != nil || !applied {
		t.Fatalf("first debit: applied=%v err=%v", applied, err)
	}

	tx2, applied, err := l.Debit("t-acme", 42, "call-1")
	if err != nil {
		t.Fatalf("repeat debit: %v", err)
	}
	if applied {
		t.Error("repeat debit applied twice")
	}
	if tx2.ID != tx1.ID {
		t.Errorf("repeat returned a different transaction: %s vs %s", tx2.ID, tx1.ID)
	}
	if l.Usage("t-acme") != 42 {
		t.Errorf("usage = %d, want 42", l.Usage("t-acme"))
	}
}

func TestConservation(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-acme", activeBudget(10000))

	for i := 0; i < 20; i++ {
		_, _, _ = l.Debit("t-acme", int64(i+1), fmt.Sprintf("call-%d", i))
	}
	l.Credit("t-acme", 50, "goodwill")

	var sum int64
	for _, tx := range l.Transactions("t-acme") {
		sum += tx.Seconds
	}
	if sum != l.Usage("t-acme") {
		t.Errorf("sum(transactions)=%d != usage=%d", sum, l.Usage("t-acme"))
	}
}

func TestDebitBestEffortWhenInactive(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-acme", Budget{LimitSeconds: 1000, Active: false})

	tx, applied, err := l.Debit("t-acme", 30, "call-1")
	if err != nil || !applied {
		t.Fatalf("debit: applied=%v err=%v", applied, err)
	}
	if !tx.BestEffort {
		t.Error("debit against inactive tenant should be best-effort")
	}
	if l.Usage("t-acme") != 30 {
		t.Errorf("usage = %d, want 30 (recorded for reconciliation)", l.Usage("t-acme"))
	}
}

func TestConcurrentDebitsSerialized(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-acme", activeBudget(1_000_000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = l.Debit("t-acme", 1, fmt.Sprintf("call-%d", i))
		}(i)
	}
	wg.Wait()

	if l.Usage("t-acme") != 50 {
		t.Errorf("usage = %d, want 50", l.Usage("t-acme"))
	}

	var sum int64
	for _, tx := range l.Transactions("t-acme") {
		sum += tx.Seconds
	}
	if sum != 50 {
		t.Errorf("sum = %d, want 50", sum)
	}
}

func TestTenantIsolation(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-a", activeBudget(100))
	l.SetBudget("t-b", activeBudget(100))

	_, _, _ = l.Debit("t-a", 10, "call-a")

	if l.Usage("t-b") != 0 {
		t.Errorf("tenant b usage = %d, want 0", l.Usage("t-b"))
	}
	for _, tx := range l.Transactions("t-b") {
		if tx.TenantID != "t-b" {
			t.Fatalf("cross-tenant transaction: %+v", tx)
		}
	}
}

func TestResetCycleExactlyOnce(t *testing.T) {
	l := New(nil)
	l.SetBudget("t-acme", activeBudget(1000))
	_, _, _ = l.Debit("t-acme", 600, "call-1")

	tx, written := l.ResetCycle("t-acme", "2026-08")
	if !written {
		t.Fatal("first reset did nothing")
	}
	if tx.Seconds != -600 {
		t.Errorf("reset credit = %d, want -600", tx.Seconds)
	}
	if l.Usage("t-acme") != 0 {
		t.Errorf("usage after reset = %d, want 0", l.Usage("t-acme"))
	}

	if _, written := l.ResetCycle("t-acme", "2026-08"); written {
		t.Error("same cycle reset twice")
	}
}

func TestStoreReplay(t *testing.T) {
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "ledger.db")

	s, err := NewStore(dsn, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.SetBudget("t-acme", activeBudget(1000))
	if _, applied, err := s.Debit("t-acme", 42, "call-1"); err != nil || !applied {
		t.Fatalf("debit: applied=%v err=%v", applied, err)
	}
	if _, err := s.Credit("t-acme", 10, "top-up"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(dsn, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Usage("t-acme"); got != 32 {
		t.Errorf("usage after replay = %d, want 32", got)
	}

	// Idempotency survives restart.
	reopened.SetBudget("t-acme", activeBudget(1000))
	if _, applied, _ := reopened.Debit("t-acme", 42, "call-1"); applied {
		t.Error("replayed call id debited again")
	}
}

func TestCycleLabel(t *testing.T) {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if got := CycleLabel(at); got != "2026-08" {
		t.Errorf("CycleLabel = %q", got)
	}
}
