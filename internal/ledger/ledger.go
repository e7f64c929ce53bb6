// Package ledger tracks per-tenant call-minute budgets. Every consumed
// second is a signed transaction in an append-only log; current usage is the
// fold over those transactions and the two are kept equal at all times.
// Debits are idempotent by call id and serialized per tenant.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// CheckResult is the admission answer for a prospective debit.
type CheckResult string

const (
	CheckOK   CheckResult = "ok"
	CheckWarn CheckResult = "warn"
	CheckDeny CheckResult = "deny"
)

// Budget is a tenant's monthly allowance in seconds.
type Budget struct {
	LimitSeconds int64
	// WarnSeconds is how close to the limit usage may get before
	// CheckBudget answers warn. Zero disables the warning band.
	WarnSeconds int64
	Active      bool
}

// Transaction is one signed adjustment. Debits are positive, credits
// negative, so usage == sum(Seconds).
type Transaction struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CallID     string    `json:"call_id,omitempty"`
	Seconds    int64     `json:"seconds"`
	Reason     string    `json:"reason,omitempty"`
	BestEffort bool      `json:"best_effort,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger is the in-memory authority. A Store (store.go) adds persistence by
// wrapping it; the invariants live here.
type Ledger struct {
	mu       sync.Mutex
	budgets  map[string]Budget
	usage    map[string]int64
	txs      map[string][]Transaction // tenant -> transactions, append-only
	byCallID map[string]string        // callID -> tx id, idempotency
	resets   map[string]string        // tenant -> last reset cycle label
	log      *zap.Logger
}

// New creates a ledger.
func New(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		budgets:  make(map[string]Budget),
		usage:    make(map[string]int64),
		txs:      make(map[string][]Transaction),
		byCallID: make(map[string]string),
		resets:   make(map[string]string),
		log:      log,
	}
}

// SetBudget registers or updates a tenant's budget. Called by the tenant
// registry on create/update/deactivate.
func (l *Ledger) SetBudget(tenantID string, b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets[tenantID] = b
}

// CheckBudget answers whether the tenant may consume the given seconds.
// Linearizable with Debit: both take the same lock.
func (l *Ledger) CheckBudget(tenantID string, seconds int64) CheckResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(tenantID, seconds)
}

func (l *Ledger) checkLocked(tenantID string, seconds int64) CheckResult {
	b, ok := l.budgets[tenantID]
	if !ok || !b.Active {
		return CheckDeny
	}
	used := l.usage[tenantID]
	if used+seconds > b.LimitSeconds {
		return CheckDeny
	}
	if b.WarnSeconds > 0 && used+seconds > b.LimitSeconds-b.WarnSeconds {
		return CheckWarn
	}
	return CheckOK
}

// Debit records consumption for a call. Idempotent by callID: a repeat
// returns the original transaction with committed=false and no effect.
// When the tenant is inactive or over budget the debit is still recorded
// with BestEffort set, because an in-flight call is never torn down for
// billing; the caller decides what to do with the flag.
func (l *Ledger) Debit(tenantID string, seconds int64, callID string) (Transaction, bool, error) {
	if seconds < 0 {
		return Transaction{}, false, fault.New(fault.Validation, "debit seconds must be >= 0")
	}
	if callID == "" {
		return Transaction{}, false, fault.New(fault.Validation, "debit requires a call id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if txID, seen := l.byCallID[callID]; seen {
		for _, tx := range l.txs[tenantID] {
			if tx.ID == txID {
				return tx, false, nil
			}
		}
		return Transaction{}, false, nil
	}

	bestEffort := l.checkLocked(tenantID, seconds) == CheckDeny

	tx := Transaction{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		CallID:     callID,
		Seconds:    seconds,
		Reason:     "call",
		BestEffort: bestEffort,
		CreatedAt:  time.Now().UTC(),
	}
	l.apply(tx)

	if bestEffort {
		l.log.Warn("best-effort debit recorded",
			zap.String("tenant_id", tenantID),
			zap.String("call_id", callID),
			zap.Int64("seconds", seconds),
		)
	}
	return tx, true, nil
}

// Credit adds seconds back (top-up, refund). Always succeeds.
func (l *Ledger) Credit(tenantID string, seconds int64, reason string) Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := Transaction{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Seconds:   -seconds,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	l.apply(tx)
	return tx
}

// ResetCycle zeroes a tenant's usage for a new billing cycle by writing a
// synthetic credit of -usage. The cycle label ("2026-08") guards exactly-once.
func (l *Ledger) ResetCycle(tenantID, cycle string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resets[tenantID] == cycle {
		return Transaction{}, false
	}
	l.resets[tenantID] = cycle

	used := l.usage[tenantID]
	if used == 0 {
		return Transaction{}, false
	}

	tx := Transaction{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Seconds:   -used,
		Reason:    "cycle_reset:" + cycle,
		CreatedAt: time.Now().UTC(),
	}
	l.apply(tx)
	return tx, true
}

// Usage returns the tenant's current usage in seconds.
func (l *Ledger) Usage(tenantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage[tenantID]
}

// Transactions returns a copy of the tenant's transaction log.
func (l *Ledger) Transactions(tenantID string) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.txs[tenantID]))
	copy(out, l.txs[tenantID])
	return out
}

// Tenants returns all tenant ids with a registered budget.
func (l *Ledger) Tenants() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.budgets))
	for id := range l.budgets {
		ids = append(ids, id)
	}
	return ids
}

// apply commits a transaction under the lock, keeping usage == sum(txs).
func (l *Ledger) apply(tx Transaction) {
	l.txs[tx.TenantID] = append(l.txs[tx.TenantID], tx)
	l.usage[tx.TenantID] += tx.Seconds
	if tx.CallID != "" {
		l.byCallID[tx.CallID] = tx.ID
	}
}

// restore loads a transaction during startup replay without idempotency or
// budget checks.
func (l *Ledger) restore(tx Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apply(tx)
}
