package callback

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/shared/privacy"
	"github.com/marcus-qen/frontdesk/internal/store"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// defaultTTL is how long a callback stays workable before it expires.
const defaultTTL = 7 * 24 * time.Hour

// Queue is the persistent callback queue. Claiming is compare-and-swap on
// status so concurrent workers never dial the same caller twice.
type Queue struct {
	db      *store.DB
	tenants *tenant.Registry
	hasher  *privacy.Hasher
	log     *zap.Logger
	now     func() time.Time
}

// NewQueue opens the queue on an existing database handle.
func NewQueue(db *store.DB, tenants *tenant.Registry, hasher *privacy.Hasher, log *zap.Logger) (*Queue, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS callbacks (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		department   TEXT,
		number       TEXT NOT NULL,
		fingerprint  TEXT NOT NULL,
		reason       TEXT,
		priority     INTEGER NOT NULL,
		status       TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		expires_at   TEXT NOT NULL,
		resolved_at  TEXT
	)`); err != nil {
		return nil, fmt.Errorf("create callbacks table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS callback_attempts (
		id          TEXT PRIMARY KEY,
		callback_id TEXT NOT NULL,
		tenant_id   TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		note        TEXT,
		at          TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create callback_attempts table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_callbacks_due ON callbacks(status, next_attempt)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_callbacks_tenant ON callbacks(tenant_id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_callback_attempts ON callback_attempts(callback_id)`)

	return &Queue{db: db, tenants: tenants, hasher: hasher, log: log, now: time.Now}, nil
}

// Create accepts a new callback. The caller number is fingerprinted for all
// reporting surfaces; the first attempt is slotted into the tenant's
// business hours on the 15-minute grid.
func (q *Queue) Create(cb Callback) (*Callback, error) {
	if cb.Priority == 0 {
		cb.Priority = PriorityNormal
	}
	if err := cb.Validate(); err != nil {
		return nil, err
	}

	hours, err := q.tenants.HoursFor(cb.TenantID, cb.Department)
	if err != nil {
		return nil, err
	}

	now := q.now().UTC()
	cb.ID = uuid.New().String()
	cb.CallerFingerprint = q.hasher.Fingerprint(cb.Number)
	cb.Status = StatusPending
	cb.Attempts = 0
	cb.CreatedAt = now
	if cb.NextAttempt.IsZero() || cb.NextAttempt.Before(now) {
		cb.NextAttempt = now
	}
	cb.NextAttempt = NextSlot(cb.NextAttempt, hours)
	if cb.ExpiresAt.IsZero() {
		cb.ExpiresAt = now.Add(defaultTTL)
	}

	if err := q.insert(cb); err != nil {
		return nil, fmt.Errorf("persist callback: %w", err)
	}
	q.log.Info("callback queued",
		zap.String("tenant_id", cb.TenantID),
		zap.String("callback_id", cb.ID),
		zap.Int("priority", cb.Priority),
		zap.Time("next_attempt", cb.NextAttempt),
	)
	out := cb
	return &out, nil
}

// Due returns pending, unexpired callbacks whose slot has arrived, best
// score first.
func (q *Queue) Due(now time.Time, limit int) ([]Callback, error) {
	rows, err := q.db.Query(q.db.Rebind(`SELECT `+columns+` FROM callbacks
		WHERE status = ? AND next_attempt <= ? AND expires_at > ?`),
		string(StatusPending), now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	out, err := scanAll(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Score(now), out[j].Score(now)
		if si != sj {
			return si > sj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim CASes a pending callback to claimed. False means another worker won.
func (q *Queue) Claim(id string) (bool, error) {
	res, err := q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ? WHERE id = ? AND status = ?`),
		string(StatusClaimed), id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Resolve marks a claimed callback done.
func (q *Queue) Resolve(id string) error {
	res, err := q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`),
		string(StatusResolved), q.now().UTC().Format(time.RFC3339Nano), id, string(StatusClaimed))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fault.New(fault.Conflict, "callback %s is not claimed", id)
	}
	return nil
}

// Fail records an unsuccessful attempt: back to pending with the next slot
// backed off, or failed once the callback's attempt cap is hit.
func (q *Queue) Fail(cb Callback) (*Callback, error) {
	cb.Attempts++
	if cb.Attempts >= cb.AttemptCap() {
		cb.Status = StatusFailed
		_, err := q.db.Exec(q.db.Rebind(
			`UPDATE callbacks SET status = ?, attempts = ? WHERE id = ?`),
			string(StatusFailed), cb.Attempts, cb.ID)
		if err != nil {
			return nil, err
		}
		return &cb, nil
	}

	hours, err := q.tenants.HoursFor(cb.TenantID, cb.Department)
	if err != nil {
		return nil, err
	}
	cb.Status = StatusPending
	cb.NextAttempt = NextSlot(q.now().UTC().Add(Backoff(cb.Attempts)), hours)

	_, err = q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ?, attempts = ?, next_attempt = ? WHERE id = ?`),
		string(StatusPending), cb.Attempts, cb.NextAttempt.Format(time.RFC3339Nano), cb.ID)
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

// Requeue puts a claimed callback back on the queue for a follow-up: the
// caller was connected but the conversation did not settle the matter.
// The attempt does not count against the cap; only unreachable callers
// burn attempts.
func (q *Queue) Requeue(cb Callback) (*Callback, error) {
	hours, err := q.tenants.HoursFor(cb.TenantID, cb.Department)
	if err != nil {
		return nil, err
	}
	cb.Status = StatusPending
	cb.NextAttempt = NextSlot(q.now().UTC().Add(retrySchedule[0]), hours)

	_, err = q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ?, next_attempt = ? WHERE id = ?`),
		string(StatusPending), cb.NextAttempt.Format(time.RFC3339Nano), cb.ID)
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

// MarkFailed terminates a callback immediately, e.g. when the number turns
// out to be invalid and redialing is pointless.
func (q *Queue) MarkFailed(cb Callback) (*Callback, error) {
	cb.Status = StatusFailed
	_, err := q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ? WHERE id = ?`),
		string(StatusFailed), cb.ID)
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

// RecordAttempt appends one dial attempt to the callback's history.
func (q *Queue) RecordAttempt(a Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.At.IsZero() {
		a.At = q.now().UTC()
	}
	_, err := q.db.Exec(q.db.Rebind(`INSERT INTO callback_attempts
		(id, callback_id, tenant_id, outcome, note, at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID, a.CallbackID, a.TenantID, string(a.Outcome), a.Note,
		a.At.Format(time.RFC3339Nano))
	return err
}

// AttemptsFor returns a callback's dial history, oldest first.
func (q *Queue) AttemptsFor(tenantID, callbackID string) ([]Attempt, error) {
	rows, err := q.db.Query(q.db.Rebind(`SELECT id, callback_id, tenant_id, outcome, note, at
		FROM callback_attempts WHERE tenant_id = ? AND callback_id = ? ORDER BY at`),
		tenantID, callbackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var (
			a       Attempt
			outcome string
			at      string
		)
		if err := rows.Scan(&a.ID, &a.CallbackID, &a.TenantID, &outcome, &a.Note, &at); err != nil {
			return nil, err
		}
		a.Outcome = Outcome(outcome)
		a.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Cancel withdraws a pending callback, tenant-scoped.
func (q *Queue) Cancel(tenantID, id string) error {
	res, err := q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ? WHERE id = ? AND tenant_id = ? AND status = ?`),
		string(StatusCancelled), id, tenantID, string(StatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fault.New(fault.NotFound, "no pending callback %s for tenant %s", id, tenantID)
	}
	return nil
}

// ExpireOverdue sweeps pending callbacks past their TTL. Returns how many
// were expired.
func (q *Queue) ExpireOverdue(now time.Time) (int64, error) {
	res, err := q.db.Exec(q.db.Rebind(
		`UPDATE callbacks SET status = ? WHERE status = ? AND expires_at <= ?`),
		string(StatusExpired), string(StatusPending), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns a tenant's callbacks, newest first.
func (q *Queue) List(tenantID string) ([]Callback, error) {
	rows, err := q.db.Query(q.db.Rebind(`SELECT `+columns+` FROM callbacks
		WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

// Get returns one callback, tenant-scoped.
func (q *Queue) Get(tenantID, id string) (*Callback, error) {
	rows, err := q.db.Query(q.db.Rebind(`SELECT `+columns+` FROM callbacks
		WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return nil, err
	}
	all, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fault.New(fault.NotFound, "callback %s not found for tenant %s", id, tenantID)
	}
	return &all[0], nil
}

// TenantDeleted drops all of a tenant's callbacks (tenant cascade).
func (q *Queue) TenantDeleted(tenantID string) {
	if _, err := q.db.Exec(q.db.Rebind(`DELETE FROM callbacks WHERE tenant_id = ?`), tenantID); err != nil {
		q.log.Error("callback cascade delete failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

const columns = `id, tenant_id, department, number, fingerprint, reason,
	priority, status, attempts, max_attempts, next_attempt, created_at, expires_at, resolved_at`

func (q *Queue) insert(cb Callback) error {
	_, err := q.db.Exec(q.db.Rebind(`INSERT INTO callbacks
		(id, tenant_id, department, number, fingerprint, reason, priority,
		 status, attempts, max_attempts, next_attempt, created_at, expires_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cb.ID, cb.TenantID, cb.Department, cb.Number, cb.CallerFingerprint,
		cb.Reason, cb.Priority, string(cb.Status), cb.Attempts, cb.MaxAttempts,
		cb.NextAttempt.Format(time.RFC3339Nano),
		cb.CreatedAt.Format(time.RFC3339Nano),
		cb.ExpiresAt.Format(time.RFC3339Nano),
		"",
	)
	return err
}

func scanAll(rows *sql.Rows) ([]Callback, error) {
	defer rows.Close()
	var out []Callback
	for rows.Next() {
		var (
			cb                                            Callback
			status                                        string
			nextAttempt, createdAt, expiresAt, resolvedAt string
		)
		if err := rows.Scan(&cb.ID, &cb.TenantID, &cb.Department, &cb.Number,
			&cb.CallerFingerprint, &cb.Reason, &cb.Priority, &status,
			&cb.Attempts, &cb.MaxAttempts, &nextAttempt, &createdAt, &expiresAt, &resolvedAt); err != nil {
			return nil, err
		}
		cb.Status = Status(status)
		cb.NextAttempt, _ = time.Parse(time.RFC3339Nano, nextAttempt)
		cb.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		cb.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
		if resolvedAt != "" {
			cb.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}
