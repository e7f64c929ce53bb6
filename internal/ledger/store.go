package ledger

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/store"
)

// Store persists the transaction log and replays it into a Ledger at
// startup, so usage == sum(transactions) survives restarts.
type Store struct {
	*Ledger
	db *store.DB
}

// NewStore opens a database-backed ledger and replays existing transactions.
func NewStore(dsn string, log *zap.Logger) (*Store, error) {
	db, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS credit_transactions (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		call_id     TEXT,
		seconds     INTEGER NOT NULL,
		reason      TEXT,
		best_effort INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create transactions table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_credit_tenant ON credit_transactions(tenant_id)`)
	_, _ = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_call ON credit_transactions(call_id) WHERE call_id != ''`)

	s := &Store{Ledger: New(log), db: db}
	if err := s.replay(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replay transactions: %w", err)
	}
	return s, nil
}

// Debit records and persists. The memory commit and the row insert are one
// logical step: a persistence failure is surfaced so the caller can mark
// the session-close audit record accordingly.
func (s *Store) Debit(tenantID string, seconds int64, callID string) (Transaction, bool, error) {
	tx, applied, err := s.Ledger.Debit(tenantID, seconds, callID)
	if err != nil || !applied {
		return tx, applied, err
	}
	if err := s.persist(tx); err != nil {
		return tx, true, fmt.Errorf("persist debit: %w", err)
	}
	return tx, true, nil
}

// Credit records and persists a credit.
func (s *Store) Credit(tenantID string, seconds int64, reason string) (Transaction, error) {
	tx := s.Ledger.Credit(tenantID, seconds, reason)
	if err := s.persist(tx); err != nil {
		return tx, fmt.Errorf("persist credit: %w", err)
	}
	return tx, nil
}

// ResetCycle persists the synthetic reset credit when one is written.
func (s *Store) ResetCycle(tenantID, cycle string) (Transaction, bool, error) {
	tx, written := s.Ledger.ResetCycle(tenantID, cycle)
	if !written {
		return tx, false, nil
	}
	if err := s.persist(tx); err != nil {
		return tx, true, fmt.Errorf("persist reset: %w", err)
	}
	return tx, true, nil
}

// Close shuts down the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) persist(tx Transaction) error {
	bestEffort := 0
	if tx.BestEffort {
		bestEffort = 1
	}
	_, err := s.db.Exec(s.db.Rebind(`INSERT INTO credit_transactions
		(id, tenant_id, call_id, seconds, reason, best_effort, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		tx.ID, tx.TenantID, tx.CallID, tx.Seconds, tx.Reason, bestEffort,
		tx.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) replay() error {
	rows, err := s.db.Query(`SELECT id, tenant_id, call_id, seconds, reason, best_effort, created_at
		FROM credit_transactions ORDER BY created_at ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tx         Transaction
			bestEffort int
			createdAt  string
		)
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.CallID, &tx.Seconds, &tx.Reason, &bestEffort, &createdAt); err != nil {
			return err
		}
		tx.BestEffort = bestEffort != 0
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		s.restore(tx)
	}
	return rows.Err()
}
