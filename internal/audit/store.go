package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus-qen/frontdesk/internal/store"
)

// Store persists audit events. It wraps the in-memory Log for fast recent
// queries and writes every event through to the database.
type Store struct {
	db          *store.DB
	log         *Log
	memoryLimit int
}

// NewStore opens a database-backed audit store and migrates its schema.
func NewStore(dsn string, memoryLimit int) (*Store, error) {
	db, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		timestamp      TEXT NOT NULL,
		type           TEXT NOT NULL,
		actor_hash     TEXT,
		correlation_id TEXT,
		payload        TEXT,
		success        INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_events(tenant_id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_tenant_type ON audit_events(tenant_id, type)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(timestamp)`)

	return &Store{
		db:          db,
		log:         NewLog(memoryLimit),
		memoryLimit: memoryLimit,
	}, nil
}

// Record sanitizes, appends to memory, and persists. A privacy rejection
// fails the whole write; a database error after a successful sanitize is
// returned but the in-memory record stands.
func (s *Store) Record(evt Event) error {
	clean, err := sanitize(evt)
	if err != nil {
		return err
	}

	s.log.append(clean)
	return s.persist(clean)
}

// Query reads from the in-memory cache. Tenant-scoped.
func (s *Store) Query(f Filter) []Event {
	return s.log.Query(f)
}

// QueryPersisted reads from the database directly, for events that have
// aged out of memory. Tenant-scoped.
func (s *Store) QueryPersisted(ctx context.Context, f Filter) ([]Event, error) {
	if f.TenantID == "" {
		return nil, nil
	}

	query := `SELECT id, tenant_id, timestamp, type, actor_hash, correlation_id, payload, success
		FROM audit_events WHERE tenant_id = ?`
	args := []any{f.TenantID}

	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, f.CorrelationID)
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			evt     Event
			ts      string
			payload string
			success int
		)
		if err := rows.Scan(&evt.ID, &evt.TenantID, &ts, &evt.Type, &evt.ActorHash, &evt.CorrelationID, &payload, &success); err != nil {
			return nil, err
		}
		evt.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		evt.Success = success != 0
		if payload != "" && payload != "null" {
			_ = json.Unmarshal([]byte(payload), &evt.Payload)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Count returns the total persisted event count.
func (s *Store) Count() int {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count); err != nil {
		return s.log.Count()
	}
	return count
}

// Purge deletes persisted events older than the retention window.
func (s *Store) Purge(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.Exec(s.db.Rebind("DELETE FROM audit_events WHERE timestamp < ?"), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeLoop applies retention periodically until ctx is cancelled.
func (s *Store) PurgeLoop(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}

	_, _ = s.Purge(retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Purge(retention)
		}
	}
}

// Close shuts down the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) persist(evt Event) error {
	payload, _ := json.Marshal(evt.Payload)
	success := 0
	if evt.Success {
		success = 1
	}

	_, err := s.db.Exec(s.db.Rebind(`INSERT INTO audit_events
		(id, tenant_id, timestamp, type, actor_hash, correlation_id, payload, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		evt.ID,
		evt.TenantID,
		evt.Timestamp.Format(time.RFC3339Nano),
		string(evt.Type),
		evt.ActorHash,
		evt.CorrelationID,
		string(payload),
		success,
	)
	return err
}
