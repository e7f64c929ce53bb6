// Package audit provides the privacy-compliant, append-only event trail.
// Every session transition, routing decision, ledger movement, and admin
// action is recorded, scoped by tenant. Writes pass through the privacy
// sanitizer; a payload that still carries forbidden data after sanitization
// is rejected, never stored.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/shared/privacy"
)

// EventType classifies audit events.
type EventType string

const (
	EventSessionOpened     EventType = "session.opened"
	EventSessionClosed     EventType = "session.closed"
	EventSessionBridged    EventType = "session.bridged"
	EventSessionVoicemail  EventType = "session.voicemail"
	EventRoutingRequested  EventType = "routing.requested"
	EventRoutingResolved   EventType = "routing.resolved"
	EventRoutingExhausted  EventType = "routing.exhausted"
	EventCreditDebited     EventType = "credit.debited"
	EventCreditRejected    EventType = "credit.rejected"
	EventCreditReset       EventType = "credit.cycle_reset"
	EventCallbackCreated   EventType = "callback.created"
	EventCallbackAttempt   EventType = "callback.attempt"
	EventCallbackResolved  EventType = "callback.resolved"
	EventCallbackExpired   EventType = "callback.expired"
	EventCallbackCancelled EventType = "callback.cancelled"
	EventAgentStatus       EventType = "agent.status_changed"
	EventScaleAction       EventType = "scale.action"
	EventFailover          EventType = "gateway.failover"
	EventTenantChanged     EventType = "tenant.changed"
	EventAdminAction       EventType = "admin.action"
	EventPrivacyRejected   EventType = "privacy.rejected"
)

// Event is a single audit entry. ActorHash is a salted hash, never a raw
// identifier; Payload has already passed the sanitizer by the time an Event
// exists in a Log.
type Event struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          EventType      `json:"type"`
	ActorHash     string         `json:"actor_hash,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Success       bool           `json:"success"`
}

// Filter selects events on read. TenantID is mandatory: the log never
// answers cross-tenant queries.
type Filter struct {
	TenantID      string
	Type          EventType
	CorrelationID string
	Since         time.Time
	Until         time.Time
	Limit         int
}

// Log is an append-only, in-memory audit log with an optional ring bound.
type Log struct {
	mu     sync.RWMutex
	events []Event
	maxLen int
}

// NewLog creates an audit log. maxLen=0 means unbounded.
func NewLog(maxLen int) *Log {
	return &Log{
		events: make([]Event, 0, 1024),
		maxLen: maxLen,
	}
}

// sanitize applies the privacy rules to an event and verifies nothing
// forbidden survives. The returned event is safe to persist.
func sanitize(evt Event) (Event, error) {
	if evt.TenantID == "" {
		return Event{}, fault.New(fault.Validation, "audit event missing tenant id")
	}

	evt.Payload = privacy.SanitizePayload(evt.Payload)

	if evt.Payload != nil {
		serialized, err := json.Marshal(evt.Payload)
		if err != nil {
			return Event{}, fault.Wrap(fault.Internal, err, "serialize audit payload")
		}
		if privacy.Scan(string(serialized)) {
			return Event{}, fault.New(fault.Privacy, "audit payload still contains forbidden data after sanitization")
		}
	}

	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt, nil
}

// Record sanitizes and appends an event.
func (l *Log) Record(evt Event) error {
	clean, err := sanitize(evt)
	if err != nil {
		return err
	}
	l.append(clean)
	return nil
}

// append stores an already-sanitized event.
func (l *Log) append(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, evt)
	if l.maxLen > 0 && len(l.events) > l.maxLen {
		l.events = l.events[len(l.events)-l.maxLen:]
	}
}

// Query returns events matching the filter, newest first. An empty tenant
// id yields nothing.
func (l *Log) Query(f Filter) []Event {
	if f.TenantID == "" {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		evt := l.events[i]
		if !matches(evt, f) {
			continue
		}
		result = append(result, evt)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result
}

// Count returns total event count across all tenants.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func matches(evt Event, f Filter) bool {
	if evt.TenantID != f.TenantID {
		return false
	}
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if f.CorrelationID != "" && evt.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && evt.Timestamp.After(f.Until) {
		return false
	}
	return true
}
