package session

import (
	"sync"
	"time"
)

// CloseReason is why a session ended.
type CloseReason string

const (
	CloseHangup    CloseReason = "hangup"
	CloseCompleted CloseReason = "completed"
	CloseExpired   CloseReason = "expired"
	CloseRefused   CloseReason = "refused"
	CloseError     CloseReason = "error"
)

// Session is the record of one live (or just-ended) call.
type Session struct {
	CallID            string      `json:"call_id"`
	TenantID          string      `json:"tenant_id"`
	Department        string      `json:"department,omitempty"`
	CallerFingerprint string      `json:"caller_fingerprint"`
	State             State       `json:"state"`
	AgentID           string      `json:"agent_id,omitempty"`
	Turns             int         `json:"turns"`
	StartedAt         time.Time   `json:"started_at"`
	EndedAt           time.Time   `json:"ended_at,omitempty"`
	Reason            CloseReason `json:"reason,omitempty"`
	ChargedSeconds    int64       `json:"charged_seconds,omitempty"`
}

// Duration is the billable length of the call so far (or final, once ended).
func (s *Session) Duration(now time.Time) time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}

// Store tracks live sessions for dashboards, the autoscaler's load signal,
// and admin tooling. The orchestrator owns the lifecycle; the store is a
// read surface.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Put inserts or replaces a session snapshot.
func (st *Store) Put(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	copy := s
	st.sessions[s.CallID] = &copy
}

// Get returns a session snapshot.
func (st *Store) Get(callID string) (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[callID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Remove deletes a session once its close has been recorded.
func (st *Store) Remove(callID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, callID)
}

// ActiveCount returns live (non-closed) sessions, optionally per tenant.
// Empty tenantID counts the whole platform; the autoscaler samples this.
func (st *Store) ActiveCount(tenantID string) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	n := 0
	for _, s := range st.sessions {
		if s.State == StateClosed {
			continue
		}
		if tenantID != "" && s.TenantID != tenantID {
			continue
		}
		n++
	}
	return n
}

// Snapshot returns copies of all tracked sessions.
func (st *Store) Snapshot() []Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, *s)
	}
	return out
}
