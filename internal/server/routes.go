package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/auth"
	"github.com/marcus-qen/frontdesk/internal/callback"
	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/ledger"
	"github.com/marcus-qen/frontdesk/internal/session"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health + version + metrics
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Tenants
	mux.HandleFunc("POST /api/v1/tenants", s.withPermission(auth.PermAdmin, s.handleCreateTenant))
	mux.HandleFunc("GET /api/v1/tenants", s.withPermission(auth.PermAdmin, s.handleListTenants))
	mux.HandleFunc("GET /api/v1/tenants/{id}", s.withPermission(auth.PermTenantRead, s.handleGetTenant))
	mux.HandleFunc("PUT /api/v1/tenants/{id}", s.withPermission(auth.PermTenantWrite, s.handleUpdateTenant))
	mux.HandleFunc("POST /api/v1/tenants/{id}/deactivate", s.withPermission(auth.PermAdmin, s.handleTenantActive(false)))
	mux.HandleFunc("POST /api/v1/tenants/{id}/activate", s.withPermission(auth.PermAdmin, s.handleTenantActive(true)))
	mux.HandleFunc("DELETE /api/v1/tenants/{id}", s.withPermission(auth.PermAdmin, s.handleDeleteTenant))

	// Departments
	mux.HandleFunc("POST /api/v1/tenants/{id}/departments", s.withPermission(auth.PermTenantWrite, s.handleCreateDepartment))
	mux.HandleFunc("GET /api/v1/tenants/{id}/departments", s.withPermission(auth.PermTenantRead, s.handleListDepartments))

	// Agents
	mux.HandleFunc("POST /api/v1/tenants/{id}/agents", s.withPermission(auth.PermTenantWrite, s.handleRegisterAgent))
	mux.HandleFunc("GET /api/v1/tenants/{id}/agents", s.withPermission(auth.PermTenantRead, s.handleListAgents))
	mux.HandleFunc("PUT /api/v1/tenants/{id}/agents/{agentID}/status", s.withPermission(auth.PermTenantWrite, s.handleAgentStatus))
	mux.HandleFunc("DELETE /api/v1/tenants/{id}/agents/{agentID}", s.withPermission(auth.PermTenantWrite, s.handleRemoveAgent))

	// Callbacks
	mux.HandleFunc("POST /api/v1/tenants/{id}/callbacks", s.withPermission(auth.PermCallbackWrite, s.handleCreateCallback))
	mux.HandleFunc("GET /api/v1/tenants/{id}/callbacks", s.withPermission(auth.PermTenantRead, s.handleListCallbacks))
	mux.HandleFunc("GET /api/v1/tenants/{id}/callbacks/{cbID}/attempts", s.withPermission(auth.PermTenantRead, s.handleCallbackAttempts))
	mux.HandleFunc("DELETE /api/v1/tenants/{id}/callbacks/{cbID}", s.withPermission(auth.PermCallbackWrite, s.handleCancelCallback))

	// Credit ledger
	mux.HandleFunc("GET /api/v1/tenants/{id}/credit", s.withPermission(auth.PermTenantRead, s.handleCredit))
	mux.HandleFunc("POST /api/v1/tenants/{id}/credit/grant", s.withPermission(auth.PermAdmin, s.handleCreditGrant))

	// Audit
	mux.HandleFunc("GET /api/v1/tenants/{id}/audit", s.withPermission(auth.PermAuditRead, s.handleAudit))

	// Sessions (read only; the orchestrator owns the lifecycle)
	if s.deps.Sessions != nil {
		mux.HandleFunc("GET /api/v1/tenants/{id}/sessions", s.withPermission(auth.PermCallsRead, s.handleListSessions))
	}

	// Gateway status
	if s.deps.Gateway != nil {
		mux.HandleFunc("GET /api/v1/gateway/status", s.withPermission(auth.PermAdmin, s.handleGatewayStatus))
	}

	// Autoscale
	if s.deps.Scaler != nil {
		mux.HandleFunc("POST /api/v1/autoscale/evaluate", s.withPermission(auth.PermAdmin, s.handleForceEvaluate))
	}

	// API keys
	if s.deps.Keys != nil {
		mux.HandleFunc("POST /api/v1/keys", s.withPermission(auth.PermAdmin, s.handleCreateKey))
		mux.HandleFunc("GET /api/v1/keys", s.withPermission(auth.PermAdmin, s.handleListKeys))
		mux.HandleFunc("DELETE /api/v1/keys/{keyID}", s.withPermission(auth.PermAdmin, s.handleRevokeKey))
	}

	// Carrier edge
	if s.deps.Webhook != nil {
		mux.HandleFunc("POST /carrier/voice", s.deps.Webhook.HandleInbound())
		mux.HandleFunc("POST /carrier/status", s.deps.Webhook.HandleStatus())
		mux.HandleFunc("GET /carrier/media", s.deps.Webhook.HandleMedia())
	}

	// MCP admin tools
	if s.deps.MCP != nil {
		mux.Handle("GET /mcp", s.deps.MCP)
		mux.Handle("POST /mcp", s.deps.MCP)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	})
}

// --- Tenants ---

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var tn tenant.Tenant
	if err := json.NewDecoder(r.Body).Decode(&tn); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid tenant payload")
		return
	}
	created, err := s.deps.Tenants.Create(tn)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	s.syncBudget(created)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tenants.List())
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	tn, err := s.deps.Tenants.Get(id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tn)
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	var tn tenant.Tenant
	if err := json.NewDecoder(r.Body).Decode(&tn); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid tenant payload")
		return
	}
	tn.ID = id
	updated, err := s.deps.Tenants.Update(tn)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	s.syncBudget(updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTenantActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.scopedTenant(w, r)
		if !ok {
			return
		}
		var err error
		if active {
			err = s.deps.Tenants.Activate(id)
		} else {
			err = s.deps.Tenants.Deactivate(id)
		}
		if err != nil {
			writeFault(w, r, err)
			return
		}
		if tn, tErr := s.deps.Tenants.Get(id); tErr == nil {
			s.syncBudget(tn)
		} else if !active && s.deps.Credits != nil {
			s.deps.Credits.SetBudget(id, ledger.Budget{Active: false})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	if err := s.deps.Tenants.Delete(id); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// syncBudget keeps the credit ledger's view of a tenant's allowance in
// step with the registry.
func (s *Server) syncBudget(tn *tenant.Tenant) {
	if s.deps.Credits == nil || tn == nil {
		return
	}
	limit := tn.MonthlyMinutes * 60
	s.deps.Credits.SetBudget(tn.ID, ledger.Budget{
		LimitSeconds: limit,
		WarnSeconds:  limit / 10,
		Active:       tn.Active,
	})
}

// --- Departments ---

func (s *Server) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	var dept tenant.Department
	if err := json.NewDecoder(r.Body).Decode(&dept); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid department payload")
		return
	}
	dept.TenantID = id
	created, err := s.deps.Tenants.CreateDepartment(dept)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tenants.Departments(id))
}

// --- Agents ---

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	var a directory.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid agent payload")
		return
	}
	a.TenantID = id
	created, err := s.deps.Agents.Register(a)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Agents.List(id))
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	var in struct {
		Status directory.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid status payload")
		return
	}
	a, err := s.deps.Agents.SetStatus(id, r.PathValue("agentID"), in.Status)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	if err := s.deps.Agents.Remove(id, r.PathValue("agentID")); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Callbacks ---

func (s *Server) handleCreateCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	var in struct {
		Number      string `json:"number"`
		Department  string `json:"department,omitempty"`
		Reason      string `json:"reason,omitempty"`
		Priority    int    `json:"priority,omitempty"`
		MaxAttempts int    `json:"max_attempts,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid callback payload")
		return
	}
	if in.Priority == 0 {
		in.Priority = callback.PriorityNormal
	}
	created, err := s.deps.Callbacks.Create(callback.Callback{
		TenantID:    id,
		Number:      in.Number,
		Department:  in.Department,
		Reason:      in.Reason,
		Priority:    in.Priority,
		MaxAttempts: in.MaxAttempts,
	})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListCallbacks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	list, err := s.deps.Callbacks.List(id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCallbackAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	cbID := r.PathValue("cbID")
	if _, err := s.deps.Callbacks.Get(id, cbID); err != nil {
		writeFault(w, r, err)
		return
	}
	attempts, err := s.deps.Callbacks.AttemptsFor(id, cbID)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleCancelCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	if err := s.deps.Callbacks.Cancel(id, r.PathValue("cbID")); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Credit ---

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":    id,
		"used_seconds": s.deps.Credits.Usage(id),
		"transactions": s.deps.Credits.Transactions(id),
	})
}

func (s *Server) handleCreditGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	var in struct {
		Seconds int64  `json:"seconds"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Seconds <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "grant requires positive seconds")
		return
	}
	tx, err := s.deps.Credits.Credit(id, in.Seconds, in.Reason)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// --- Audit ---

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	f := audit.Filter{
		TenantID:      id,
		Type:          audit.EventType(r.URL.Query().Get("type")),
		CorrelationID: r.URL.Query().Get("correlation_id"),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		f.Since = t
	}
	writeJSON(w, http.StatusOK, s.deps.Audit.Query(f))
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scopedTenant(w, r)
	if !ok {
		return
	}
	out := make([]session.Session, 0)
	for _, sess := range s.deps.Sessions.Snapshot() {
		if sess.TenantID == id {
			out = append(out, sess)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Autoscale ---

func (s *Server) handleForceEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scaler.ForceEvaluation(r.Context()); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- Gateway ---

func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Gateway.Status())
}

// --- API keys ---

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TenantID    string            `json:"tenant_id,omitempty"`
		Name        string            `json:"name"`
		Permissions []auth.Permission `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		writeJSONError(w, r, http.StatusBadRequest, "key requires a name")
		return
	}
	key, plain, err := s.deps.Keys.Create(in.TenantID, in.Name, in.Permissions, nil)
	if err != nil {
		writeFault(w, r, fault.Wrap(fault.Internal, err, "create key"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":       key,
		"plaintext": plain, // shown once
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Keys.List())
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Keys.Revoke(r.PathValue("keyID")); err != nil {
		writeJSONError(w, r, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
