/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tenant provides the multi-tenant foundation. Every customer
// organization is a tenant; tenants are the isolation boundary for agents,
// callbacks, audit events, and credit. The registry is the single source of
// truth for tenant configuration and the per-tenant concurrent-call gate.
package tenant

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// FallbackMode is what a session does when routing finds no agent.
type FallbackMode string

const (
	FallbackVoicemail FallbackMode = "voicemail"
	FallbackCallback  FallbackMode = "callback"
)

// RoutingDefaults are the tenant-wide routing knobs.
type RoutingDefaults struct {
	// MaxTransferAttempts bounds the AI turn loop before a forced transfer.
	MaxTransferAttempts int `json:"max_transfer_attempts" yaml:"max_transfer_attempts"`

	// AgentReplyTimeout is how long a routed agent may sit on an offer.
	AgentReplyTimeout time.Duration `json:"agent_reply_timeout" yaml:"agent_reply_timeout"`

	// Fallback is where a call goes when no agent is available.
	Fallback FallbackMode `json:"fallback" yaml:"fallback"`
}

// BusinessHours is a tenant's or department's open window. Days uses
// time.Weekday values; an empty set means Monday through Friday.
type BusinessHours struct {
	Timezone  string         `json:"timezone" yaml:"timezone"`
	StartHour int            `json:"start_hour" yaml:"start_hour"`
	EndHour   int            `json:"end_hour" yaml:"end_hour"`
	Days      []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"`
}

// Department is a tenant-scoped routing bucket.
type Department struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Name         string         `json:"name"`
	VoicemailBox string         `json:"voicemail_box"`
	Hours        *BusinessHours `json:"hours,omitempty"` // nil = tenant default
}

// Tenant is one customer organization.
type Tenant struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Active             bool            `json:"active"`
	MonthlyMinutes     int64           `json:"monthly_minutes"`
	MaxConcurrentCalls int             `json:"max_concurrent_calls"`
	Routing            RoutingDefaults `json:"routing"`
	Hours              BusinessHours   `json:"hours"`
	FeatureFlags       map[string]bool `json:"feature_flags,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Cascade receives hard-deletion notifications so owned entities
// (agents, callbacks) can be removed with the tenant.
type Cascade interface {
	TenantDeleted(tenantID string)
}

// Registry holds tenants and enforces the per-tenant concurrent-call gate.
type Registry struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant
	departments map[string]map[string]*Department // tenant -> dept id -> dept
	activeCalls map[string]int
	cascades    []Cascade
	log         *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		tenants:     make(map[string]*Tenant),
		departments: make(map[string]map[string]*Department),
		activeCalls: make(map[string]int),
		log:         log,
	}
}

// RegisterCascade adds a deletion listener.
func (r *Registry) RegisterCascade(c Cascade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascades = append(r.cascades, c)
}

// Create validates and stores a tenant. Defaults are filled in for zero
// fields.
func (r *Registry) Create(t Tenant) (*Tenant, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fault.New(fault.Validation, "tenant name is required")
	}
	if t.MonthlyMinutes < 0 {
		return nil, fault.New(fault.Validation, "monthly minutes must be >= 0")
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.MaxConcurrentCalls <= 0 {
		t.MaxConcurrentCalls = 10
	}
	if t.Routing.MaxTransferAttempts <= 0 {
		t.Routing.MaxTransferAttempts = 3
	}
	if t.Routing.AgentReplyTimeout <= 0 {
		t.Routing.AgentReplyTimeout = 20 * time.Second
	}
	if t.Routing.Fallback == "" {
		t.Routing.Fallback = FallbackVoicemail
	}
	if t.Hours.Timezone == "" {
		t.Hours.Timezone = "UTC"
	}
	if t.Hours.EndHour == 0 {
		t.Hours.StartHour, t.Hours.EndHour = 9, 17
	}
	t.Active = true
	t.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tenants[t.ID]; exists {
		return nil, fault.New(fault.Conflict, "tenant %s already exists", t.ID)
	}
	r.tenants[t.ID] = &t
	r.departments[t.ID] = make(map[string]*Department)

	copy := t
	return &copy, nil
}

// Get returns a copy of the tenant.
func (r *Registry) Get(id string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "tenant %s not found", id)
	}
	copy := *t
	return &copy, nil
}

// List returns copies of all tenants.
func (r *Registry) List() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, *t)
	}
	return out
}

// Update applies mutable fields from upd to an existing tenant.
func (r *Registry) Update(upd Tenant) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[upd.ID]
	if !ok {
		return nil, fault.New(fault.NotFound, "tenant %s not found", upd.ID)
	}
	if strings.TrimSpace(upd.Name) != "" {
		t.Name = upd.Name
	}
	if upd.MonthlyMinutes > 0 {
		t.MonthlyMinutes = upd.MonthlyMinutes
	}
	if upd.MaxConcurrentCalls > 0 {
		t.MaxConcurrentCalls = upd.MaxConcurrentCalls
	}
	if upd.Routing.MaxTransferAttempts > 0 {
		t.Routing.MaxTransferAttempts = upd.Routing.MaxTransferAttempts
	}
	if upd.Routing.AgentReplyTimeout > 0 {
		t.Routing.AgentReplyTimeout = upd.Routing.AgentReplyTimeout
	}
	if upd.Routing.Fallback != "" {
		t.Routing.Fallback = upd.Routing.Fallback
	}
	if upd.FeatureFlags != nil {
		t.FeatureFlags = upd.FeatureFlags
	}
	copy := *t
	return &copy, nil
}

// Deactivate soft-disables a tenant. Active sessions run to completion;
// new sessions are refused at admission.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return fault.New(fault.NotFound, "tenant %s not found", id)
	}
	t.Active = false
	return nil
}

// Activate re-enables a tenant.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return fault.New(fault.NotFound, "tenant %s not found", id)
	}
	t.Active = true
	return nil
}

// Delete hard-removes a tenant and cascades to all owned entities.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.tenants[id]; !ok {
		r.mu.Unlock()
		return fault.New(fault.NotFound, "tenant %s not found", id)
	}
	delete(r.tenants, id)
	delete(r.departments, id)
	delete(r.activeCalls, id)
	cascades := make([]Cascade, len(r.cascades))
	copy(cascades, r.cascades)
	r.mu.Unlock()

	for _, c := range cascades {
		c.TenantDeleted(id)
	}
	return nil
}

// AdmitCall reserves a concurrent-call slot. Fails when the tenant is
// missing, inactive, or at its concurrency cap.
func (r *Registry) AdmitCall(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return fault.New(fault.NotFound, "tenant %s not found", id)
	}
	if !t.Active {
		return fault.New(fault.Quota, "tenant %s is deactivated", id)
	}
	if r.activeCalls[id] >= t.MaxConcurrentCalls {
		return fault.New(fault.Quota, "tenant %s at concurrent call limit (%d)", id, t.MaxConcurrentCalls)
	}
	r.activeCalls[id]++
	return nil
}

// ReleaseCall frees a concurrent-call slot.
func (r *Registry) ReleaseCall(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeCalls[id] > 0 {
		r.activeCalls[id]--
	}
}

// ActiveCalls returns the tenant's current concurrent call count.
func (r *Registry) ActiveCalls(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCalls[id]
}

// CreateDepartment adds a routing bucket under a tenant.
func (r *Registry) CreateDepartment(d Department) (*Department, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fault.New(fault.Validation, "department name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	depts, ok := r.departments[d.TenantID]
	if !ok {
		return nil, fault.New(fault.NotFound, "tenant %s not found", d.TenantID)
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	depts[d.ID] = &d
	copy := d
	return &copy, nil
}

// Department returns a tenant's department by id.
func (r *Registry) Department(tenantID, deptID string) (*Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.departments[tenantID][deptID]
	if !ok {
		return nil, fault.New(fault.NotFound, "department %s not found for tenant %s", deptID, tenantID)
	}
	copy := *d
	return &copy, nil
}

// Departments lists a tenant's departments.
func (r *Registry) Departments(tenantID string) []Department {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Department, 0, len(r.departments[tenantID]))
	for _, d := range r.departments[tenantID] {
		out = append(out, *d)
	}
	return out
}

// HoursFor resolves the effective business hours for a department, falling
// back to the tenant default.
func (r *Registry) HoursFor(tenantID, deptID string) (BusinessHours, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return BusinessHours{}, fault.New(fault.NotFound, "tenant %s not found", tenantID)
	}
	if deptID != "" {
		if d, ok := r.departments[tenantID][deptID]; ok && d.Hours != nil {
			return *d.Hours, nil
		}
	}
	return t.Hours, nil
}

// Open reports whether the business-hours window contains the instant.
func (h BusinessHours) Open(at time.Time) bool {
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)

	days := h.Days
	if len(days) == 0 {
		days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	dayOK := false
	for _, d := range days {
		if local.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	return local.Hour() >= h.StartHour && local.Hour() < h.EndHour
}
