/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package directory tracks human agents: who exists, what departments and
// skills they cover, whether they are on shift, and how many concurrent
// conversations they can still absorb. The routing engine reads candidates
// from here and reserves capacity before offering a call.
package directory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// Status is an agent's availability state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusAway      Status = "away"
	StatusOffline   Status = "offline"
)

// Agent is one human receptionist or specialist. Weight ranks agents for
// routing: a weight-3 agent is offered calls before a weight-1 colleague.
type Agent struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Name        string        `json:"name"`
	Extension   string        `json:"extension"`
	Departments []string      `json:"departments"`
	Skills      []string      `json:"skills,omitempty"`
	Status      Status        `json:"status"`
	Capacity    int           `json:"capacity"`
	Load        int           `json:"load"`
	Weight      int           `json:"weight"` // higher is preferred, min 1
	Schedule    *WorkSchedule `json:"schedule,omitempty"`
	LastCallAt  time.Time     `json:"last_call_at,omitempty"`
	StatusSince time.Time     `json:"status_since"`
}

// CanTake reports whether the agent can accept one more conversation now.
func (a *Agent) CanTake(at time.Time) bool {
	if a.Status != StatusAvailable {
		return false
	}
	if a.Load >= a.Capacity {
		return false
	}
	if a.Schedule != nil && !a.Schedule.OnShift(at) {
		return false
	}
	return true
}

// HasDepartment reports department membership.
func (a *Agent) HasDepartment(dept string) bool {
	for _, d := range a.Departments {
		if d == dept {
			return true
		}
	}
	return false
}

// HasSkill reports skill coverage; skill matching is case-insensitive.
func (a *Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if strings.EqualFold(s, skill) {
			return true
		}
	}
	return false
}

// Directory is the in-memory agent registry, tenant-partitioned.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]map[string]*Agent // tenant -> agent id -> agent
	log    *zap.Logger
}

// New creates an empty directory.
func New(log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{
		agents: make(map[string]map[string]*Agent),
		log:    log,
	}
}

// Register validates and stores an agent.
func (d *Directory) Register(a Agent) (*Agent, error) {
	if a.TenantID == "" {
		return nil, fault.New(fault.Validation, "agent requires a tenant id")
	}
	if strings.TrimSpace(a.Name) == "" {
		return nil, fault.New(fault.Validation, "agent name is required")
	}
	if a.Capacity <= 0 {
		a.Capacity = 1
	}
	if a.Weight < 1 {
		a.Weight = 1
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = StatusOffline
	}
	a.Load = 0
	a.StatusSince = time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.agents[a.TenantID]
	if !ok {
		byID = make(map[string]*Agent)
		d.agents[a.TenantID] = byID
	}
	if _, exists := byID[a.ID]; exists {
		return nil, fault.New(fault.Conflict, "agent %s already registered", a.ID)
	}
	byID[a.ID] = &a

	out := a
	return &out, nil
}

// Get returns a copy of an agent.
func (d *Directory) Get(tenantID, agentID string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok {
		return nil, fault.New(fault.NotFound, "agent %s not found for tenant %s", agentID, tenantID)
	}
	out := *a
	return &out, nil
}

// List returns copies of a tenant's agents, ordered by weight then name.
func (d *Directory) List(tenantID string) []Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Agent, 0, len(d.agents[tenantID]))
	for _, a := range d.agents[tenantID] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SetStatus transitions an agent's availability.
func (d *Directory) SetStatus(tenantID, agentID string, status Status) (*Agent, error) {
	switch status {
	case StatusAvailable, StatusBusy, StatusAway, StatusOffline:
	default:
		return nil, fault.New(fault.Validation, "unknown agent status %q", status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok {
		return nil, fault.New(fault.NotFound, "agent %s not found for tenant %s", agentID, tenantID)
	}
	if a.Status != status {
		a.Status = status
		a.StatusSince = time.Now().UTC()
		d.log.Info("agent status changed",
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
			zap.String("status", string(status)),
		)
	}
	out := *a
	return &out, nil
}

// Remove deletes an agent.
func (d *Directory) Remove(tenantID, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[tenantID][agentID]; !ok {
		return fault.New(fault.NotFound, "agent %s not found for tenant %s", agentID, tenantID)
	}
	delete(d.agents[tenantID], agentID)
	return nil
}

// TenantDeleted drops all of a tenant's agents (tenant cascade).
func (d *Directory) TenantDeleted(tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, tenantID)
}

// Candidates returns copies of agents that could take a call for the given
// department right now: on shift, available, and with spare capacity.
// Department may be empty to mean any. Ordered by weight desc, then lowest
// load, then longest idle since their last call.
func (d *Directory) Candidates(tenantID, department string, at time.Time) []Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Agent
	for _, a := range d.agents[tenantID] {
		if department != "" && !a.HasDepartment(department) {
			continue
		}
		if !a.CanTake(at) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if out[i].Load != out[j].Load {
			return out[i].Load < out[j].Load
		}
		if !out[i].LastCallAt.Equal(out[j].LastCallAt) {
			return out[i].LastCallAt.Before(out[j].LastCallAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reserve atomically claims one unit of an agent's capacity. It re-checks
// availability under the write lock so two routers cannot overbook the same
// agent. An agent whose last slot is taken flips to busy in the same move.
func (d *Directory) Reserve(tenantID, agentID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok {
		return fault.New(fault.NotFound, "agent %s not found for tenant %s", agentID, tenantID)
	}
	if !a.CanTake(at) {
		return fault.New(fault.Conflict, "agent %s cannot take a call now", agentID)
	}
	a.Load++
	a.LastCallAt = at
	if a.Load >= a.Capacity {
		a.Status = StatusBusy
		a.StatusSince = at
	}
	return nil
}

// Release frees one unit of capacity, restoring availability when the
// reservation was what made the agent busy.
func (d *Directory) Release(tenantID, agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok || a.Load == 0 {
		return
	}
	a.Load--
	if a.Status == StatusBusy && a.Load < a.Capacity {
		a.Status = StatusAvailable
		a.StatusSince = time.Now().UTC()
	}
}
