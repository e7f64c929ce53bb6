/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package routing decides where a call goes: which agent to offer it to, in
// what order, and what to fall back to when nobody picks up. The engine is
// deliberately free of transport concerns; an Offerer does the actual
// ringing.
package routing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/metrics"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// Request asks the engine to place a call with a human.
type Request struct {
	TenantID   string
	CallID     string
	Department string // department id, may be empty
	Skill      string // optional skill requirement
	At         time.Time
}

// DecisionKind is where the call ends up.
type DecisionKind string

const (
	DecideAgent     DecisionKind = "agent"
	DecideVoicemail DecisionKind = "voicemail"
	DecideCallback  DecisionKind = "callback"
)

// AttemptResult is the outcome of one agent offer.
type AttemptResult string

const (
	AttemptAccepted AttemptResult = "accepted"
	AttemptDeclined AttemptResult = "declined"
	AttemptTimeout  AttemptResult = "timeout"
	AttemptError    AttemptResult = "error"
)

// Attempt records one offer to one agent.
type Attempt struct {
	AgentID string        `json:"agent_id"`
	Result  AttemptResult `json:"result"`
	At      time.Time     `json:"at"`
}

// Decision is the engine's answer. When Kind is DecideAgent the agent's
// capacity is already reserved; the session owner must Release it when the
// bridged leg ends.
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	Agent    *directory.Agent
	Attempts []Attempt `json:"attempts"`
}

// Offerer rings one agent and reports whether they accepted. The ctx carries
// the per-offer timeout; implementations return AttemptTimeout semantics by
// honoring ctx cancellation.
type Offerer interface {
	Offer(ctx context.Context, agent directory.Agent, req Request) (bool, error)
}

// OfferFunc adapts a function to Offerer.
type OfferFunc func(ctx context.Context, agent directory.Agent, req Request) (bool, error)

func (f OfferFunc) Offer(ctx context.Context, agent directory.Agent, req Request) (bool, error) {
	return f(ctx, agent, req)
}

// Engine resolves routing requests against the directory and the tenant's
// routing defaults.
type Engine struct {
	dir     *directory.Directory
	tenants *tenant.Registry
	offerer Offerer
	log     *zap.Logger
}

// NewEngine wires a routing engine.
func NewEngine(dir *directory.Directory, tenants *tenant.Registry, offerer Offerer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{dir: dir, tenants: tenants, offerer: offerer, log: log}
}

// Resolve runs the full routing attempt loop. It walks candidates from the
// heaviest weight down, reserving capacity before each offer and releasing it on
// decline or timeout. When attempts are exhausted, or the office is closed,
// the tenant's fallback applies.
func (e *Engine) Resolve(ctx context.Context, req Request) (Decision, error) {
	tn, err := e.tenants.Get(req.TenantID)
	if err != nil {
		return Decision{}, err
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	hours, err := e.tenants.HoursFor(req.TenantID, req.Department)
	if err != nil {
		return Decision{}, err
	}
	if !hours.Open(at) {
		kind := fallbackFor(tn)
		metrics.RecordRoutingDecision(req.TenantID, string(kind))
		return Decision{Kind: kind}, nil
	}

	maxAttempts := tn.Routing.MaxTransferAttempts
	offerTimeout := tn.Routing.AgentReplyTimeout

	var attempts []Attempt
	tried := make(map[string]bool)

	for len(attempts) < maxAttempts {
		agent, ok := e.nextCandidate(req, at, tried)
		if !ok {
			break
		}
		tried[agent.ID] = true

		if err := e.dir.Reserve(req.TenantID, agent.ID, at); err != nil {
			// Lost the race for the last slot; move on.
			continue
		}

		offerCtx, cancel := context.WithTimeout(ctx, offerTimeout)
		accepted, offerErr := e.offerer.Offer(offerCtx, agent, req)
		// Read before cancel: afterwards Err is always context.Canceled and
		// a genuine offer error would be indistinguishable from a timeout.
		timedOut := offerCtx.Err() != nil
		cancel()

		attempt := Attempt{AgentID: agent.ID, At: time.Now().UTC()}
		switch {
		case accepted:
			attempt.Result = AttemptAccepted
			attempts = append(attempts, attempt)
			e.log.Info("call routed to agent",
				zap.String("tenant_id", req.TenantID),
				zap.String("call_id", req.CallID),
				zap.String("agent_id", agent.ID),
				zap.Int("attempts", len(attempts)),
			)
			metrics.RecordRoutingDecision(req.TenantID, string(DecideAgent))
			return Decision{Kind: DecideAgent, Agent: &agent, Attempts: attempts}, nil
		case offerErr != nil && ctx.Err() != nil:
			e.dir.Release(req.TenantID, agent.ID)
			return Decision{}, fault.Wrap(fault.Upstream, ctx.Err(), "routing cancelled for call %s", req.CallID)
		case offerErr != nil && timedOut:
			attempt.Result = AttemptTimeout
		case offerErr != nil:
			attempt.Result = AttemptError
		default:
			attempt.Result = AttemptDeclined
		}
		e.dir.Release(req.TenantID, agent.ID)
		attempts = append(attempts, attempt)
	}

	e.log.Info("routing exhausted",
		zap.String("tenant_id", req.TenantID),
		zap.String("call_id", req.CallID),
		zap.Int("attempts", len(attempts)),
		zap.String("fallback", string(fallbackFor(tn))),
	)
	metrics.RecordRoutingDecision(req.TenantID, string(fallbackFor(tn)))
	return Decision{Kind: fallbackFor(tn), Attempts: attempts}, nil
}

// nextCandidate picks the best untried agent for the request.
func (e *Engine) nextCandidate(req Request, at time.Time, tried map[string]bool) (directory.Agent, bool) {
	for _, a := range e.dir.Candidates(req.TenantID, req.Department, at) {
		if tried[a.ID] {
			continue
		}
		if req.Skill != "" && !a.HasSkill(req.Skill) {
			continue
		}
		return a, true
	}
	return directory.Agent{}, false
}

// fallbackFor applies the tenant default. Outside business hours a callback
// fallback still holds (the caller is offered a slot for the next open
// window); everything else lands in voicemail.
func fallbackFor(tn *tenant.Tenant) DecisionKind {
	if tn.Routing.Fallback == tenant.FallbackCallback {
		return DecideCallback
	}
	return DecideVoicemail
}
