/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package callback queues return calls promised to callers the platform
// could not connect, and works the queue down during business hours. Each
// callback carries a priority score so urgent and long-waiting callers float
// to the front, and failed attempts back off on a fixed schedule.
package callback

import (
	"time"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// Status is a callback's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"  // attempts exhausted or number unreachable
	StatusExpired   Status = "expired" // TTL passed before anyone was reached
	StatusCancelled Status = "cancelled"
)

// Priority levels; lower number is more urgent.
const (
	PriorityVIP    = 1
	PriorityUrgent = 2
	PriorityHigh   = 3
	PriorityNormal = 4
	PriorityLow    = 5
)

// retrySchedule is the attempt backoff. The last entry repeats.
var retrySchedule = []time.Duration{15 * time.Minute, time.Hour, 4 * time.Hour}

// defaultMaxAttempts applies when a callback does not set its own cap.
const defaultMaxAttempts = 5

// Outcome classifies one dial attempt.
type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeNoAnswer  Outcome = "no_answer"
	OutcomeBusy      Outcome = "busy"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one dial against a callback, append-only. Connected attempts
// can still leave the callback pending when the caller asked for a follow-up.
type Attempt struct {
	ID         string    `json:"id"`
	CallbackID string    `json:"callback_id"`
	TenantID   string    `json:"tenant_id"`
	Outcome    Outcome   `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

// Callback is one promised return call. CallerFingerprint is the salted
// hash used everywhere a caller must be referenced; Number is kept only to
// place the call and never enters audit payloads.
type Callback struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	Department        string    `json:"department,omitempty"`
	Number            string    `json:"-"`
	CallerFingerprint string    `json:"caller_fingerprint"`
	Reason            string    `json:"reason,omitempty"`
	Priority          int       `json:"priority"`
	Status            Status    `json:"status"`
	Attempts          int       `json:"attempts"`
	MaxAttempts       int       `json:"max_attempts"`
	NextAttempt       time.Time `json:"next_attempt"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResolvedAt        time.Time `json:"resolved_at,omitempty"`
}

// AttemptCap returns the effective attempt limit.
func (c *Callback) AttemptCap() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

// Validate checks required fields before a callback is accepted.
func (c *Callback) Validate() error {
	if c.TenantID == "" {
		return fault.New(fault.Validation, "callback requires a tenant id")
	}
	if c.Number == "" {
		return fault.New(fault.Validation, "callback requires a caller number")
	}
	if c.Priority < PriorityVIP || c.Priority > PriorityLow {
		return fault.New(fault.Validation, "callback priority must be %d..%d", PriorityVIP, PriorityLow)
	}
	if c.MaxAttempts < 0 {
		return fault.New(fault.Validation, "callback max attempts cannot be negative")
	}
	return nil
}

// Score ranks a due callback for dequeue order; higher goes first. Urgency
// dominates, then how many times the caller has already been tried, plus a
// bonus once the callback is past due.
func (c *Callback) Score(now time.Time) int {
	s := 10 * (PriorityLow - c.Priority + 1)
	s += 5 * c.Attempts
	if now.After(c.NextAttempt) {
		s += 20
	}
	return s
}

// Backoff returns the delay before the next attempt after `attempts`
// failures have happened.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return retrySchedule[0]
	}
	if attempts > len(retrySchedule) {
		return retrySchedule[len(retrySchedule)-1]
	}
	return retrySchedule[attempts-1]
}
