/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package gateway fronts the pool of AI provider endpoints: health checks,
// per-endpoint circuit breakers, weighted balancing across the healthy set,
// and failover when an endpoint drops out mid-call.
package gateway

import (
	"sync"
	"time"
)

// BreakerState is a circuit breaker's position.
type BreakerState string

const (
	// BreakerClosed passes traffic.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen blocks traffic until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets one probe through to test recovery.
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a consecutive-failure circuit breaker for one endpoint.
// Open trips after FailureThreshold consecutive failures; after Cooldown a
// single probe is allowed, and its outcome decides between closed and open.
type Breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      int
	threshold     int
	cooldown      time.Duration
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

// NewBreaker builds a breaker. threshold <= 0 defaults to 5 and
// cooldown <= 0 to 60s.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed. In half-open only the first
// caller gets through; the rest are rejected until the probe reports.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// Success records a successful request.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probeInFlight = false
	b.state = BreakerClosed
}

// Failure records a failed request, tripping the breaker when the
// consecutive-failure threshold is hit or a half-open probe fails.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state, promoting open to half-open when the
// cooldown has elapsed so status surfaces match Allow's behavior.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}
