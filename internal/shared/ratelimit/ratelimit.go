/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ratelimit provides per-principal request rate limiting for the
// admin API. Each authenticated principal gets a token bucket; buckets for
// idle principals are evicted after an hour.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the limiter.
type Config struct {
	// RequestsPerMinute is the sustained rate per principal.
	RequestsPerMinute int

	// Burst is how many requests may arrive at once.
	Burst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		Burst:             20,
	}
}

// Limiter tracks one token bucket per principal.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a per-principal limiter.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from the principal is permitted, and if
// not, how long the caller should wait before retrying.
func (l *Limiter) Allow(principal string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[principal]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0), l.cfg.Burst),
		}
		l.buckets[principal] = b
	}
	b.lastSeen = time.Now()

	if b.limiter.Allow() {
		return true, 0
	}

	res := b.limiter.Reserve()
	delay := res.Delay()
	res.Cancel()
	if delay <= 0 {
		delay = time.Second
	}
	return false, delay
}

// Prune evicts buckets idle longer than maxIdle and returns the eviction
// count. Called periodically from the server's housekeeping loop.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	evicted := 0
	for principal, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, principal)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked principals.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
