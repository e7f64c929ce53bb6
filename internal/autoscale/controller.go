/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package autoscale sizes the media-worker pool to the live call load.
// The controller samples concurrent sessions, compares utilization against
// scale thresholds, and adjusts replicas through an Executor. Up and down
// moves carry independent cooldowns so a burst cannot thrash the pool.
package autoscale

import (
	"context"
	"math"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/frontdesk/internal/events"
	"github.com/marcus-qen/frontdesk/internal/metrics"
)

// Executor applies replica changes to the actual worker pool.
type Executor interface {
	CurrentReplicas(ctx context.Context) (int32, error)
	Scale(ctx context.Context, replicas int32) error
}

// LoadFunc samples the current number of live call sessions.
type LoadFunc func() int

// Config tunes the controller.
type Config struct {
	// CallsPerReplica is one worker's nominal concurrent-call capacity.
	CallsPerReplica int
	// ScaleUpAt and ScaleDownAt are utilization bounds. Above the first,
	// grow; below the second, shrink.
	ScaleUpAt   float64
	ScaleDownAt float64
	// UpCooldown and DownCooldown gate their own directions independently:
	// a recent scale-up never delays a scale-down and vice versa.
	UpCooldown   time.Duration
	DownCooldown time.Duration

	MinReplicas int32
	MaxReplicas int32

	Interval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallsPerReplica: 25,
		ScaleUpAt:       0.80,
		ScaleDownAt:     0.30,
		UpCooldown:      2 * time.Minute,
		DownCooldown:    10 * time.Minute,
		MinReplicas:     1,
		MaxReplicas:     20,
		Interval:        15 * time.Second,
	}
}

// stress factors. Sustained pressure tightens the effective capacity the
// controller plans against, so the pool grows ahead of the queue instead of
// chasing it.
const (
	stressNone     = 1.0
	stressElevated = 0.9
	stressHigh     = 0.8
)

// consecutive hot samples needed to escalate the stress level.
const stressEscalateAfter = 3

// Controller is the autoscaling control loop.
type Controller struct {
	cfg      Config
	load     LoadFunc
	executor Executor
	bus      *events.Bus
	log      logr.Logger

	lastUp    time.Time
	lastDown  time.Time
	hotStreak int
	stress    float64
	now       func() time.Time
}

// New creates an autoscaling controller.
func New(cfg Config, load LoadFunc, executor Executor, bus *events.Bus, log logr.Logger) *Controller {
	defaults := DefaultConfig()
	if cfg.CallsPerReplica <= 0 {
		cfg.CallsPerReplica = defaults.CallsPerReplica
	}
	if cfg.ScaleUpAt <= 0 || cfg.ScaleUpAt > 1 {
		cfg.ScaleUpAt = defaults.ScaleUpAt
	}
	if cfg.ScaleDownAt <= 0 || cfg.ScaleDownAt >= cfg.ScaleUpAt {
		cfg.ScaleDownAt = defaults.ScaleDownAt
	}
	if cfg.UpCooldown <= 0 {
		cfg.UpCooldown = defaults.UpCooldown
	}
	if cfg.DownCooldown <= 0 {
		cfg.DownCooldown = defaults.DownCooldown
	}
	if cfg.MinReplicas <= 0 {
		cfg.MinReplicas = defaults.MinReplicas
	}
	if cfg.MaxReplicas < cfg.MinReplicas {
		cfg.MaxReplicas = defaults.MaxReplicas
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}

	return &Controller{
		cfg:      cfg,
		load:     load,
		executor: executor,
		bus:      bus,
		log:      log.WithName("autoscaler"),
		stress:   stressNone,
		now:      time.Now,
	}
}

// Start runs the control loop until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.log.Info("Autoscaler starting",
		"calls_per_replica", c.cfg.CallsPerReplica,
		"scale_up_at", c.cfg.ScaleUpAt,
		"scale_down_at", c.cfg.ScaleDownAt,
	)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Autoscaler stopping")
			return nil
		case <-ticker.C:
			if err := c.Reconcile(ctx); err != nil {
				c.log.Error(err, "Reconcile failed")
			}
		}
	}
}

// ForceEvaluation runs a control cycle immediately instead of waiting for
// the next tick. Cooldowns still apply; forcing skips the sampling period,
// not the thrash protection.
func (c *Controller) ForceEvaluation(ctx context.Context) error {
	return c.Reconcile(ctx)
}

// Reconcile runs one control cycle: sample, decide, act.
func (c *Controller) Reconcile(ctx context.Context) error {
	replicas, err := c.executor.CurrentReplicas(ctx)
	if err != nil {
		return err
	}
	if replicas < 1 {
		replicas = 1
	}

	active := c.load()
	capacity := float64(replicas) * float64(c.cfg.CallsPerReplica)
	utilization := float64(active) / capacity

	c.updateStress(utilization)

	desired := c.desiredReplicas(active, replicas, utilization)
	if desired == replicas {
		return nil
	}

	now := c.now()
	if desired > replicas {
		if now.Sub(c.lastUp) < c.cfg.UpCooldown {
			c.log.V(1).Info("Scale-up suppressed by cooldown",
				"desired", desired, "current", replicas)
			return nil
		}
		c.lastUp = now
	} else {
		if now.Sub(c.lastDown) < c.cfg.DownCooldown {
			c.log.V(1).Info("Scale-down suppressed by cooldown",
				"desired", desired, "current", replicas)
			return nil
		}
		c.lastDown = now
	}

	if err := c.executor.Scale(ctx, desired); err != nil {
		return err
	}

	direction := "up"
	if desired < replicas {
		direction = "down"
	}
	metrics.RecordScaleAction(direction)

	c.log.Info("Scaled worker pool",
		"from", replicas,
		"to", desired,
		"active_calls", active,
		"utilization", utilization,
		"stress", c.stress,
	)
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:    events.ScaleAction,
			Summary: "worker pool resized",
			Detail: map[string]any{
				"from": replicas, "to": desired,
				"active_calls": active, "utilization": utilization,
			},
		})
	}
	return nil
}

// desiredReplicas plans against stress-adjusted capacity. Inside the
// comfort band the answer is always the current size; below it the pool
// shrinks one step at a time.
func (c *Controller) desiredReplicas(active int, current int32, utilization float64) int32 {
	var desired int32
	switch {
	case utilization > c.cfg.ScaleUpAt:
		effective := float64(c.cfg.CallsPerReplica) * c.cfg.ScaleUpAt * c.stress
		desired = int32(math.Ceil(float64(active) / effective))
		if desired <= current {
			desired = current + 1
		}
	case utilization < c.cfg.ScaleDownAt:
		desired = current - 1
	default:
		return current
	}

	if desired < c.cfg.MinReplicas {
		desired = c.cfg.MinReplicas
	}
	if desired > c.cfg.MaxReplicas {
		desired = c.cfg.MaxReplicas
	}
	return desired
}

// updateStress escalates after sustained hot samples and releases on the
// first comfortable one.
func (c *Controller) updateStress(utilization float64) {
	if utilization > c.cfg.ScaleUpAt {
		c.hotStreak++
	} else {
		c.hotStreak = 0
		c.stress = stressNone
		return
	}
	switch {
	case c.hotStreak >= 2*stressEscalateAfter:
		c.stress = stressHigh
	case c.hotStreak >= stressEscalateAfter:
		c.stress = stressElevated
	}
}
