/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the frontdesk platform.
//
// All metrics are registered with the default registry and served on the
// /metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - frontdesk_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CallsTotal counts finished call sessions by tenant and close reason.
	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_calls_total",
			Help: "Total number of call sessions by tenant and close reason.",
		},
		[]string{"tenant", "reason"},
	)

	// CallDurationSeconds is a histogram of call duration by tenant.
	CallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontdesk_call_duration_seconds",
			Help:    "Duration of call sessions in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"tenant"},
	)

	// ActiveCalls is the number of currently open call sessions.
	ActiveCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontdesk_active_calls",
			Help: "Number of call sessions currently open.",
		},
	)

	// RoutingDecisionsTotal counts routing outcomes by tenant and decision.
	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_routing_decisions_total",
			Help: "Total routing decisions by tenant and decision kind.",
		},
		[]string{"tenant", "decision"},
	)

	// CallbacksTotal counts callback lifecycle transitions by tenant and status.
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_callbacks_total",
			Help: "Total callback state transitions by tenant and status.",
		},
		[]string{"tenant", "status"},
	)

	// CreditSecondsTotal counts charged call seconds by tenant.
	CreditSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_credit_seconds_total",
			Help: "Total call seconds charged against tenant credit.",
		},
		[]string{"tenant"},
	)

	// ProviderFailoversTotal counts AI endpoint failovers by endpoint.
	ProviderFailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_provider_failovers_total",
			Help: "Total AI provider endpoint failovers.",
		},
		[]string{"endpoint"},
	)

	// ProviderEndpointHealthy reports per-endpoint health (1 healthy, 0 not).
	ProviderEndpointHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frontdesk_provider_endpoint_healthy",
			Help: "AI provider endpoint health, 1 when usable.",
		},
		[]string{"endpoint"},
	)

	// ScaleActionsTotal counts autoscaler actions by direction.
	ScaleActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_scale_actions_total",
			Help: "Total autoscaler actions by direction (up or down).",
		},
		[]string{"direction"},
	)

	// WebhookRejectsTotal counts carrier webhooks rejected at the edge.
	WebhookRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_webhook_rejects_total",
			Help: "Total carrier webhooks rejected, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		CallsTotal,
		CallDurationSeconds,
		ActiveCalls,
		RoutingDecisionsTotal,
		CallbacksTotal,
		CreditSecondsTotal,
		ProviderFailoversTotal,
		ProviderEndpointHealthy,
		ScaleActionsTotal,
		WebhookRejectsTotal,
	)
}

// RecordCallComplete records metrics for a finished call session.
func RecordCallComplete(tenant, reason string, duration time.Duration, chargedSeconds int64) {
	CallsTotal.WithLabelValues(tenant, reason).Inc()
	CallDurationSeconds.WithLabelValues(tenant).Observe(duration.Seconds())
	CreditSecondsTotal.WithLabelValues(tenant).Add(float64(chargedSeconds))
}

// RecordRoutingDecision records one routing outcome.
func RecordRoutingDecision(tenant, decision string) {
	RoutingDecisionsTotal.WithLabelValues(tenant, decision).Inc()
}

// RecordCallback records one callback lifecycle transition.
func RecordCallback(tenant, status string) {
	CallbacksTotal.WithLabelValues(tenant, status).Inc()
}

// RecordFailover records an AI endpoint failover.
func RecordFailover(endpoint string) {
	ProviderFailoversTotal.WithLabelValues(endpoint).Inc()
}

// RecordEndpointHealth records the current health of an AI endpoint.
func RecordEndpointHealth(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ProviderEndpointHealthy.WithLabelValues(endpoint).Set(v)
}

// RecordScaleAction records one autoscaler action.
func RecordScaleAction(direction string) {
	ScaleActionsTotal.WithLabelValues(direction).Inc()
}
