/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for frontdesk.
//
// A call session gets one parent span, with child spans per conversation
// turn, routing resolution, and carrier command. Custom span attributes
// use the `frontdesk.` prefix. Caller numbers never appear in span
// attributes; only fingerprints do.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "frontdesk.io/platform"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("frontdesk"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartCallSpan creates the parent span for a call session.
func StartCallSpan(ctx context.Context, tenantID, callID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "call.session",
		trace.WithAttributes(
			attribute.String("frontdesk.tenant", tenantID),
			attribute.String("frontdesk.call", callID),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartTurnSpan creates a child span for one conversation turn.
func StartTurnSpan(ctx context.Context, callID string, turn int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "call.turn",
		trace.WithAttributes(
			attribute.String("frontdesk.call", callID),
			attribute.Int("frontdesk.turn", turn),
		),
	)
}

// StartRoutingSpan creates a child span for routing resolution.
func StartRoutingSpan(ctx context.Context, tenantID, department string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "call.route",
		trace.WithAttributes(
			attribute.String("frontdesk.tenant", tenantID),
			attribute.String("frontdesk.department", department),
		),
	)
}

// EndRoutingSpan enriches the routing span with the outcome.
func EndRoutingSpan(span trace.Span, decision string, attempts int) {
	span.SetAttributes(
		attribute.String("frontdesk.decision", decision),
		attribute.Int("frontdesk.attempts", attempts),
	)
	span.End()
}

// StartCarrierSpan creates a child span for a carrier command.
func StartCarrierSpan(ctx context.Context, callID, action string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "carrier.command",
		trace.WithAttributes(
			attribute.String("frontdesk.call", callID),
			attribute.String("frontdesk.action", action),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndCallSpan enriches the call span with close data.
func EndCallSpan(span trace.Span, reason string, turns int, chargedSeconds int64) {
	span.SetAttributes(
		attribute.String("frontdesk.close_reason", reason),
		attribute.Int("frontdesk.turns", turns),
		attribute.Int64("frontdesk.charged_seconds", chargedSeconds),
	)
	span.End()
}
