// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("playground.session")
	meter  = otel.Meter("playground.session")

	metricsOnce sync.Once

	createLatency  metric.Float64Histogram
	createTotal    metric.Int64Counter
	closeTotal     metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
)

// initMetrics creates the package instruments once.
func initMetrics() {
	metricsOnce.Do(func() {
		var err error

		createLatency, err = meter.Float64Histogram(
			"session_create_duration_seconds",
			metric.WithDescription("Time to create a session, end to end"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		createTotal, err = meter.Int64Counter(
			"session_creates_total",
			metric.WithDescription("Session creation attempts"),
		)
		if err != nil {
			otel.Handle(err)
		}

		closeTotal, err = meter.Int64Counter(
			"session_closes_total",
			metric.WithDescription("Session closures by reason"),
		)
		if err != nil {
			otel.Handle(err)
		}

		activeSessions, err = meter.Int64UpDownCounter(
			"sessions_active",
			metric.WithDescription("Currently live sessions"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// startSessionSpan begins a span for a registry operation.
func startSessionSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "SessionStore."+operation,
		trace.WithAttributes(
			attribute.String("session.operation", operation),
		),
	)
}

// recordSessionCreate records the outcome of a create attempt.
func recordSessionCreate(ctx context.Context, duration time.Duration, success bool) {
	initMetrics()

	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
	)
	if createLatency != nil {
		createLatency.Record(ctx, duration.Seconds(), attrs)
	}
	if createTotal != nil {
		createTotal.Add(ctx, 1, attrs)
	}
}

// recordSessionClose counts a closure by reason.
func recordSessionClose(ctx context.Context, reason string) {
	initMetrics()

	if closeTotal != nil {
		closeTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", reason),
		))
	}
}

// recordActiveSessions moves the live-session gauge.
func recordActiveSessions(ctx context.Context, delta int64) {
	initMetrics()

	if activeSessions != nil {
		activeSessions.Add(ctx, delta)
	}
}
