// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for worker operations.
var (
	tracer = otel.Tracer("playground.worker")
	meter  = otel.Meter("playground.worker")
)

// Metrics for worker operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	workerSpawns     metric.Int64Counter
	workerCrashes    metric.Int64Counter
	resultCount      metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"worker_operation_duration_seconds",
			metric.WithDescription("Duration of language analysis operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"worker_operation_total",
			metric.WithDescription("Total number of language analysis operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		workerSpawns, err = meter.Int64Counter(
			"worker_spawns_total",
			metric.WithDescription("Total number of worker process spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		workerCrashes, err = meter.Int64Counter(
			"worker_crashes_total",
			metric.WithDescription("Total number of unexpected worker exits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"worker_result_count",
			metric.WithDescription("Number of results returned by analysis operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for an analysis operation.
func startOperationSpan(ctx context.Context, operation, version string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Worker."+operation,
		trace.WithAttributes(
			attribute.String("worker.operation", operation),
			attribute.String("worker.version", version),
		),
	)
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, resultCnt int, success bool) {
	span.SetAttributes(
		attribute.Int("worker.result_count", resultCnt),
		attribute.Bool("worker.success", success),
	)
}

// recordOperationMetrics records metrics for an analysis operation.
func recordOperationMetrics(ctx context.Context, operation, version string, duration time.Duration, resultCnt int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("version", version),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)

	if success {
		resultCount.Record(ctx, int64(resultCnt), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// recordWorkerSpawn records a worker spawn event.
func recordWorkerSpawn(ctx context.Context, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	workerSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// recordWorkerCrash records an unexpected worker exit.
func recordWorkerCrash(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	workerCrashes.Add(ctx, 1)
}
