// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolchain

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for toolchain operations.
var (
	tracer = otel.Tracer("playground.toolchain")
	meter  = otel.Meter("playground.toolchain")
)

// Metrics for the artifact store.
var (
	installDuration  metric.Float64Histogram
	installTotal     metric.Int64Counter
	cacheHitTotal    metric.Int64Counter
	cacheMissTotal   metric.Int64Counter
	evictionTotal    metric.Int64Counter
	installedVersion metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		installDuration, err = meter.Float64Histogram(
			"toolchain_install_duration_seconds",
			metric.WithDescription("Duration of toolchain installs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		installTotal, err = meter.Int64Counter(
			"toolchain_install_total",
			metric.WithDescription("Total number of toolchain installs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheHitTotal, err = meter.Int64Counter(
			"toolchain_cache_hit_total",
			metric.WithDescription("Installs satisfied from the on-disk cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMissTotal, err = meter.Int64Counter(
			"toolchain_cache_miss_total",
			metric.WithDescription("Installs that had to run the installer"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evictionTotal, err = meter.Int64Counter(
			"toolchain_eviction_total",
			metric.WithDescription("Versions evicted by the capacity bound"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		installedVersion, err = meter.Int64UpDownCounter(
			"toolchain_installed_versions",
			metric.WithDescription("Number of versions currently installed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startInstallSpan creates a span for an install attempt.
func startInstallSpan(ctx context.Context, version string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store.Install",
		trace.WithAttributes(
			attribute.String("toolchain.version", version),
		),
	)
}

// recordCacheHit records an EnsureInstalled call served from disk.
func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHitTotal.Add(ctx, 1)
}

// recordCacheMiss records an EnsureInstalled call that needs an install.
func recordCacheMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMissTotal.Add(ctx, 1)
}

// recordInstall records an installer invocation and its duration.
func recordInstall(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	installTotal.Add(ctx, 1, attrs)
	installDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordEviction records a capacity eviction.
func recordEviction(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	evictionTotal.Add(ctx, 1)
}

// recordInstalledDelta adjusts the installed-version gauge.
func recordInstalledDelta(ctx context.Context, delta int64) {
	if err := initMetrics(); err != nil {
		return
	}
	installedVersion.Add(ctx, delta)
}
