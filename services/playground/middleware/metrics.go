// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playground_http_requests_total",
		Help: "HTTP requests by method, route, and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playground_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 10, 30},
	}, []string{"method", "route"})

	httpActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playground_http_active_requests",
		Help: "HTTP requests currently in flight",
	})
)

// Metrics records request count, latency, and in-flight gauge.
//
// Description:
//
//	Labels use the route template (e.g. /v1/sessions/:id), not the raw
//	path, so session ids do not explode label cardinality.
//
// Thread Safety: Safe for concurrent use.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		httpActiveRequests.Inc()
		defer httpActiveRequests.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
		).Observe(time.Since(start).Seconds())
	}
}
