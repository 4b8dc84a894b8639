// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the playground HTTP surface onto a gin router.
package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DetachHead/basedpyright-playground/services/playground/handlers"
	"github.com/DetachHead/basedpyright-playground/services/playground/middleware"
	"github.com/DetachHead/basedpyright-playground/services/playground/session"
	"github.com/DetachHead/basedpyright-playground/services/playground/telemetry"
	"github.com/DetachHead/basedpyright-playground/services/playground/toolchain"
)

// Deps carries the collaborators the route handlers close over.
type Deps struct {
	Sessions  *session.Store
	Resolver  *toolchain.Resolver
	Artifacts *toolchain.Store

	// MaxSource caps submitted source size in bytes.
	MaxSource int

	// RequestsPerSecond and Burst shape the per-client rate limit on the
	// /v1 group.
	RequestsPerSecond float64
	Burst             int

	// CreateTimeout bounds session creation end to end, installs included.
	CreateTimeout time.Duration
}

func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.RequestID(), middleware.Metrics())

	router.GET("/health", handlers.HealthCheck)
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	// API version 1 group
	limiter := middleware.NewRateLimiter(d.RequestsPerSecond, d.Burst)
	v1 := router.Group("/v1")
	v1.Use(limiter.Middleware())
	{
		v1.GET("/versions", handlers.ListVersions(d.Resolver))
		v1.GET("/status", handlers.GetStatus(d.Sessions, d.Artifacts))
		// Session lifecycle and analysis routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(d.Sessions, d.CreateTimeout))
			sessions.GET("/:id", handlers.GetSession(d.Sessions))
			sessions.DELETE("/:id", handlers.CloseSession(d.Sessions))
			sessions.POST("/:id/diagnostics", handlers.Diagnostics(d.Sessions, d.MaxSource))
			sessions.POST("/:id/hover", handlers.Hover(d.Sessions, d.MaxSource))
			sessions.POST("/:id/completion", handlers.Completion(d.Sessions, d.MaxSource))
			sessions.POST("/:id/completion/resolve", handlers.ResolveCompletion(d.Sessions))
			sessions.POST("/:id/signature-help", handlers.SignatureHelp(d.Sessions, d.MaxSource))
			sessions.POST("/:id/rename", handlers.Rename(d.Sessions, d.MaxSource))
		}
	}
}
