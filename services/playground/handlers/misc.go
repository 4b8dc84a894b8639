// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
	"github.com/DetachHead/basedpyright-playground/services/playground/session"
	"github.com/DetachHead/basedpyright-playground/services/playground/toolchain"
)

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListVersions handles GET /v1/versions.
//
// Description:
//
//	Returns the stable package versions the registry currently offers,
//	newest first. The list is served from the resolver's cache when
//	fresh, so most calls never touch the network.
func ListVersions(resolver *toolchain.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "ListVersions")
		defer span.End()

		versions, err := resolver.Stable(ctx)
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.VersionsResponse{Versions: versions})
	}
}

// GetStatus handles GET /v1/status.
//
// Description:
//
//	Reports live session count and the installed toolchain inventory.
func GetStatus(sessions *session.Store, artifacts *toolchain.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := playgroundTracer.Start(c.Request.Context(), "GetStatus")
		defer span.End()

		c.JSON(http.StatusOK, datatypes.StatusResponse{
			Status:          "ok",
			ActiveSessions:  sessions.Count(),
			InstalledCounts: artifacts.Stats(),
			Installed:       artifacts.Installed(),
		})
	}
}
