// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the playground HTTP API. Each handler is a
// constructor taking its collaborators and returning a gin.HandlerFunc.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
	"github.com/DetachHead/basedpyright-playground/services/playground/session"
	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

var playgroundTracer = otel.Tracer("playground.handlers")

// sessionResponse converts a session into its API shape.
func sessionResponse(sess *session.Session) datatypes.SessionResponse {
	return datatypes.SessionResponse{
		SessionID: sess.ID(),
		Version:   sess.Version(),
		Locale:    sess.Options().Locale,
		CreatedAt: sess.CreatedAt().UnixMilli(),
	}
}

// CreateSession handles POST /v1/sessions.
//
// Description:
//
//	Creates a session running the requested backend version (newest
//	stable when unset) with the requested analysis configuration. The
//	response carries the session id all other operations use. An empty
//	body creates a session with defaults.
func CreateSession(store *session.Store, createTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "CreateSession")
		defer span.End()

		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondBadRequest(ctx, c, err, "invalid request body")
			return
		}

		// Creation may install a toolchain version; bound the whole thing
		// rather than inheriting only the server write timeout.
		ctx, cancel := context.WithTimeout(ctx, createTimeout)
		defer cancel()

		sess, err := store.Create(ctx, session.Options{
			Version: req.Version,
			Locale:  req.Locale,
			Config: worker.ScratchConfig{
				PythonVersion:    req.PythonVersion,
				PythonPlatform:   req.PythonPlatform,
				TypeCheckingMode: req.TypeCheckingMode,
				Overrides:        req.Overrides,
			},
		})
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}

		c.JSON(http.StatusCreated, sessionResponse(sess))
	}
}

// GetSession handles GET /v1/sessions/:id.
//
// Fetching a session also refreshes its idle deadline.
func GetSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "GetSession")
		defer span.End()

		sess, err := store.Get(ctx, c.Param("id"))
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}

		c.JSON(http.StatusOK, sessionResponse(sess))
	}
}

// CloseSession handles DELETE /v1/sessions/:id.
//
// Closing is idempotent; unknown ids succeed too.
func CloseSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "CloseSession")
		defer span.End()

		id := c.Param("id")
		store.Close(ctx, id)

		slog.Info("Session close requested", "session_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "closed", "session_id": id})
	}
}
