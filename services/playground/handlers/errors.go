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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
	"github.com/DetachHead/basedpyright-playground/services/playground/middleware"
	"github.com/DetachHead/basedpyright-playground/services/playground/session"
	"github.com/DetachHead/basedpyright-playground/services/playground/toolchain"
	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

// statusFromError maps domain sentinels onto HTTP status codes.
//
// Resolution and install failures read as gateway errors because the npm
// registry sits behind them; a nonexistent requested version surfaces the
// same way and is indistinguishable without parsing installer output.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrStoreClosed),
		errors.Is(err, toolchain.ErrStoreClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, toolchain.ErrNoStableVersion),
		errors.Is(err, toolchain.ErrInvalidVersion):
		return http.StatusBadRequest
	case errors.Is(err, toolchain.ErrResolveFailed),
		errors.Is(err, toolchain.ErrInstallFailed):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, worker.ErrWorkerNotRunning),
		errors.Is(err, worker.ErrWorkerCrashed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes the uniform error envelope for a failed
// operation and records it on the active span.
func respondDomainError(ctx context.Context, c *gin.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := statusFromError(err)
	slog.Error("Request failed",
		"status", status,
		"error", err,
		"path", c.FullPath(),
		"request_id", middleware.GetRequestID(c))

	c.JSON(status, datatypes.ErrorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetRequestID(c),
	})
}

// respondBadRequest writes a 400 with a fixed public message, keeping
// binding internals out of responses.
func respondBadRequest(ctx context.Context, c *gin.Context, err error, public string) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, public)

	slog.Warn("Rejected request",
		"reason", public,
		"error", err,
		"path", c.FullPath(),
		"request_id", middleware.GetRequestID(c))

	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
		Error:     public,
		RequestID: middleware.GetRequestID(c),
	})
}
