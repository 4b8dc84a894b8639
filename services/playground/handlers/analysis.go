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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
	"github.com/DetachHead/basedpyright-playground/services/playground/middleware"
	"github.com/DetachHead/basedpyright-playground/services/playground/session"
	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

// lookupSession resolves the :id path parameter. On a miss it writes the
// 404 itself and reports false.
func lookupSession(ctx context.Context, c *gin.Context, store *session.Store) (*session.Session, bool) {
	sess, err := store.Get(ctx, c.Param("id"))
	if err != nil {
		respondDomainError(ctx, c, err)
		return nil, false
	}
	return sess, true
}

// checkSourceSize enforces the submitted-code cap. On violation it writes
// the 413 itself and reports false.
func checkSourceSize(c *gin.Context, code string, maxSource int) bool {
	if len(code) <= maxSource {
		return true
	}
	c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{
		Error:     fmt.Sprintf("source exceeds %d bytes", maxSource),
		RequestID: middleware.GetRequestID(c),
	})
	return false
}

// rawOrNull never hands gin a nil RawMessage, which would render as
// nothing instead of null.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// Diagnostics handles POST /v1/sessions/:id/diagnostics.
//
// Description:
//
//	Submits source code and waits for the backend's published
//	diagnostics for exactly this revision. The diagnostic objects pass
//	through verbatim.
func Diagnostics(store *session.Store, maxSource int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "Diagnostics")
		defer span.End()

		var req datatypes.CodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(ctx, c, err, "invalid request body")
			return
		}
		if !checkSourceSize(c, req.Code, maxSource) {
			return
		}
		sess, ok := lookupSession(ctx, c, store)
		if !ok {
			return
		}

		diags, err := sess.Worker().Diagnostics(ctx, req.Code)
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}
		if diags == nil {
			diags = []json.RawMessage{}
		}

		c.JSON(http.StatusOK, datatypes.DiagnosticsResponse{Diagnostics: diags})
	}
}

// positionOp is an analysis operation addressed by cursor position.
type positionOp func(ctx context.Context, h session.Handle, code string, pos worker.Position) (json.RawMessage, error)

// positionHandler implements the shared shape of hover, completion, and
// signature help.
func positionHandler(store *session.Store, maxSource int, name string, op positionOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), name)
		defer span.End()

		var req datatypes.PositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(ctx, c, err, "invalid request body")
			return
		}
		if !checkSourceSize(c, req.Code, maxSource) {
			return
		}
		sess, ok := lookupSession(ctx, c, store)
		if !ok {
			return
		}

		result, err := op(ctx, sess.Worker(), req.Code, worker.Position{
			Line:      req.Line,
			Character: req.Character,
		})
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.ResultResponse{Result: rawOrNull(result)})
	}
}

// Hover handles POST /v1/sessions/:id/hover.
func Hover(store *session.Store, maxSource int) gin.HandlerFunc {
	return positionHandler(store, maxSource, "Hover",
		func(ctx context.Context, h session.Handle, code string, pos worker.Position) (json.RawMessage, error) {
			return h.Hover(ctx, code, pos)
		})
}

// Completion handles POST /v1/sessions/:id/completion.
func Completion(store *session.Store, maxSource int) gin.HandlerFunc {
	return positionHandler(store, maxSource, "Completion",
		func(ctx context.Context, h session.Handle, code string, pos worker.Position) (json.RawMessage, error) {
			return h.Completion(ctx, code, pos)
		})
}

// SignatureHelp handles POST /v1/sessions/:id/signature-help.
func SignatureHelp(store *session.Store, maxSource int) gin.HandlerFunc {
	return positionHandler(store, maxSource, "SignatureHelp",
		func(ctx context.Context, h session.Handle, code string, pos worker.Position) (json.RawMessage, error) {
			return h.SignatureHelp(ctx, code, pos)
		})
}

// ResolveCompletion handles POST /v1/sessions/:id/completion/resolve.
//
// Description:
//
//	Resolves a completion item's lazy fields. The item must be one the
//	completion operation returned for this session; it passes through to
//	the backend untouched.
func ResolveCompletion(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "ResolveCompletion")
		defer span.End()

		var req datatypes.ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(ctx, c, err, "invalid request body")
			return
		}
		sess, ok := lookupSession(ctx, c, store)
		if !ok {
			return
		}

		result, err := sess.Worker().ResolveCompletion(ctx, req.Item)
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.ResultResponse{Result: rawOrNull(result)})
	}
}

// Rename handles POST /v1/sessions/:id/rename.
func Rename(store *session.Store, maxSource int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := playgroundTracer.Start(c.Request.Context(), "Rename")
		defer span.End()

		var req datatypes.RenameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(ctx, c, err, "invalid request body")
			return
		}
		if !checkSourceSize(c, req.Code, maxSource) {
			return
		}
		sess, ok := lookupSession(ctx, c, store)
		if !ok {
			return
		}

		result, err := sess.Worker().Rename(ctx, req.Code, worker.Position{
			Line:      req.Line,
			Character: req.Character,
		}, req.NewName)
		if err != nil {
			respondDomainError(ctx, c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.ResultResponse{Result: rawOrNull(result)})
	}
}
