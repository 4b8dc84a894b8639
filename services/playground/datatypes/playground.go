// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the playground API's request and response
// shapes. Analysis payloads coming back from the language server pass
// through as raw JSON; only the envelopes are typed here.
package datatypes

import (
	"encoding/json"

	"github.com/DetachHead/basedpyright-playground/services/playground/toolchain"
)

// =============================================================================
// Session Requests
// =============================================================================

// CreateSessionRequest asks for a new type-checking session.
type CreateSessionRequest struct {
	// Version pins the backend version. Empty selects the newest stable
	// release.
	Version string `json:"version" binding:"omitempty,max=64"`

	// Locale localizes diagnostic messages, e.g. "fr" or "pt-br".
	Locale string `json:"locale" binding:"omitempty,max=16"`

	// PythonVersion targets a language version, e.g. "3.12".
	PythonVersion string `json:"python_version" binding:"omitempty,max=16"`

	// PythonPlatform targets a platform, e.g. "Linux".
	PythonPlatform string `json:"python_platform" binding:"omitempty,max=32"`

	// TypeCheckingMode selects backend strictness.
	TypeCheckingMode string `json:"type_checking_mode" binding:"omitempty,oneof=off basic standard strict recommended all"`

	// Overrides switches individual diagnostic rules on or off. Merged
	// into the session configuration last, so they win.
	Overrides map[string]bool `json:"overrides" binding:"omitempty,max=128"`
}

// SessionResponse describes one live session.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
	Locale    string `json:"locale,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// =============================================================================
// Analysis Requests
// =============================================================================

// CodeRequest carries source code for whole-document operations.
type CodeRequest struct {
	// Code is the Python source to analyze.
	Code string `json:"code" binding:"required"`
}

// PositionRequest carries source code plus a cursor position.
type PositionRequest struct {
	Code string `json:"code" binding:"required"`

	// Line and Character are zero-based, matching editor conventions.
	Line      int `json:"line" binding:"gte=0"`
	Character int `json:"character" binding:"gte=0"`
}

// RenameRequest carries source code, a cursor position, and the new name.
type RenameRequest struct {
	Code      string `json:"code" binding:"required"`
	Line      int    `json:"line" binding:"gte=0"`
	Character int    `json:"character" binding:"gte=0"`
	NewName   string `json:"new_name" binding:"required,max=256"`
}

// ResolveRequest carries a completion item back for lazy resolution.
type ResolveRequest struct {
	// Item is the completion item exactly as the completion response
	// delivered it.
	Item json.RawMessage `json:"item" binding:"required"`
}

// =============================================================================
// Analysis Responses
// =============================================================================

// DiagnosticsResponse carries the diagnostics published for a document.
type DiagnosticsResponse struct {
	// Diagnostics are the backend's diagnostic objects, verbatim.
	Diagnostics []json.RawMessage `json:"diagnostics"`
}

// ResultResponse wraps a single passthrough analysis result.
type ResultResponse struct {
	// Result is the backend's response payload, verbatim. JSON null when
	// the backend had nothing to offer.
	Result json.RawMessage `json:"result"`
}

// =============================================================================
// Service Metadata
// =============================================================================

// VersionsResponse lists backend versions clients may request.
type VersionsResponse struct {
	// Versions are stable releases, newest first.
	Versions []string `json:"versions"`
}

// StatusResponse reports service health details.
type StatusResponse struct {
	Status          string                       `json:"status"`
	ActiveSessions  int                          `json:"active_sessions"`
	InstalledCounts toolchain.StoreStats         `json:"toolchain"`
	Installed       []toolchain.InstalledVersion `json:"installed_versions"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
