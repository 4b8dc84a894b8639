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
	"errors"
	"fmt"
)

// Sentinel errors for worker lifecycle and protocol operations.
var (
	// ErrNilContext indicates a nil context was passed to a public method.
	ErrNilContext = errors.New("ctx must not be nil")

	// ErrWorkerNotRunning indicates the worker is not in a ready state.
	ErrWorkerNotRunning = errors.New("worker not running")

	// ErrRuntimeNotFound indicates the node executable was not found.
	ErrRuntimeNotFound = errors.New("node runtime not found")

	// ErrEntryPointNotFound indicates the language-server entry point is
	// missing from the installed version directory.
	ErrEntryPointNotFound = errors.New("language server entry point not found")

	// ErrSpawnFailed indicates the worker process could not start.
	ErrSpawnFailed = errors.New("worker spawn failed")

	// ErrHandshakeFailed indicates the initialize exchange did not complete.
	ErrHandshakeFailed = errors.New("worker handshake failed")

	// ErrRequestTimeout indicates a protocol request exceeded its deadline.
	ErrRequestTimeout = errors.New("worker request timeout")

	// ErrWorkerCrashed indicates the worker process terminated unexpectedly.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrInvalidResponse indicates a worker response could not be parsed.
	ErrInvalidResponse = errors.New("invalid worker response")

	// ErrWorkerAlreadyStarted indicates Start was called twice.
	ErrWorkerAlreadyStarted = errors.New("worker already started")
)

// LSPError represents an error returned by the language server via JSON-RPC.
//
// LSP error codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32600: Invalid request
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32099 to -32000: Server error (reserved)
//   - -32802: Server not initialized
//   - -32801: Unknown error code
//   - -32800: Request cancelled
type LSPError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *LSPError) IsRequestCancelled() bool {
	return e.Code == -32800
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *LSPError) IsServerNotInitialized() bool {
	return e.Code == -32802
}

// IsConnectionClosed returns true if the request died with the connection.
func (e *LSPError) IsConnectionClosed() bool {
	return e.Code == codeConnectionClosed
}
