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
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// DOCUMENT MODEL
// =============================================================================

// Each worker analyzes exactly one in-memory document. The untitled scheme
// keeps the backend from trying to read it off disk.
const (
	documentURI        = "untitled:source.py"
	documentLanguageID = "python"
)

// ready reports whether the worker can accept operations.
func (w *Worker) ready() error {
	if state := w.State(); state != WorkerStateReady {
		return fmt.Errorf("%w: state %s", ErrWorkerNotRunning, state)
	}
	return nil
}

// syncDocument pushes the given source text to the worker.
//
// The first call opens the document; later calls replace its full text.
// Every call stamps a fresh monotonically increasing version. Callers must
// hold opMu.
func (w *Worker) syncDocument(code string) error {
	w.docVersion++

	if !w.docOpened {
		params := DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        documentURI,
				LanguageID: documentLanguageID,
				Version:    w.docVersion,
				Text:       code,
			},
		}
		if err := w.protocol.SendNotification("textDocument/didOpen", params); err != nil {
			return err
		}
		w.docOpened = true
		return nil
	}

	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: documentURI},
			Version:                w.docVersion,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: code}},
	}
	return w.protocol.SendNotification("textDocument/didChange", params)
}

// =============================================================================
// DIAGNOSTICS OPERATION
// =============================================================================

// Diagnostics type-checks the given source and returns the reported
// problems.
//
// Description:
//
//	Syncs the source text into the worker's document, then waits for the
//	publishDiagnostics notification carrying the matching document
//	version. Publishes for other versions (stale re-analysis, unsolicited
//	refreshes) are ignored.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	code - Full Python source text
//
// Outputs:
//
//	[]json.RawMessage - One raw diagnostic object per problem, may be empty
//	error - Non-nil on failure
//
// Errors:
//
//	ErrWorkerNotRunning - The worker is not in the ready state
//	ErrRequestTimeout - ctx expired before diagnostics arrived
func (w *Worker) Diagnostics(ctx context.Context, code string) ([]json.RawMessage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "Diagnostics", w.opts.Version)
	defer span.End()
	start := time.Now()

	// Register for the version the sync below will stamp. Registering
	// first closes the window where a fast worker publishes before the
	// waiter exists.
	version := w.docVersion + 1
	ch := w.diag.register(version)
	defer w.diag.unregister(version)

	if err := w.syncDocument(code); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "diagnostics", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	select {
	case p := <-ch:
		setOperationSpanResult(span, len(p.Diagnostics), true)
		recordOperationMetrics(ctx, "diagnostics", w.opts.Version, time.Since(start), len(p.Diagnostics), true)
		return p.Diagnostics, nil
	case <-w.exitCh:
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "diagnostics", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: worker exited before diagnostics arrived", ErrWorkerNotRunning)
	case <-ctx.Done():
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "diagnostics", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: diagnostics: %v", ErrRequestTimeout, ctx.Err())
	}
}

// =============================================================================
// HOVER OPERATION
// =============================================================================

// Hover returns type and documentation info at a position.
//
// Description:
//
//	Syncs the source text, then sends textDocument/hover. The response
//	payload is passed through verbatim; the caller decides how to render
//	it.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	code - Full Python source text
//	pos - Zero-indexed position in the source
//
// Outputs:
//
//	json.RawMessage - Raw hover result, "null" when nothing is known
//	error - Non-nil on failure
func (w *Worker) Hover(ctx context.Context, code string, pos Position) (json.RawMessage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "Hover", w.opts.Version)
	defer span.End()
	start := time.Now()

	if err := w.syncDocument(code); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: documentURI},
		Position:     pos,
	}

	resp, err := w.protocol.SendRequest(ctx, "textDocument/hover", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("hover request: %w", err)
	}

	n := 1
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		n = 0
	}
	setOperationSpanResult(span, n, true)
	recordOperationMetrics(ctx, "hover", w.opts.Version, time.Since(start), n, true)
	return resp.Result, nil
}

// =============================================================================
// COMPLETION OPERATIONS
// =============================================================================

// Completion returns completion candidates at a position.
//
// Description:
//
//	Syncs the source text, then sends textDocument/completion. The raw
//	completion list passes through untouched so label details and
//	sortText survive for the caller.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	code - Full Python source text
//	pos - Zero-indexed position in the source
//
// Outputs:
//
//	json.RawMessage - Raw completion list
//	error - Non-nil on failure
func (w *Worker) Completion(ctx context.Context, code string, pos Position) (json.RawMessage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "Completion", w.opts.Version)
	defer span.End()
	start := time.Now()

	if err := w.syncDocument(code); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "completion", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: documentURI},
		Position:     pos,
	}

	resp, err := w.protocol.SendRequest(ctx, "textDocument/completion", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "completion", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("completion request: %w", err)
	}

	n := 1
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		n = 0
	}
	setOperationSpanResult(span, n, true)
	recordOperationMetrics(ctx, "completion", w.opts.Version, time.Since(start), n, true)
	return resp.Result, nil
}

// ResolveCompletion fills in the lazy fields of a completion item.
//
// Description:
//
//	Sends completionItem/resolve with the item exactly as the worker
//	returned it from Completion. No document sync happens; the item
//	already carries everything the backend needs.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	item - A raw completion item from a prior Completion call
//
// Outputs:
//
//	json.RawMessage - The resolved item
//	error - Non-nil on failure
func (w *Worker) ResolveCompletion(ctx context.Context, item json.RawMessage) (json.RawMessage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(item) == 0 {
		return nil, fmt.Errorf("completion item must not be empty")
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "ResolveCompletion", w.opts.Version)
	defer span.End()
	start := time.Now()

	resp, err := w.protocol.SendRequest(ctx, "completionItem/resolve", item)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "completion_resolve", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("completion resolve request: %w", err)
	}

	setOperationSpanResult(span, 1, true)
	recordOperationMetrics(ctx, "completion_resolve", w.opts.Version, time.Since(start), 1, true)
	return resp.Result, nil
}

// =============================================================================
// SIGNATURE HELP OPERATION
// =============================================================================

// SignatureHelp returns call signature info at a position.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	code - Full Python source text
//	pos - Zero-indexed position in the source
//
// Outputs:
//
//	json.RawMessage - Raw signature help result
//	error - Non-nil on failure
func (w *Worker) SignatureHelp(ctx context.Context, code string, pos Position) (json.RawMessage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "SignatureHelp", w.opts.Version)
	defer span.End()
	start := time.Now()

	if err := w.syncDocument(code); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "signature_help", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: documentURI},
		Position:     pos,
	}

	resp, err := w.protocol.SendRequest(ctx, "textDocument/signatureHelp", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "signature_help", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("signature help request: %w", err)
	}

	n := 1
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		n = 0
	}
	setOperationSpanResult(span, n, true)
	recordOperationMetrics(ctx, "signature_help", w.opts.Version, time.Since(start), n, true)
	return resp.Result, nil
}

// =============================================================================
// RENAME OPERATION
// =============================================================================

// Rename computes the edits for renaming the symbol at a position.
//
// Description:
//
//	Syncs the source text, then sends textDocument/rename. The returned
//	workspace edit is NOT applied; the caller presents it.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	code - Full Python source text
//	pos - Zero-indexed position of the symbol
//	newName - Replacement name, must not be empty
//
// Outputs:
//
//	json.RawMessage - Raw workspace edit, "null" when rename is not
//	possible at the position
//	error - Non-nil on failure
func (w *Worker) Rename(ctx context.Context, code string, pos Position, newName string) (json.RawMessage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if newName == "" {
		return nil, fmt.Errorf("newName must not be empty")
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	ctx, span := startOperationSpan(ctx, "Rename", w.opts.Version)
	defer span.End()
	start := time.Now()

	if err := w.syncDocument(code); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "rename", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	params := RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: documentURI},
			Position:     pos,
		},
		NewName: newName,
	}

	resp, err := w.protocol.SendRequest(ctx, "textDocument/rename", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "rename", w.opts.Version, time.Since(start), 0, false)
		return nil, fmt.Errorf("rename request: %w", err)
	}

	n := 1
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		n = 0
	}
	setOperationSpanResult(span, n, true)
	recordOperationMetrics(ctx, "rename", w.opts.Version, time.Since(start), n, true)
	return resp.Result, nil
}

// =============================================================================
// DIAGNOSTICS ROUTING
// =============================================================================

// diagnosticsRouter matches publishDiagnostics notifications to the
// operation waiting on a specific document version.
type diagnosticsRouter struct {
	mu      sync.Mutex
	waiters map[int]chan PublishDiagnosticsParams
}

// register creates a waiter for the given document version.
func (r *diagnosticsRouter) register(version int) <-chan PublishDiagnosticsParams {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiters == nil {
		r.waiters = make(map[int]chan PublishDiagnosticsParams)
	}
	ch := make(chan PublishDiagnosticsParams, 1)
	r.waiters[version] = ch
	return ch
}

// unregister drops the waiter for the given document version.
func (r *diagnosticsRouter) unregister(version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, version)
}

// dispatch delivers a publish to its version's waiter, if any.
//
// Publishes for versions nobody waits on are dropped; the worker
// re-analyzes on its own schedule and those results are stale by
// definition.
func (r *diagnosticsRouter) dispatch(p PublishDiagnosticsParams) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.waiters[p.Version]
	if !ok {
		return
	}
	select {
	case ch <- p:
	default:
	}
}
