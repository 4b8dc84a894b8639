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

import "encoding/json"

// =============================================================================
// POSITIONS AND DOCUMENTS
// =============================================================================

// Position represents a zero-based line/character position in a document.
type Position struct {
	// Line is the zero-based line number.
	Line int `json:"line"`

	// Character is the zero-based character offset within the line.
	Character int `json:"character"`
}

// Range represents a span between two positions.
type Range struct {
	// Start is the inclusive start position.
	Start Position `json:"start"`

	// End is the exclusive end position.
	End Position `json:"end"`
}

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	// URI is the document's URI.
	URI string `json:"uri"`
}

// TextDocumentItem represents a text document with its content.
type TextDocumentItem struct {
	// URI is the document's URI.
	URI string `json:"uri"`

	// LanguageID is the language identifier, always "python" here.
	LanguageID string `json:"languageId"`

	// Version is the version number of this document.
	Version int `json:"version"`

	// Text is the content of the document.
	Text string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a specific version of a document.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier

	// Version is the version number of the document after the change.
	Version int `json:"version"`
}

// TextDocumentPositionParams identifies a position in a text document.
type TextDocumentPositionParams struct {
	// TextDocument is the document identifier.
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Position is the position within the document.
	Position Position `json:"position"`
}

// =============================================================================
// DOCUMENT SYNC PARAMS
// =============================================================================

// DidOpenTextDocumentParams contains params for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	// TextDocument is the document that was opened.
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams contains params for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	// TextDocument is the document that changed.
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`

	// ContentChanges is the list of changes. The playground always sends
	// one full-document replacement.
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent describes a content change event.
type TextDocumentContentChangeEvent struct {
	// Range is the range that got replaced. Omitted for full document sync.
	Range *Range `json:"range,omitempty"`

	// Text is the new text for the range or full document.
	Text string `json:"text"`
}

// RenameParams contains rename request parameters.
type RenameParams struct {
	TextDocumentPositionParams

	// NewName is the new name to rename the symbol to.
	NewName string `json:"newName"`
}

// PublishDiagnosticsParams carries a textDocument/publishDiagnostics
// notification from the worker.
type PublishDiagnosticsParams struct {
	// URI is the document the diagnostics belong to.
	URI string `json:"uri"`

	// Version is the document version the diagnostics were computed for.
	Version int `json:"version"`

	// Diagnostics is the diagnostic list, passed through verbatim.
	Diagnostics []json.RawMessage `json:"diagnostics"`
}

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// InitializeParams contains initialization parameters.
type InitializeParams struct {
	// ProcessID is the process ID of the parent process.
	ProcessID int `json:"processId"`

	// RootURI is the root URI of the workspace.
	RootURI string `json:"rootUri"`

	// RootPath is the root path of the workspace (deprecated alias).
	RootPath string `json:"rootPath,omitempty"`

	// Capabilities describes what the client supports.
	Capabilities ClientCapabilities `json:"capabilities"`

	// InitializationOptions carries the virtual file map.
	InitializationOptions *InitializationOptions `json:"initializationOptions,omitempty"`

	// Locale is the client locale, e.g. "fr". Newer backends localize
	// diagnostics from it; older ones only honor the environment.
	Locale string `json:"locale,omitempty"`
}

// InitializationOptions is the custom payload basedpyright understands.
type InitializationOptions struct {
	// Files maps virtual file paths to their in-memory contents. The
	// synthesized pyrightconfig.json travels here as well as on disk.
	Files map[string]string `json:"files,omitempty"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	// TextDocument describes text document capabilities.
	TextDocument TextDocumentClientCapabilities `json:"textDocument,omitempty"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	// Synchronization describes document sync capabilities.
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`

	// PublishDiagnostics describes diagnostics delivery capabilities.
	PublishDiagnostics *PublishDiagnosticsClientCapabilities `json:"publishDiagnostics,omitempty"`

	// Hover describes hover support.
	Hover *HoverCapabilities `json:"hover,omitempty"`

	// Completion describes completion support.
	Completion *CompletionCapabilities `json:"completion,omitempty"`

	// SignatureHelp describes signature help support.
	SignatureHelp *SignatureHelpCapabilities `json:"signatureHelp,omitempty"`

	// Rename describes rename support.
	Rename *RenameCapabilities `json:"rename,omitempty"`
}

// TextDocumentSyncClientCapabilities describes sync capabilities.
type TextDocumentSyncClientCapabilities struct {
	// DynamicRegistration indicates dynamic registration is supported.
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// PublishDiagnosticsClientCapabilities describes diagnostics capabilities.
type PublishDiagnosticsClientCapabilities struct {
	// VersionSupport indicates the client correlates diagnostics with
	// document versions.
	VersionSupport bool `json:"versionSupport,omitempty"`

	// TagSupport describes supported diagnostic tags.
	TagSupport *DiagnosticTagSupport `json:"tagSupport,omitempty"`
}

// DiagnosticTagSupport lists supported diagnostic tags.
type DiagnosticTagSupport struct {
	// ValueSet is the set of supported tag values.
	ValueSet []int `json:"valueSet"`
}

// HoverCapabilities describes hover support.
type HoverCapabilities struct {
	// ContentFormat describes supported content formats.
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// CompletionCapabilities describes completion support.
type CompletionCapabilities struct {
	// CompletionItem describes completion item capabilities.
	CompletionItem *CompletionItemCapabilities `json:"completionItem,omitempty"`
}

// CompletionItemCapabilities describes completion item capabilities.
type CompletionItemCapabilities struct {
	// SnippetSupport indicates snippet insert text is supported.
	SnippetSupport bool `json:"snippetSupport,omitempty"`

	// DocumentationFormat describes supported documentation formats.
	DocumentationFormat []string `json:"documentationFormat,omitempty"`

	// ResolveSupport lists properties resolvable via completionItem/resolve.
	ResolveSupport *CompletionResolveSupport `json:"resolveSupport,omitempty"`
}

// CompletionResolveSupport lists lazily resolved completion properties.
type CompletionResolveSupport struct {
	// Properties is the property name list.
	Properties []string `json:"properties"`
}

// SignatureHelpCapabilities describes signature help support.
type SignatureHelpCapabilities struct {
	// SignatureInformation describes signature rendering capabilities.
	SignatureInformation *SignatureInformationCapabilities `json:"signatureInformation,omitempty"`
}

// SignatureInformationCapabilities describes signature rendering support.
type SignatureInformationCapabilities struct {
	// DocumentationFormat describes supported documentation formats.
	DocumentationFormat []string `json:"documentationFormat,omitempty"`
}

// RenameCapabilities describes rename support.
type RenameCapabilities struct {
	// PrepareSupport indicates textDocument/prepareRename is supported.
	PrepareSupport bool `json:"prepareSupport,omitempty"`
}

// InitializeResult is the server's initialize response. The playground
// only needs to know the handshake succeeded, so capabilities stay raw.
type InitializeResult struct {
	// Capabilities is the server capability object, unparsed.
	Capabilities json.RawMessage `json:"capabilities"`
}

// =============================================================================
// WORKER STATE
// =============================================================================

// WorkerState tracks the worker process lifecycle.
type WorkerState int

const (
	// WorkerStateUninitialized is the initial state before Start is called.
	WorkerStateUninitialized WorkerState = iota

	// WorkerStateStarting means the worker process is starting.
	WorkerStateStarting

	// WorkerStateReady means the worker is initialized and ready for requests.
	WorkerStateReady

	// WorkerStateStopping means the worker is shutting down.
	WorkerStateStopping

	// WorkerStateStopped means the worker has terminated.
	WorkerStateStopped
)

// String returns a human-readable state name.
func (s WorkerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}
