// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"

	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

// Options describes one session to create.
type Options struct {
	// Version is the requested toolchain version, verbatim. Empty selects
	// the newest stable release.
	Version string

	// Locale localizes diagnostics, e.g. "fr". Optional.
	Locale string

	// Config holds the analysis settings rendered into the session's
	// configuration file.
	Config worker.ScratchConfig
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Resolver turns a requested version into a concrete one.
type Resolver interface {
	// Resolve returns requested verbatim when non-empty, otherwise the
	// newest stable release.
	Resolve(ctx context.Context, requested string) (string, error)
}

// Artifacts provides installed toolchain versions.
type Artifacts interface {
	// EnsureInstalled returns the install directory for version and a
	// release func that unpins it. The pin holds until released.
	EnsureInstalled(ctx context.Context, version string) (string, func(), error)
}

// Handle is the per-session worker the registry manages.
//
// *worker.Worker satisfies it; tests substitute fakes.
type Handle interface {
	// CancelPending aborts in-flight requests.
	CancelPending()

	// Terminate shuts the worker process down. Best effort.
	Terminate(ctx context.Context) error

	// ScratchDir returns the session-private project root.
	ScratchDir() string

	// Version returns the toolchain version backing the worker.
	Version() string

	// SetOnExit registers the callback fired when the worker ends.
	SetOnExit(fn func(error))

	// Document operations. Payloads pass through verbatim.
	Diagnostics(ctx context.Context, code string) ([]json.RawMessage, error)
	Hover(ctx context.Context, code string, pos worker.Position) (json.RawMessage, error)
	Completion(ctx context.Context, code string, pos worker.Position) (json.RawMessage, error)
	ResolveCompletion(ctx context.Context, item json.RawMessage) (json.RawMessage, error)
	SignatureHelp(ctx context.Context, code string, pos worker.Position) (json.RawMessage, error)
	Rename(ctx context.Context, code string, pos worker.Position, newName string) (json.RawMessage, error)
}

// Launcher produces ready workers.
type Launcher interface {
	// Launch creates the scratch directory, spawns the worker, and
	// completes the handshake. On error nothing is left behind.
	Launch(ctx context.Context, ls worker.LaunchSpec) (Handle, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, ls worker.LaunchSpec) (Handle, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, ls worker.LaunchSpec) (Handle, error) {
	return f(ctx, ls)
}
