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
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// LAUNCHER
// =============================================================================

// LaunchSpec describes one worker to launch.
type LaunchSpec struct {
	// InstallDir is the installed toolchain version directory.
	InstallDir string

	// Version is the toolchain version, for logs and metrics.
	Version string

	// Config is rendered into the scratch directory's configuration file.
	Config ScratchConfig

	// Locale is passed to the worker environment and handshake. Optional.
	Locale string
}

// Launcher builds ready workers from launch specs.
//
// Description:
//
//	Owns the scratch directory and process setup sequence: create the
//	scratch directory, render the configuration file into it, spawn the
//	process rooted there, and run the initialize handshake. A worker is
//	only handed out once all of that succeeded; on any failure the
//	scratch directory is removed and no process is left behind.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Launcher struct {
	// ScratchRoot is the parent directory for scratch directories.
	// Empty means the system temp directory.
	ScratchRoot string

	// NodeBin overrides the node executable. Defaults to "node".
	NodeBin string

	// HandshakeTimeout bounds each worker's initialize exchange.
	// Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Launch creates a scratch directory, spawns a worker there, and completes
// the handshake.
//
// Inputs:
//
//	ctx - Context for cancellation; bounds the handshake, not the
//	worker's lifetime
//	ls - What to launch
//
// Outputs:
//
//	*Worker - A ready worker whose ScratchDir() the caller owns
//	error - Non-nil on failure; nothing is left on disk or running
//
// Errors:
//
//	ErrRuntimeNotFound, ErrEntryPointNotFound, ErrSpawnFailed,
//	ErrHandshakeFailed - from the corresponding launch stage.
func (l *Launcher) Launch(ctx context.Context, ls LaunchSpec) (*Worker, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	scratchDir, configContents, err := CreateScratch(l.ScratchRoot, ls.Config)
	if err != nil {
		return nil, fmt.Errorf("create scratch: %w", err)
	}

	w := New(Options{
		InstallDir:       ls.InstallDir,
		Version:          ls.Version,
		ScratchDir:       scratchDir,
		ConfigContents:   configContents,
		NodeBin:          l.NodeBin,
		Locale:           ls.Locale,
		HandshakeTimeout: l.HandshakeTimeout,
		Logger:           l.Logger,
	})

	if err := w.Start(ctx); err != nil {
		// Start tears the process down itself on handshake failure;
		// only the scratch directory is left to reclaim.
		if rmErr := RemoveScratch(scratchDir); rmErr != nil {
			l.logger().Warn("Failed to remove scratch dir after launch failure",
				slog.String("scratch_dir", scratchDir),
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, err
	}

	return w, nil
}

// logger returns the configured logger or the default one.
func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
