// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Installer materializes one backend version into a destination directory.
//
// Implementations must be safe for concurrent use across different versions;
// the store guarantees a given version is installed by at most one caller at
// a time.
type Installer interface {
	// Install places the package at the given version under dir. On error
	// the store removes dir, so implementations need not clean up.
	Install(ctx context.Context, version string, dir string) error
}

// maxInstallOutput bounds captured installer output carried in errors.
const maxInstallOutput = 8 * 1024

// NPMInstaller installs the backend package with the npm CLI.
//
// Description:
//
//	Runs "npm install <package>@<version>" with the destination directory
//	as the working directory, producing dir/node_modules/<package>. The
//	worker launcher later resolves the language-server entry point inside
//	that tree.
type NPMInstaller struct {
	// Bin is the npm executable. Defaults to "npm".
	Bin string

	// Package is the npm package name, e.g. "basedpyright".
	Package string

	// Logger is used for install progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Install implements Installer.
func (n *NPMInstaller) Install(ctx context.Context, version string, dir string) error {
	bin := n.Bin
	if bin == "" {
		bin = "npm"
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	spec := fmt.Sprintf("%s@%s", n.Package, version)
	start := time.Now()

	logger.Info("Installing toolchain version",
		slog.String("package", spec),
		slog.String("dir", dir),
	)

	cmd := exec.CommandContext(ctx, bin, "install", spec,
		"--no-audit", "--no-fund", "--no-package-lock", "--omit=dev")
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &output, limit: maxInstallOutput}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("npm install %s: %w: %s", spec, err, output.String())
	}

	logger.Info("Toolchain version installed",
		slog.String("package", spec),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// limitedWriter caps captured subprocess output.
type limitedWriter struct {
	w         *bytes.Buffer
	limit     int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.w.Len()
	if remaining <= 0 {
		lw.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		lw.truncated = true
		lw.w.Write(p[:remaining])
		return len(p), nil
	}
	return lw.w.Write(p)
}
