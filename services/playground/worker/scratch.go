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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Defaults for the synthesized analysis configuration.
const (
	// DefaultPythonVersion is assumed when the caller names none.
	DefaultPythonVersion = "3.12"

	// DefaultPythonPlatform is assumed when the caller names none.
	DefaultPythonPlatform = "All"

	// ConfigFileName is the analysis configuration file basedpyright
	// looks for at the project root.
	ConfigFileName = "pyrightconfig.json"
)

// ScratchConfig holds the caller-tunable analysis settings that become the
// session's pyrightconfig.json.
type ScratchConfig struct {
	// PythonVersion is the target language version, e.g. "3.12".
	PythonVersion string `json:"pythonVersion,omitempty"`

	// PythonPlatform is the target platform, e.g. "Linux" or "All".
	PythonPlatform string `json:"pythonPlatform,omitempty"`

	// TypeCheckingMode is the strictness mode, e.g. "strict". Left out
	// of the rendered file when empty so the backend default applies.
	TypeCheckingMode string `json:"typeCheckingMode,omitempty"`

	// Overrides are arbitrary boolean rule switches merged into the
	// rendered file last, so they win over the computed fields.
	Overrides map[string]bool `json:"overrides,omitempty"`
}

// render produces the pyrightconfig.json document.
//
// Keys are emitted in sorted order (encoding/json map behavior), which
// keeps the artifact deterministic for a given configuration.
func (c ScratchConfig) render() ([]byte, error) {
	doc := make(map[string]interface{}, len(c.Overrides)+3)

	version := c.PythonVersion
	if version == "" {
		version = DefaultPythonVersion
	}
	platform := c.PythonPlatform
	if platform == "" {
		platform = DefaultPythonPlatform
	}

	doc["pythonVersion"] = version
	doc["pythonPlatform"] = platform
	if c.TypeCheckingMode != "" {
		doc["typeCheckingMode"] = c.TypeCheckingMode
	}
	for key, value := range c.Overrides {
		doc[key] = value
	}

	return json.MarshalIndent(doc, "", "  ")
}

// CreateScratch creates a session-private scratch directory under root and
// writes the synthesized configuration into it.
//
// Description:
//
//	The directory becomes the worker's project root. The rendered
//	configuration contents are returned as well because the handshake
//	repeats them in its virtual file map.
//
// Inputs:
//
//	root - Parent directory; the default temp directory when empty.
//	cfg - Analysis settings to render.
//
// Outputs:
//
//	string - The created scratch directory.
//	[]byte - The rendered configuration contents.
//	error - Non-nil if the directory or file could not be created; no
//	directory is left behind on error.
func CreateScratch(root string, cfg ScratchConfig) (string, []byte, error) {
	dir, err := os.MkdirTemp(root, "playground-")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}

	contents, err := cfg.render()
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("render scratch config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), contents, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("write scratch config: %w", err)
	}

	return dir, contents, nil
}

// RemoveScratch deletes a scratch directory recursively. A missing or
// empty path is not an error.
func RemoveScratch(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
