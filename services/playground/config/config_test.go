// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoad_EmbeddedDefaults tests loading with no external file present.
func TestLoad_EmbeddedDefaults(t *testing.T) {
	// Run from an empty directory so discovery finds nothing.
	t.Chdir(t.TempDir())

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.Mode != "release" {
		t.Errorf("Server.Mode = %q, want %q", cfg.Server.Mode, "release")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("Server.LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Server.LogDir != "" {
		t.Errorf("Server.LogDir = %q, want empty", cfg.Server.LogDir)
	}
	if cfg.Toolchain.Package != "basedpyright" {
		t.Errorf("Toolchain.Package = %q, want %q", cfg.Toolchain.Package, "basedpyright")
	}
	if cfg.Toolchain.MaxVersions != 20 {
		t.Errorf("Toolchain.MaxVersions = %d, want 20", cfg.Toolchain.MaxVersions)
	}
	if cfg.Sessions.IdleTimeout.Std() != time.Minute {
		t.Errorf("Sessions.IdleTimeout = %v, want 1m", cfg.Sessions.IdleTimeout.Std())
	}
	if cfg.Sessions.SweepInterval.Std() != time.Minute {
		t.Errorf("Sessions.SweepInterval = %v, want 1m", cfg.Sessions.SweepInterval.Std())
	}
	if cfg.Limits.MaxSourceBytes != 262144 {
		t.Errorf("Limits.MaxSourceBytes = %d, want 262144", cfg.Limits.MaxSourceBytes)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false")
	}
}

// TestLoad_NilContext tests that nil context returns error.
func TestLoad_NilContext(t *testing.T) {
	_, err := Load(nil, "") //nolint:staticcheck
	if err == nil {
		t.Error("Load(nil) should return error")
	}
}

// TestLoad_ExternalOverlay tests partial external files over defaults.
func TestLoad_ExternalOverlay(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "playground.yaml")
	data := `
server:
  listen_addr: ":9090"
sessions:
  idle_timeout: "5m"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Sessions.IdleTimeout.Std() != 5*time.Minute {
		t.Errorf("Sessions.IdleTimeout = %v, want 5m", cfg.Sessions.IdleTimeout.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Mode != "release" {
		t.Errorf("Server.Mode = %q, want %q", cfg.Server.Mode, "release")
	}
	if cfg.Toolchain.MaxVersions != 20 {
		t.Errorf("Toolchain.MaxVersions = %d, want 20", cfg.Toolchain.MaxVersions)
	}
}

// TestLoad_ExplicitPathMustExist tests that a passed path failing is fatal.
func TestLoad_ExplicitPathMustExist(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(context.Background(), "/no/such/playground.yaml")
	if err == nil {
		t.Error("Load() with missing explicit path should return error")
	}
}

// TestLoad_DiscoveredPathFallsBack tests graceful fallback for env paths.
func TestLoad_DiscoveredPathFallsBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfigPath, "/no/such/playground.yaml")

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want embedded default", cfg.Server.ListenAddr)
	}
}

// TestLoad_EnvOverrides tests environment variables beating file values.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PLAYGROUND_LISTEN_ADDR", ":7070")
	t.Setenv("PLAYGROUND_NODE_BIN", "/opt/node/bin/node")
	t.Setenv("PLAYGROUND_LOG_LEVEL", "debug")

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":7070")
	}
	if cfg.Toolchain.NodeBin != "/opt/node/bin/node" {
		t.Errorf("Toolchain.NodeBin = %q, want %q", cfg.Toolchain.NodeBin, "/opt/node/bin/node")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want %q", cfg.Server.LogLevel, "debug")
	}
}

// TestLoad_RejectsInvalidValues tests validation of merged config.
func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "bad mode",
			yaml: "server:\n  mode: \"verbose\"\n",
		},
		{
			name: "bad log level",
			yaml: "server:\n  log_level: \"trace\"\n",
		},
		{
			name: "zero sessions",
			yaml: "sessions:\n  max_sessions: 0\n",
		},
		{
			name: "negative source cap",
			yaml: "limits:\n  max_source_bytes: -1\n",
		},
		{
			name: "bad registry url",
			yaml: "toolchain:\n  registry_url: \"not a url\"\n",
		},
		{
			name: "bad duration",
			yaml: "sessions:\n  idle_timeout: \"soon\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			path := filepath.Join(t.TempDir(), "playground.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := Load(context.Background(), path); err == nil {
				t.Error("Load() error = nil, want non-nil")
			}
		})
	}
}

// TestLoad_RejectsOversizedFiles tests the size cap on external files.
func TestLoad_RejectsOversizedFiles(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "playground.yaml")
	big := "# " + strings.Repeat("x", MaxConfigFileSize) + "\n"
	if err := os.WriteFile(path, []byte(big), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(context.Background(), path)
	if err == nil {
		t.Error("Load() error = nil, want size error")
	}
}
