// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides configuration loading for the playground service.
//
// Configuration resolves in layers: the embedded default file, then an
// optional external YAML file, then environment overrides. The merged
// result is validated before use.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxConfigFileSize is the maximum allowed config file size (1MB).
	MaxConfigFileSize = 1024 * 1024

	// EnvConfigPath names the environment variable holding an external
	// config file path.
	EnvConfigPath = "PLAYGROUND_CONFIG"
)

// =============================================================================
// Embedded Default Configuration
// =============================================================================

//go:embed playground.yaml
var defaultConfigYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	configLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playground_config_load_errors_total",
		Help: "Total configuration load errors",
	})

	configLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playground_config_load_duration_seconds",
		Help:    "Duration of configuration loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

var configTracer = otel.Tracer("playground.config")

// =============================================================================
// Types
// =============================================================================

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root playground service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Limits    LimitsConfig    `yaml:"limits"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// ListenAddr is the host:port the server binds, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// Mode selects the gin mode: debug, release, or test.
	Mode string `yaml:"mode" validate:"oneof=debug release test"`

	// LogLevel is the minimum severity written to the logs.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// LogDir enables JSON file logging when set. Supports ~ expansion.
	LogDir string `yaml:"log_dir"`

	ReadTimeout     Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// ToolchainConfig controls version resolution and installs.
type ToolchainConfig struct {
	// RootDir is where installed versions live.
	RootDir string `yaml:"root_dir" validate:"required"`

	// Package is the npm package providing the language server.
	Package string `yaml:"package" validate:"required"`

	// RegistryURL is the npm-compatible registry for metadata and installs.
	RegistryURL string `yaml:"registry_url" validate:"required,url"`

	// MaxVersions bounds how many versions stay installed.
	MaxVersions int `yaml:"max_versions" validate:"gt=0"`

	// NpmBin and NodeBin override the executables on PATH.
	NpmBin  string `yaml:"npm_bin" validate:"required"`
	NodeBin string `yaml:"node_bin" validate:"required"`
}

// SessionsConfig controls the session registry.
type SessionsConfig struct {
	// MaxSessions bounds concurrent sessions.
	MaxSessions int `yaml:"max_sessions" validate:"gt=0"`

	// IdleTimeout is how long a session may go untouched.
	IdleTimeout Duration `yaml:"idle_timeout" validate:"gt=0"`

	// SweepInterval is how often the idle reaper runs.
	SweepInterval Duration `yaml:"sweep_interval" validate:"gt=0"`

	// HandshakeTimeout bounds the worker's initialize exchange.
	HandshakeTimeout Duration `yaml:"handshake_timeout" validate:"gt=0"`

	// CreateTimeout bounds a whole session create, installs included.
	CreateTimeout Duration `yaml:"create_timeout" validate:"gt=0"`
}

// LimitsConfig controls request admission.
type LimitsConfig struct {
	// MaxSourceBytes caps submitted source code size.
	MaxSourceBytes int `yaml:"max_source_bytes" validate:"gt=0"`

	// RequestsPerSecond and Burst configure the per-client rate limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"gt=0"`
}

// TelemetryConfig controls trace and metric export.
type TelemetryConfig struct {
	// Enabled turns OTel export on.
	Enabled bool `yaml:"enabled"`

	// OTLPEndpoint is the gRPC collector address. Empty selects stdout
	// exporters when telemetry is enabled.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// =============================================================================
// Loading
// =============================================================================

var validate = validator.New()

// Load builds the service configuration.
//
// Description:
//
//	Starts from the embedded default, overlays an external YAML file when
//	one is found, applies environment overrides, and validates. An
//	explicitly passed path must load; discovered paths fall back to the
//	embedded default on error.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	path - Explicit config file path. Empty enables discovery via the
//	       PLAYGROUND_CONFIG variable and conventional locations.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil on parse or validation failure.
func Load(ctx context.Context, path string) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Load: ctx must not be nil")
	}

	ctx, span := configTracer.Start(ctx, "config.Load")
	defer span.End()

	startTime := time.Now()
	defer func() {
		configLoadDuration.Observe(time.Since(startTime).Seconds())
	}()

	cfg := &Config{}
	if err := yaml.Unmarshal(defaultConfigYAML, cfg); err != nil {
		configLoadErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedded default corrupt")
		return nil, fmt.Errorf("parsing embedded default config: %w", err)
	}

	source := "embedded"
	explicit := path != ""
	if !explicit {
		path = discoverConfigPath()
	}

	if path != "" {
		data, err := readConfigFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				configLoadErrors.Inc()
				span.RecordError(err)
				span.SetStatus(codes.Error, "parse failed")
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
			source = path
		case explicit:
			configLoadErrors.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			slog.Warn("Discovered config not readable, using embedded default",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		configLoadErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("source", source))
	slog.Info("Configuration loaded",
		slog.String("source", source),
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.String("toolchain_root", cfg.Toolchain.RootDir))

	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// discoverConfigPath finds an external config file, or returns "".
func discoverConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}

	locations := []string{
		"./playground.yaml",
		"./config/playground.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			absPath, _ := filepath.Abs(loc)
			return absPath
		}
	}
	return ""
}

// readConfigFile reads an external config file with size and path checks.
func readConfigFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("readConfigFile: path traversal not allowed: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileSize)
	}

	return os.ReadFile(absPath)
}

// applyEnvOverrides overlays well-known environment variables.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"PLAYGROUND_LISTEN_ADDR", &cfg.Server.ListenAddr},
		{"PLAYGROUND_MODE", &cfg.Server.Mode},
		{"PLAYGROUND_LOG_LEVEL", &cfg.Server.LogLevel},
		{"PLAYGROUND_LOG_DIR", &cfg.Server.LogDir},
		{"PLAYGROUND_TOOLCHAIN_ROOT", &cfg.Toolchain.RootDir},
		{"PLAYGROUND_REGISTRY_URL", &cfg.Toolchain.RegistryURL},
		{"PLAYGROUND_NPM_BIN", &cfg.Toolchain.NpmBin},
		{"PLAYGROUND_NODE_BIN", &cfg.Toolchain.NodeBin},
		{"PLAYGROUND_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}
