// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command playground starts the basedpyright playground API server.
//
// The server hosts isolated type-checking sessions, each backed by its own
// language server process pinned to a client-chosen package version.
//
// Usage:
//
//	go run ./cmd/playground
//	go run ./cmd/playground -config /etc/playground.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/health
//
//	# Available backend versions
//	curl http://localhost:8080/v1/versions | jq
//
//	# Create a session on the newest stable backend
//	curl -X POST http://localhost:8080/v1/sessions \
//	  -H "Content-Type: application/json" \
//	  -d '{"type_checking_mode": "strict"}'
//
//	# Type-check a snippet
//	curl -X POST http://localhost:8080/v1/sessions/<id>/diagnostics \
//	  -H "Content-Type: application/json" \
//	  -d '{"code": "x: int = \"\""}' | jq
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/DetachHead/basedpyright-playground/pkg/logging"
	"github.com/DetachHead/basedpyright-playground/services/playground/config"
	"github.com/DetachHead/basedpyright-playground/services/playground/routes"
	"github.com/DetachHead/basedpyright-playground/services/playground/session"
	"github.com/DetachHead/basedpyright-playground/services/playground/telemetry"
	"github.com/DetachHead/basedpyright-playground/services/playground/toolchain"
	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

const serviceName = "playground"

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	flag.Parse()

	setupBootstrapLogging()

	ctx := context.Background()
	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	slog.SetDefault(logger.Slog())

	gin.SetMode(cfg.Server.Mode)

	telShutdown, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	index := &toolchain.NPMRegistry{
		BaseURL: cfg.Toolchain.RegistryURL,
		Package: cfg.Toolchain.Package,
	}
	// MaxVersions bounds what stays installed, not what is listed; the
	// resolver keeps its own listing cap.
	resolver := &toolchain.Resolver{Index: index}

	artifacts, err := toolchain.NewStore(cfg.Toolchain.RootDir,
		&toolchain.NPMInstaller{
			Bin:     cfg.Toolchain.NpmBin,
			Package: cfg.Toolchain.Package,
		},
		toolchain.WithCapacity(cfg.Toolchain.MaxVersions))
	if err != nil {
		log.Fatalf("Failed to open the toolchain store: %v", err)
	}
	if err := artifacts.StartWatcher(); err != nil {
		slog.Warn("Toolchain directory watcher unavailable", "error", err)
	}

	launcher := &worker.Launcher{
		NodeBin:          cfg.Toolchain.NodeBin,
		HandshakeTimeout: cfg.Sessions.HandshakeTimeout.Std(),
	}
	launch := session.LauncherFunc(func(ctx context.Context, ls worker.LaunchSpec) (session.Handle, error) {
		w, err := launcher.Launch(ctx, ls)
		if err != nil {
			return nil, err
		}
		return w, nil
	})

	sessions, err := session.NewStore(resolver, artifacts, launch,
		session.WithMaxSessions(cfg.Sessions.MaxSessions),
		session.WithIdleTimeout(cfg.Sessions.IdleTimeout.Std()),
		session.WithSweepInterval(cfg.Sessions.SweepInterval.Std()))
	if err != nil {
		log.Fatalf("Failed to create the session store: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, routes.Deps{
		Sessions:          sessions,
		Resolver:          resolver,
		Artifacts:         artifacts,
		MaxSource:         cfg.Limits.MaxSourceBytes,
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
		CreateTimeout:     cfg.Sessions.CreateTimeout.Std(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting the playground server", "addr", cfg.Server.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	serverFailed := false
	select {
	case sig := <-quit:
		slog.Info("Shutting down the playground server", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			serverFailed = true
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown did not drain cleanly", "error", err)
	}
	sessions.Shutdown(shutdownCtx)
	if err := artifacts.Close(); err != nil {
		slog.Error("Toolchain store close failed", "error", err)
	}
	if err := telShutdown(shutdownCtx); err != nil {
		slog.Error("Telemetry shutdown failed", "error", err)
	}
	if err := logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "log flush failed: %v\n", err)
	}

	if serverFailed {
		os.Exit(1)
	}
}

// setupBootstrapLogging installs a plain stderr logger for the window
// before the configuration is loaded.
func setupBootstrapLogging() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// buildLogger constructs the process-wide logger from the loaded
// configuration: human-readable on a terminal, JSON when output is piped
// or captured, plus an optional JSON log file.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Server.LogDir,
		Service: serviceName,
		JSON:    !interactive,
	}), nil
}

// telemetryConfig maps the service configuration onto exporter choices.
// Disabled telemetry still runs the no-op providers so instrumented code
// paths stay uniform.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = serviceName

	if !cfg.Telemetry.Enabled {
		tc.TraceExporter = "none"
		tc.MetricExporter = "none"
		return tc
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tc.TraceExporter = "otlp"
		tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	} else {
		tc.TraceExporter = "stdout"
	}
	tc.MetricExporter = "prometheus"
	return tc
}
