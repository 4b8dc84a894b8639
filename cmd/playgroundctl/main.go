// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command playgroundctl is a CLI for the basedpyright playground service.
//
// It talks to a running playground server over its HTTP API:
//
//	playgroundctl versions
//	playgroundctl status
//	playgroundctl session create --mode strict
//	playgroundctl session close <session-id>
//	playgroundctl check main.py
//	cat main.py | playgroundctl check -
package main

import (
	"log"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/DetachHead/basedpyright-playground/pkg/ux"
)

var (
	serverURL string

	rootCmd = &cobra.Command{
		Use:   "playgroundctl",
		Short: "A CLI for the basedpyright playground service",
		Long: `playgroundctl manages type-checking sessions on a playground server
and runs Python source through them from the command line.`,
	}
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("PLAYGROUND_SERVER", "http://localhost:8080"),
		"Base URL of the playground server")

	// Styled output only when a human is watching.
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	ux.SetPlain(!interactive)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
