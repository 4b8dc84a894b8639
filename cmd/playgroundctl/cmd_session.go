// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/DetachHead/basedpyright-playground/pkg/ux"
	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	createVersion string // Backend version to pin, empty means newest stable
	createLocale  string // Diagnostic locale
	createMode    string // Type checking mode
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var (
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage playground sessions",
	}
	sessionCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a session and print its id",
		Long: `Creates a type-checking session on the server and prints the session id.
The session stays alive until closed or reclaimed after sitting idle.`,
		Run: runSessionCreateCommand,
	}
	sessionCloseCmd = &cobra.Command{
		Use:   "close [session-id]",
		Short: "Close a session and release its backend",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionCloseCommand,
	}
)

func init() {
	sessionCreateCmd.Flags().StringVar(&createVersion, "version", "",
		"Backend version to pin (defaults to newest stable)")
	sessionCreateCmd.Flags().StringVar(&createLocale, "locale", "",
		"Locale for diagnostic messages, e.g. fr or pt-br")
	sessionCreateCmd.Flags().StringVar(&createMode, "mode", "",
		"Type checking mode: off, basic, standard, strict, recommended, or all")

	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runSessionCreateCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	client := newAPIClient(serverURL)

	// The first session on a fresh version sits through an npm install,
	// so give the user something to watch.
	spin := ux.NewSpinner("Creating session (a new backend version may need installing)")
	spin.Start()
	sess, err := createSession(ctx, client, datatypes.CreateSessionRequest{
		Version:          createVersion,
		Locale:           createLocale,
		TypeCheckingMode: createMode,
	})
	spin.Stop()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Session %s created (backend %s)\n", sess.SessionID, sess.Version)
}

func runSessionCloseCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := newAPIClient(serverURL)
	if err := client.deletePath(ctx, "/v1/sessions/"+args[0]); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Session %s closed\n", args[0])
}

// createSession posts the request and returns the server's session record.
func createSession(ctx context.Context, client *apiClient, req datatypes.CreateSessionRequest) (datatypes.SessionResponse, error) {
	var sess datatypes.SessionResponse
	if err := client.postJSON(ctx, "/v1/sessions", req, &sess); err != nil {
		return datatypes.SessionResponse{}, err
	}
	return sess, nil
}
