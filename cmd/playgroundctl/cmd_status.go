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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/DetachHead/basedpyright-playground/pkg/ux"
	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var statusJSONOutput bool // Output as JSON for scripting

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show server health, live sessions, and installed backends",
		Run:   runStatusCommand,
	}
	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "List backend versions available for new sessions",
		Run:   runVersionsCommand,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionsCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runStatusCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := newAPIClient(serverURL)
	var status datatypes.StatusResponse
	if err := client.getJSON(ctx, "/v1/status", &status); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if statusJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			log.Fatalf("Error encoding output: %v", err)
		}
		return
	}

	fmt.Printf("%s %s (%s)\n", ux.Styles.StatusOK.Render(), serverURL, status.Status)
	fmt.Printf("Active sessions: %d\n", status.ActiveSessions)
	fmt.Printf("Installed:       %d versions (%d installs, %d evictions)\n",
		status.InstalledCounts.Installed,
		status.InstalledCounts.Installs,
		status.InstalledCounts.Evictions)
	for _, iv := range status.Installed {
		pinned := ""
		if iv.Pinned {
			pinned = "  " + ux.Styles.Muted.Render("(in use)")
		}
		fmt.Printf("  %s%s\n", iv.Version, pinned)
	}
}

func runVersionsCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := newAPIClient(serverURL)
	var resp datatypes.VersionsResponse
	if err := client.getJSON(ctx, "/v1/versions", &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Versions) == 0 {
		ux.Warning("No stable versions available.")
		return
	}
	for i, v := range resp.Versions {
		marker := ""
		if i == 0 {
			marker = "  " + ux.Styles.Highlight.Render("(newest)")
		}
		fmt.Printf("%s%s\n", v, marker)
	}
}
