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
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DetachHead/basedpyright-playground/pkg/ux"
	"github.com/DetachHead/basedpyright-playground/services/playground/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	checkSessionID string // Reuse an existing session instead of a throwaway
	checkVersion   string // Backend version for the throwaway session
	checkMode      string // Type checking mode for the throwaway session
	checkJSON      bool   // Emit raw diagnostics as JSON
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Type-check a Python file through the playground",
	Long: `Runs a Python source file through a playground session and prints the
diagnostics. Pass "-" to read source from stdin.

Without --session a throwaway session is created for the check and closed
afterwards.

Examples:
  playgroundctl check main.py
  playgroundctl check main.py --mode strict
  cat main.py | playgroundctl check -
  playgroundctl check main.py --session 2f1f3c8a-...`,
	Args: cobra.ExactArgs(1),
	Run:  runCheckCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkSessionID, "session", "",
		"Existing session id to check against")
	checkCmd.Flags().StringVar(&checkVersion, "version", "",
		"Backend version for the throwaway session")
	checkCmd.Flags().StringVar(&checkMode, "mode", "",
		"Type checking mode for the throwaway session")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false,
		"Emit the diagnostics as raw JSON")
	rootCmd.AddCommand(checkCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runCheckCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	// Raw JSON output must not share stdout with animations.
	if checkJSON {
		ux.SetPlain(true)
	}

	source, name, err := readSource(args[0])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	client := newAPIClient(serverURL)

	sessionID := checkSessionID
	if sessionID == "" {
		spin := ux.NewSpinner("Creating session")
		spin.Start()
		sess, err := createSession(ctx, client, datatypes.CreateSessionRequest{
			Version:          checkVersion,
			TypeCheckingMode: checkMode,
		})
		spin.Stop()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		sessionID = sess.SessionID
		defer func() {
			if err := client.deletePath(context.Background(), "/v1/sessions/"+sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not close session %s: %v\n", sessionID, err)
			}
		}()
	}

	spin := ux.NewSpinner("Analyzing " + name)
	spin.Start()
	diags, err := fetchDiagnostics(ctx, client, sessionID, source)
	spin.Stop()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diags); err != nil {
			log.Fatalf("Error encoding output: %v", err)
		}
	} else {
		fmt.Print(formatDiagnostics(name, diags))
	}

	if countErrors(diags) > 0 {
		os.Exit(1)
	}
}

// readSource loads the file to check; "-" reads stdin.
func readSource(arg string) (source, name string, err error) {
	if arg == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), "<stdin>", nil
	}
	raw, err := os.ReadFile(arg)
	if err != nil {
		return "", "", err
	}
	return string(raw), arg, nil
}

func fetchDiagnostics(ctx context.Context, client *apiClient, sessionID, source string) ([]json.RawMessage, error) {
	var resp datatypes.DiagnosticsResponse
	err := client.postJSON(ctx, "/v1/sessions/"+sessionID+"/diagnostics",
		datatypes.CodeRequest{Code: source}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Diagnostics, nil
}

// =============================================================================
// DIAGNOSTIC FORMATTING
// =============================================================================

// diagnostic is the subset of the language server's diagnostic shape the
// CLI renders. Unknown fields pass through untouched in --json mode.
type diagnostic struct {
	Range struct {
		Start struct {
			Line      int `json:"line"`
			Character int `json:"character"`
		} `json:"start"`
	} `json:"range"`
	Severity int    `json:"severity"`
	Message  string `json:"message"`
	Rule     string `json:"rule"`
}

var severityNames = map[int]string{
	1: "error",
	2: "warning",
	3: "information",
	4: "hint",
}

// formatDiagnostics renders diagnostics one per line in the familiar
// file:line:col form. Positions print one-based.
func formatDiagnostics(name string, diags []json.RawMessage) string {
	if len(diags) == 0 {
		return fmt.Sprintf("%s: no issues found\n", name)
	}

	var b strings.Builder
	errors := 0
	for _, raw := range diags {
		var d diagnostic
		if err := json.Unmarshal(raw, &d); err != nil {
			fmt.Fprintf(&b, "%s: unreadable diagnostic: %s\n", name, string(raw))
			continue
		}
		severity := severityNames[d.Severity]
		if severity == "" {
			severity = "unknown"
		}
		if d.Severity == 1 {
			errors++
		}
		rule := ""
		if d.Rule != "" {
			rule = fmt.Sprintf(" (%s)", d.Rule)
		}
		fmt.Fprintf(&b, "%s:%d:%d %s: %s%s\n",
			name, d.Range.Start.Line+1, d.Range.Start.Character+1,
			severity, d.Message, rule)
	}

	fmt.Fprintf(&b, "%d error(s), %d other finding(s)\n", errors, len(diags)-errors)
	return b.String()
}

// countErrors reports how many diagnostics carry error severity.
func countErrors(diags []json.RawMessage) int {
	n := 0
	for _, raw := range diags {
		var d diagnostic
		if json.Unmarshal(raw, &d) == nil && d.Severity == 1 {
			n++
		}
	}
	return n
}
