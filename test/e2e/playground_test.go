package e2e

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// These tests boot the freshly built server binary and drive it with the
// CLI. They need network access to the npm registry plus node and npm on
// PATH, so they only run when RUN_E2E_TESTS is set.

func skipUnlessE2E(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_E2E_TESTS") == "" {
		t.Skip("Set RUN_E2E_TESTS=1 to run this test")
	}
}

// startServer boots the server binary on a free port with a throwaway
// toolchain root and waits for /health to answer. The process is killed
// when the test finishes.
func startServer(t *testing.T) (string, *exec.Cmd, *bytes.Buffer) {
	t.Helper()

	// Reserve a port, then hand it to the server
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var logs bytes.Buffer
	cmd := exec.Command(serverBinary)
	cmd.Stdout = &logs
	cmd.Stderr = &logs
	cmd.Env = append(os.Environ(),
		"PLAYGROUND_LISTEN_ADDR="+addr,
		"PLAYGROUND_MODE=release",
		"PLAYGROUND_TOOLCHAIN_ROOT="+t.TempDir(),
	)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start the server: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	baseURL := "http://" + addr
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return baseURL, cmd, &logs
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("Server did not become healthy in time.\nLogs:\n%s", logs.String())
	return "", nil, nil
}

// TestServer_HealthAndShutdown verifies the server comes up, answers the
// health check, and drains cleanly on SIGTERM.
func TestServer_HealthAndShutdown(t *testing.T) {
	skipUnlessE2E(t)

	// 1. Boot and hit /health
	baseURL, cmd, logs := startServer(t)
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode the health response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %q", health.Status)
	}

	// 2. SIGTERM must produce a clean exit
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to signal the server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Server exited uncleanly after SIGTERM: %v\nLogs:\n%s", err, logs.String())
		}
	case <-time.After(15 * time.Second):
		cmd.Process.Kill()
		t.Fatal("Server did not exit within 15s of SIGTERM")
	}
	t.Log("✅ Server booted, answered /health, and shut down cleanly")
}

// TestCLI_StatusAndVersions drives the read-only commands against a live
// server.
func TestCLI_StatusAndVersions(t *testing.T) {
	skipUnlessE2E(t)
	baseURL, _, _ := startServer(t)

	// 1. status --json should report a healthy, empty server
	statusCmd := exec.Command(ctlBinary, "status", "--json", "--server", baseURL)
	timer := time.AfterFunc(30*time.Second, func() {
		if statusCmd.Process != nil {
			statusCmd.Process.Kill()
		}
	})
	defer timer.Stop()

	out, err := statusCmd.Output()
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	var status struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		t.Fatalf("Failed to parse status JSON: %v\nOutput: %s", err, out)
	}
	if status.Status != "ok" {
		t.Errorf("Expected status ok, got %q", status.Status)
	}
	if status.ActiveSessions != 0 {
		t.Errorf("Expected 0 active sessions on a fresh server, got %d", status.ActiveSessions)
	}

	// 2. versions should list at least one release from the registry
	versionsCmd := exec.Command(ctlBinary, "versions", "--server", baseURL)
	vout, err := versionsCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("versions command failed: %v\nOutput: %s", err, vout)
	}
	lines := strings.Split(strings.TrimSpace(string(vout)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("Expected at least one version, got: %s", vout)
	}
	t.Logf("✅ Server offers %d versions, newest %s", len(lines), strings.Fields(lines[0])[0])
}

// TestCLI_CheckReportsTypeErrors runs a real type check end to end: a
// broken file must exit 1 with a rendered diagnostic, a clean file must
// exit 0.
func TestCLI_CheckReportsTypeErrors(t *testing.T) {
	skipUnlessE2E(t)
	baseURL, _, _ := startServer(t)

	tempDir := t.TempDir()
	badFile := filepath.Join(tempDir, "bad.py")
	if err := os.WriteFile(badFile, []byte("x: int = \"not an int\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write the test file: %v", err)
	}
	cleanFile := filepath.Join(tempDir, "clean.py")
	if err := os.WriteFile(cleanFile, []byte("x: int = 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write the test file: %v", err)
	}

	// 1. A file with a type error exits 1 and names the problem.
	// The first check installs the backend, so give it room.
	checkCmd := exec.Command(ctlBinary, "check", badFile, "--server", baseURL)
	timer := time.AfterFunc(180*time.Second, func() {
		if checkCmd.Process != nil {
			checkCmd.Process.Kill()
		}
	})
	defer timer.Stop()

	outBytes, err := checkCmd.CombinedOutput()
	output := string(outBytes)
	if err == nil {
		t.Fatalf("Expected a non-zero exit for a broken file.\nOutput: %s", output)
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("check did not run to completion: %v\nOutput: %s", err, output)
	}
	if exitErr.ExitCode() != 1 {
		t.Errorf("Expected exit code 1, got %d.\nOutput: %s", exitErr.ExitCode(), output)
	}
	if !strings.Contains(output, "bad.py") || !strings.Contains(output, "error") {
		t.Errorf("Diagnostic output missing the file or severity.\nOutput: %s", output)
	}
	t.Log("✅ Broken file produced a diagnostic and exit code 1")

	// 2. A clean file exits 0. The backend is installed now, so this one
	// is quick.
	cleanCmd := exec.Command(ctlBinary, "check", cleanFile, "--server", baseURL)
	cleanTimer := time.AfterFunc(60*time.Second, func() {
		if cleanCmd.Process != nil {
			cleanCmd.Process.Kill()
		}
	})
	defer cleanTimer.Stop()

	cleanOut, err := cleanCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("check failed on a clean file: %v\nOutput: %s", err, cleanOut)
	}
	if !strings.Contains(string(cleanOut), "no issues found") {
		t.Errorf("Expected the clean summary line.\nOutput: %s", cleanOut)
	}
	t.Log("✅ Clean file passed with exit code 0")
}

// TestCLI_SessionLifecycle creates a session, confirms the server counts
// it, and closes it again.
func TestCLI_SessionLifecycle(t *testing.T) {
	skipUnlessE2E(t)
	baseURL, _, _ := startServer(t)

	// 1. Create (installs the backend on a fresh server)
	createCmd := exec.Command(ctlBinary, "session", "create", "--server", baseURL)
	timer := time.AfterFunc(180*time.Second, func() {
		if createCmd.Process != nil {
			createCmd.Process.Kill()
		}
	})
	defer timer.Stop()

	out, err := createCmd.Output()
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}

	// Plain mode prints "Session <id> created (backend <version>)"
	var sessionID string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "Session ") {
			sessionID = strings.Fields(line)[1]
			break
		}
	}
	if sessionID == "" {
		t.Fatalf("Could not find the session id in the output: %s", out)
	}
	t.Logf("Created session %s", sessionID)

	// 2. The server should count exactly one active session
	resp, err := http.Get(baseURL + "/v1/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	var status struct {
		ActiveSessions int `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.ActiveSessions != 1 {
		t.Errorf("Expected 1 active session, got %d", status.ActiveSessions)
	}

	// 3. Close it
	closeCmd := exec.Command(ctlBinary, "session", "close", sessionID, "--server", baseURL)
	closeOut, err := closeCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("session close failed: %v\nOutput: %s", err, closeOut)
	}
	if !strings.Contains(string(closeOut), "closed") {
		t.Errorf("Expected a close confirmation.\nOutput: %s", closeOut)
	}
	t.Log("✅ Session created, counted, and closed")
}
