package test

import (
	"os"
	"os/exec"
	"strings"
	"testing"
)

// TestCLISurface_V010 pins the command surface shipped in v0.1.0 so a
// release build cannot silently lose a command or flag. It builds the CLI
// from the working tree and inspects the help output, so it needs no
// running server.
func TestCLISurface_V010(t *testing.T) {
	// 1. Build the latest CLI binary
	// We build it to a temp location to avoid messing with the user's install
	tmpBin := "./playgroundctl_test_bin"
	buildCmd := exec.Command("go", "build", "-o", tmpBin, "../../cmd/playgroundctl")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI: %v\nOutput: %s", err, string(output))
	}
	defer os.Remove(tmpBin)

	// 2. The root help must list every v0.1.0 command
	out, err := exec.Command(tmpBin, "--help").CombinedOutput()
	if err != nil {
		t.Fatalf("--help failed: %v\nOutput: %s", err, out)
	}
	help := string(out)
	for _, command := range []string{"check", "session", "status", "versions"} {
		if !strings.Contains(help, command) {
			t.Errorf("Root help is missing the %q command.\nOutput: %s", command, help)
		}
	}
	if !strings.Contains(help, "--server") {
		t.Errorf("Root help is missing the --server flag.\nOutput: %s", help)
	}

	// 3. check must keep its analysis flags
	out, err = exec.Command(tmpBin, "check", "--help").CombinedOutput()
	if err != nil {
		t.Fatalf("check --help failed: %v\nOutput: %s", err, out)
	}
	checkHelp := string(out)
	for _, flag := range []string{"--session", "--version", "--mode", "--json"} {
		if !strings.Contains(checkHelp, flag) {
			t.Errorf("check help is missing the %s flag.\nOutput: %s", flag, checkHelp)
		}
	}

	// 4. session must keep its subcommands
	out, err = exec.Command(tmpBin, "session", "--help").CombinedOutput()
	if err != nil {
		t.Fatalf("session --help failed: %v\nOutput: %s", err, out)
	}
	sessionHelp := string(out)
	for _, sub := range []string{"create", "close"} {
		if !strings.Contains(sessionHelp, sub) {
			t.Errorf("session help is missing the %q subcommand.\nOutput: %s", sub, sessionHelp)
		}
	}

	// 5. An unknown command must fail loudly, not fall through
	out, _ = exec.Command(tmpBin, "frobnicate").CombinedOutput()
	if !strings.Contains(string(out), "unknown command") {
		t.Errorf("Expected an unknown-command error.\nOutput: %s", out)
	}

	t.Log("✅ v0.1.0 CLI surface intact")
}
