package validation

import (
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		// Valid versions
		{"simple", "1.2.3", false},
		{"single digit", "1", false},
		{"two components", "1.30", false},
		{"prerelease", "1.2.3-beta.1", false},
		{"prerelease dev", "1.13.0-dev.20240305", false},
		{"build metadata", "1.2.3+build.5", false},
		{"zero version", "0.0.1", false},

		// Invalid versions - injection attempts
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"absolute path", "/etc/passwd", true},
		{"command injection", "1.2.3; rm -rf /", true},
		{"shell substitution", "1.2.3$(whoami)", true},
		{"flag smuggling", "--registry=http://evil", true},
		{"starts with letter", "v1.2.3", true},
		{"uppercase", "1.2.3-BETA", true},
		{"spaces", "1.2 .3", true},
		{"newline", "1.2.3\n4.5.6", true},
		{"consecutive dots", "1..2", true},
		{"too long", "1." + strings.Repeat("2", 70), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
		wantErr bool
	}{
		{"passthrough", "1.2.3", "1.2.3", false},
		{"uppercase normalized", "1.2.3-BETA", "1.2.3-beta", false},
		{"with spaces trimmed", "  1.2.3  ", "1.2.3", false},
		{"invalid rejected", "../1.2.3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeVersion(%q) = %q, want %q", tt.version, got, tt.want)
			}
		})
	}
}
