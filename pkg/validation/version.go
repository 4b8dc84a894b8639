// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths or subprocess calls. Using these validators prevents injection
// attacks (command injection, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// versionPattern matches package version strings as published to npm-style
// registries.
// Allows: digits, lowercase letters, dots, plus signs, hyphens (1.2.3,
// 1.2.3-beta.1, 1.2.3+build.5)
// Must start with a digit so a version can never be mistaken for a CLI flag.
// Max length: 64 characters
var versionPattern = regexp.MustCompile(`^[0-9][0-9a-z.+\-]{0,63}$`)

// ValidateVersion validates a package version string before it is used as a
// directory name or an install-command argument.
//
// Valid versions:
//   - 1-64 characters
//   - Digits 0-9 and lowercase letters a-z
//   - Dots (.) separating numeric components
//   - Hyphens (-) introducing prerelease tags like 1.2.3-beta.1
//   - Plus signs (+) introducing build metadata
//   - First character must be a digit
//
// Returns an error if the version is invalid.
//
// Example:
//
//	if err := validation.ValidateVersion(version); err != nil {
//	    return "", fmt.Errorf("invalid version: %w", err)
//	}
//	// Safe to use in a path and as an install argument
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}

	if !versionPattern.MatchString(version) {
		return fmt.Errorf("invalid version format: %q (must be 1-64 chars, digits, lowercase letters, dots, hyphens, or plus signs, starting with a digit)", version)
	}

	// The pattern already excludes path separators; reject dot runs anyway so
	// a version can never resolve outside its store directory.
	if strings.Contains(version, "..") {
		return fmt.Errorf("invalid version format: %q (consecutive dots)", version)
	}

	return nil
}

// SanitizeVersion normalizes and validates a version string.
// Returns the trimmed, lowercased version if valid, or an error if invalid.
//
// Use this when accepting a version from an external caller:
//
//	safeVersion, err := validation.SanitizeVersion(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeVersion is normalized and validated
func SanitizeVersion(version string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(version))
	if err := ValidateVersion(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
