// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolchain

import "errors"

// Sentinel errors for toolchain operations.
var (
	// ErrNilContext indicates a nil context was passed to a public method.
	ErrNilContext = errors.New("ctx must not be nil")

	// ErrResolveFailed indicates no concrete version could be determined
	// from the package index.
	ErrResolveFailed = errors.New("version resolution failed")

	// ErrNoStableVersion indicates the package index returned only
	// prerelease versions.
	ErrNoStableVersion = errors.New("no stable version available")

	// ErrInstallFailed indicates the installer could not materialize the
	// requested version.
	ErrInstallFailed = errors.New("toolchain install failed")

	// ErrInvalidVersion indicates a version string failed validation.
	ErrInvalidVersion = errors.New("invalid toolchain version")

	// ErrStoreClosed indicates the artifact store has been shut down.
	ErrStoreClosed = errors.New("artifact store closed")
)
