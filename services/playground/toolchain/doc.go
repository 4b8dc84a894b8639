// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolchain resolves, installs, and caches versions of the
// basedpyright language-server package.
//
// Every playground session runs against a specific basedpyright version.
// The toolchain layer turns an optional requested version into a concrete
// one, makes sure that version exists on disk, and keeps the disk footprint
// bounded with least-recently-used eviction.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Session Create                        │
//	│                                                              │
//	│  Resolver ──► Store.EnsureInstalled ──► Installer (npm)      │
//	│  (registry)   (pin + LRU eviction)      (once per version)   │
//	└──────────────────────────────────────────────────────────────┘
//
//	{root}/versions/{version}/node_modules/basedpyright/...
//	{root}/index                          (BadgerDB usage records)
//
// # Components
//
//   - Resolver: Picks the newest stable release when no version is named
//   - NPMRegistry: Reads published versions from an npm registry
//   - Store: Owns the versions directory, pins, and eviction
//   - NPMInstaller: Materializes one version with the npm CLI
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	store, err := toolchain.NewStore("/var/lib/playground", &toolchain.NPMInstaller{
//		Package: "basedpyright",
//	})
//	defer store.Close()
//
//	dir, release, err := store.EnsureInstalled(ctx, "1.13.0")
//	defer release()
package toolchain
