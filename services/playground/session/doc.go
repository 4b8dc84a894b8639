// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session tracks live type-checking sessions.
//
// A session pairs an id with a running worker, the pinned toolchain
// install backing it, and the scratch directory it is rooted in. The
// Store owns the whole lifecycle:
//
//	Create ──> Resolver.Resolve ──> Artifacts.EnsureInstalled ──> Launcher.Launch
//	                                                                    │
//	             record inserted only after the worker is Ready <───────┘
//
//	Get    ──> lookup + idle-deadline refresh
//	Close  ──> claim record ──> cancel pending ──> terminate ──> remove scratch ──> release pin
//
// # Lifecycle Rules
//
//   - A session is observable only after its worker finished the
//     handshake. Failed creates leave nothing behind: the pin is
//     released and the launcher removed its own scratch directory.
//   - Close never fails. The record claim is the only gate; everything
//     after it is best effort and logged.
//   - Ending reasons converge: client request, idle timeout, worker
//     crash, and store shutdown all run the same teardown.
//   - The idle reaper runs only while sessions exist. It disarms on an
//     empty registry and Create arms it again.
//
// # Components
//
//   - Store: the registry. Capacity-bounded, crash-aware, idle-reaping.
//   - Session: immutable identity plus the worker handle.
//   - Resolver, Artifacts, Launcher: collaborator seams. Production
//     wiring uses the toolchain and worker packages; tests use fakes.
//   - Clock: injectable time source for the reaper.
//
// # Thread Safety
//
// Store is safe for concurrent use. Session fields are immutable after
// creation except the idle deadline, which the Store guards.
//
// # Example
//
//	store, err := session.NewStore(resolver, artifacts, launcher)
//	if err != nil {
//		return err
//	}
//	defer store.Shutdown(context.Background())
//
//	sess, err := store.Create(ctx, session.Options{Locale: "en"})
//	if err != nil {
//		return err
//	}
//	diags, err := sess.Worker().Diagnostics(ctx, "x: int = \"oops\"")
package session
