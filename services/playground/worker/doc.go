// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker manages basedpyright language-server processes, one per
// playground session.
//
// Each worker runs a single node process speaking LSP over stdio, rooted
// at a session-private scratch directory that holds the rendered
// pyrightconfig.json. The worker analyzes exactly one in-memory document;
// every operation pushes the full source text and the backend re-checks it.
//
// # Architecture
//
//	Launcher.Launch
//	     |
//	     v
//	CreateScratch ──> pyrightconfig.json
//	     |
//	     v
//	Worker.Start ──> node langserver.index.js --stdio
//	     |                    ^
//	     v                    | Content-Length framed JSON-RPC
//	initialize handshake <────┘
//	     |
//	     v
//	Diagnostics / Hover / Completion / SignatureHelp / Rename
//
// # Components
//
//   - Launcher: creates the scratch directory and produces ready workers.
//     On any launch failure nothing is left on disk or running.
//   - Worker: process lifecycle and the document operations.
//   - Protocol: JSON-RPC framing, request correlation, notification
//     routing.
//   - ScratchConfig: the knobs rendered into pyrightconfig.json.
//
// # Exit Convergence
//
// A worker ends in one of three ways: explicit Terminate, a process
// crash, or its stdio streams closing. All three paths funnel into a
// single termination notice that cancels pending requests and fires the
// OnExit callback exactly once. Callers register OnExit to reclaim the
// session when the process dies underneath them.
//
// # Thread Safety
//
// All exported Worker methods are safe for concurrent use after Start
// returns. Document operations are serialized internally because they
// share one document.
//
// # Example
//
//	launcher := &worker.Launcher{ScratchRoot: "/tmp/playground"}
//	w, err := launcher.Launch(ctx, worker.LaunchSpec{
//	    InstallDir: dir,
//	    Version:    "1.29.5",
//	    Config:     worker.ScratchConfig{TypeCheckingMode: "strict"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer func() {
//	    _ = w.Terminate(ctx)
//	    _ = worker.RemoveScratch(w.ScratchDir())
//	}()
//
//	diags, err := w.Diagnostics(ctx, "x: int = \"oops\"\n")
package worker
