// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// DefaultHandshakeTimeout bounds the initialize exchange.
const DefaultHandshakeTimeout = 30 * time.Second

// terminateWait bounds each stage of worker teardown.
const terminateWait = 5 * time.Second

// entryPointRelPath locates the language server inside an installed
// version directory.
var entryPointRelPath = filepath.Join("node_modules", "basedpyright", "langserver.index.js")

// Options configures one worker process.
type Options struct {
	// InstallDir is the installed toolchain version directory containing
	// node_modules/basedpyright.
	InstallDir string

	// Version is the toolchain version backing this worker. Logging only.
	Version string

	// ScratchDir is the session-private directory used as the project
	// root. Must already contain the rendered configuration file.
	ScratchDir string

	// ConfigContents is the rendered configuration, repeated in the
	// handshake's virtual file map.
	ConfigContents []byte

	// NodeBin is the node executable. Defaults to "node".
	NodeBin string

	// Locale, when set, is exported as LC_ALL and LANG to the worker and
	// passed in the handshake. Older backend builds only honor the
	// environment form.
	Locale string

	// HandshakeTimeout bounds the initialize exchange. Defaults to
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Worker represents one running basedpyright language-server process bound
// to a single session.
//
// Description:
//
//	Manages the process lifecycle: spawn, initialize handshake, document
//	operations, and teardown. Every exit path (explicit Terminate,
//	process crash, stream close) converges on the same termination
//	notice, delivered at most once to the OnExit callback.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully. Document
//	operations are serialized internally; the session model is one
//	caller, so contention is not expected.
type Worker struct {
	opts Options

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	protocol *Protocol

	state   WorkerState
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}
	procDone chan struct{}

	opMu       sync.Mutex
	docVersion int
	docOpened  bool

	diag diagnosticsRouter

	exitOnce sync.Once
	exitCh   chan struct{}
	exitMu   sync.Mutex
	exited   bool
	exitErr  error
	onExit   func(error)
}

// New creates a worker instance (not started).
func New(opts Options) *Worker {
	return &Worker{
		opts:     opts,
		state:    WorkerStateUninitialized,
		readDone: make(chan struct{}),
		procDone: make(chan struct{}),
		exitCh:   make(chan struct{}),
	}
}

// logger returns the configured logger or the default one.
func (w *Worker) logger() *slog.Logger {
	if w.opts.Logger != nil {
		return w.opts.Logger
	}
	return slog.Default()
}

// Start spawns the worker process and performs the initialize handshake.
//
// Description:
//
//	Locates the node runtime and the language-server entry point, starts
//	the process rooted at the scratch directory, then performs the
//	initialize exchange carrying the virtual file map. The worker is
//	usable only after Start returns nil.
//
// Errors:
//
//	ErrRuntimeNotFound - node is not on PATH.
//	ErrEntryPointNotFound - the install tree lacks the entry point.
//	ErrSpawnFailed - the process could not start.
//	ErrHandshakeFailed - initialize did not complete; the process has
//	been torn down.
//	ErrWorkerAlreadyStarted - Start was already called.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	w.stateMu.Lock()
	if w.state != WorkerStateUninitialized {
		w.stateMu.Unlock()
		return ErrWorkerAlreadyStarted
	}
	w.state = WorkerStateStarting
	w.stateMu.Unlock()

	nodeBin := w.opts.NodeBin
	if nodeBin == "" {
		nodeBin = "node"
	}
	nodePath, err := exec.LookPath(nodeBin)
	if err != nil {
		w.setState(WorkerStateStopped)
		return fmt.Errorf("%w: %s", ErrRuntimeNotFound, nodeBin)
	}

	entryPoint := filepath.Join(w.opts.InstallDir, entryPointRelPath)
	if _, err := os.Stat(entryPoint); err != nil {
		w.setState(WorkerStateStopped)
		return fmt.Errorf("%w: %s", ErrEntryPointNotFound, entryPoint)
	}

	w.logger().Info("Starting worker",
		slog.String("version", w.opts.Version),
		slog.String("entry_point", entryPoint),
		slog.String("scratch_dir", w.opts.ScratchDir),
	)

	// The worker outlives the creation request's context.
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.cmd = exec.CommandContext(w.ctx, nodePath, entryPoint,
		"--stdio",
		fmt.Sprintf("--clientProcessId=%d", os.Getpid()),
	)
	w.cmd.Dir = w.opts.ScratchDir
	w.cmd.Env = os.Environ()
	if w.opts.Locale != "" {
		w.cmd.Env = append(w.cmd.Env,
			"LC_ALL="+w.opts.Locale,
			"LANG="+w.opts.Locale,
		)
	}

	w.stdin, err = w.cmd.StdinPipe()
	if err != nil {
		w.cleanup()
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}

	w.stdout, err = w.cmd.StdoutPipe()
	if err != nil {
		w.cleanup()
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}

	if err := w.cmd.Start(); err != nil {
		w.cleanup()
		recordWorkerSpawn(ctx, false)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	w.protocol = NewProtocol(w.stdout, w.stdin)
	w.protocol.SetNotificationHandler(w.handleNotification)

	go func() {
		defer close(w.readDone)
		if err := w.protocol.ReadLoop(w.ctx); err == ErrWorkerCrashed {
			// Stream close without process exit still tears the
			// session down.
			w.noteTermination(err)
		}
	}()

	go w.watchProcess()

	timeout := w.opts.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}
	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, timeout)
	defer cancelHandshake()

	if err := w.initialize(handshakeCtx); err != nil {
		_ = w.Terminate(context.Background())
		recordWorkerSpawn(ctx, false)
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	w.setState(WorkerStateReady)
	recordWorkerSpawn(ctx, true)

	w.logger().Info("Worker ready",
		slog.String("version", w.opts.Version),
		slog.String("scratch_dir", w.opts.ScratchDir),
	)
	return nil
}

// initialize performs the LSP initialize handshake.
func (w *Worker) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   "file://" + w.opts.ScratchDir,
		RootPath:  w.opts.ScratchDir,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{},
				PublishDiagnostics: &PublishDiagnosticsClientCapabilities{
					VersionSupport: true,
					TagSupport:     &DiagnosticTagSupport{ValueSet: []int{1, 2}},
				},
				Hover: &HoverCapabilities{
					ContentFormat: []string{"markdown", "plaintext"},
				},
				Completion: &CompletionCapabilities{
					CompletionItem: &CompletionItemCapabilities{
						SnippetSupport:      true,
						DocumentationFormat: []string{"markdown", "plaintext"},
						ResolveSupport: &CompletionResolveSupport{
							Properties: []string{"documentation", "detail"},
						},
					},
				},
				SignatureHelp: &SignatureHelpCapabilities{
					SignatureInformation: &SignatureInformationCapabilities{
						DocumentationFormat: []string{"markdown", "plaintext"},
					},
				},
				Rename: &RenameCapabilities{},
			},
		},
		InitializationOptions: &InitializationOptions{
			Files: map[string]string{
				filepath.Join(w.opts.ScratchDir, ConfigFileName): string(w.opts.ConfigContents),
			},
		},
		Locale: w.opts.Locale,
	}

	resp, err := w.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("%w: parse initialize result: %v", ErrInvalidResponse, err)
	}

	if err := w.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// watchProcess waits for the process and reports its exit.
func (w *Worker) watchProcess() {
	err := w.cmd.Wait()
	close(w.procDone)

	state := w.State()
	if state == WorkerStateStopping || state == WorkerStateStopped {
		w.noteTermination(nil)
		return
	}
	if err != nil {
		w.noteTermination(fmt.Errorf("%w: %v", ErrWorkerCrashed, err))
		return
	}
	w.noteTermination(fmt.Errorf("%w: exited without being asked", ErrWorkerCrashed))
}

// noteTermination records the worker's end exactly once, cancels pending
// requests, and fires the OnExit callback.
func (w *Worker) noteTermination(cause error) {
	w.exitOnce.Do(func() {
		close(w.exitCh)
		if w.protocol != nil {
			w.protocol.Close()
		}
		if cause != nil {
			w.logger().Warn("Worker terminated unexpectedly",
				slog.String("version", w.opts.Version),
				slog.String("error", cause.Error()),
			)
			recordWorkerCrash(context.Background())
		}
		w.setState(WorkerStateStopped)

		w.exitMu.Lock()
		w.exited = true
		w.exitErr = cause
		fn := w.onExit
		w.exitMu.Unlock()

		if fn != nil {
			fn(cause)
		}
	})
}

// SetOnExit registers the callback fired when the worker ends for any
// reason. A nil cause means the exit was requested.
//
// Description:
//
//	The callback fires at most once, from the goroutine that observed
//	the exit. If the worker already exited the callback fires
//	immediately on the calling goroutine.
func (w *Worker) SetOnExit(fn func(error)) {
	w.exitMu.Lock()
	if w.exited {
		cause := w.exitErr
		w.exitMu.Unlock()
		if fn != nil {
			fn(cause)
		}
		return
	}
	w.onExit = fn
	w.exitMu.Unlock()
}

// CancelPending aborts all in-flight protocol requests.
//
// Callers waiting in document operations receive a connection-closed
// error. The process itself keeps running until Terminate.
func (w *Worker) CancelPending() {
	if w.protocol != nil {
		w.protocol.Close()
	}
}

// Terminate shuts the worker process down.
//
// Description:
//
//	Attempts the graceful shutdown/exit exchange, closes stdin, then
//	waits for the process with a bounded escalation to SIGKILL. Safe to
//	call repeatedly and concurrently; only the first call acts.
//
// Outputs:
//
//	error - Always nil today; the signature leaves room for reporting.
func (w *Worker) Terminate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.stateMu.Lock()
	if w.state == WorkerStateStopped || w.state == WorkerStateStopping {
		w.stateMu.Unlock()
		return nil
	}
	prev := w.state
	w.state = WorkerStateStopping
	w.stateMu.Unlock()

	if prev == WorkerStateUninitialized {
		w.setState(WorkerStateStopped)
		return nil
	}

	w.logger().Info("Terminating worker",
		slog.String("version", w.opts.Version),
		slog.String("scratch_dir", w.opts.ScratchDir),
	)

	defer w.cleanup()

	if w.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, terminateWait)
		defer cancel()

		// Best-effort graceful exchange; a closed protocol or dead
		// process just falls through to the kill path.
		_, _ = w.protocol.SendRequest(shutdownCtx, "shutdown", nil)
		_ = w.protocol.SendNotification("exit", nil)
		w.protocol.Close()
	}

	if w.stdin != nil {
		_ = w.stdin.Close()
	}

	if w.cmd != nil && w.cmd.Process != nil {
		select {
		case <-w.procDone:
		case <-time.After(terminateWait):
			_ = w.cmd.Process.Kill()
			select {
			case <-w.procDone:
			case <-time.After(terminateWait):
			}
		}
	}

	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.readDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (w *Worker) cleanup() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	if w.stdout != nil {
		_ = w.stdout.Close()
	}
	w.setState(WorkerStateStopped)
}

// setState updates the lifecycle state.
func (w *Worker) setState(state WorkerState) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// State returns the current lifecycle state.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (w *Worker) State() WorkerState {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// ScratchDir returns the session-private project root.
func (w *Worker) ScratchDir() string {
	return w.opts.ScratchDir
}

// Version returns the toolchain version backing this worker.
func (w *Worker) Version() string {
	return w.opts.Version
}

// handleNotification routes server notifications.
func (w *Worker) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "textDocument/publishDiagnostics":
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			w.logger().Warn("malformed publishDiagnostics payload",
				slog.String("error", err.Error()),
			)
			return
		}
		if p.URI != documentURI {
			return
		}
		w.diag.dispatch(p)
	default:
		// window/logMessage and friends are noise at this layer.
	}
}
