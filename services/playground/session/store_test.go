// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// advance moves the clock and fires due timers. Callbacks run outside the
// clock lock so they may schedule new timers.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeResolver struct {
	mu        sync.Mutex
	newest    string
	err       error
	requested []string
}

func (r *fakeResolver) Resolve(_ context.Context, requested string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, requested)
	if r.err != nil {
		return "", r.err
	}
	if requested != "" {
		return requested, nil
	}
	return r.newest, nil
}

type fakeArtifacts struct {
	mu   sync.Mutex
	root string
	err  error
	pins int
}

func (a *fakeArtifacts) EnsureInstalled(_ context.Context, version string) (string, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", nil, a.err
	}
	a.pins++
	var once sync.Once
	release := func() {
		once.Do(func() {
			a.mu.Lock()
			a.pins--
			a.mu.Unlock()
		})
	}
	return filepath.Join(a.root, version), release, nil
}

func (a *fakeArtifacts) livePins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pins
}

type fakeHandle struct {
	mu           sync.Mutex
	spec         worker.LaunchSpec
	scratch      string
	cancelled    int
	terminated   int
	terminateErr error
	onExit       func(error)
}

func (h *fakeHandle) CancelPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled++
}

func (h *fakeHandle) Terminate(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated++
	return h.terminateErr
}

func (h *fakeHandle) ScratchDir() string { return h.scratch }

func (h *fakeHandle) Version() string { return h.spec.Version }

func (h *fakeHandle) SetOnExit(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = fn
}

// fireExit simulates the worker process ending.
func (h *fakeHandle) fireExit(cause error) {
	h.mu.Lock()
	fn := h.onExit
	h.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

func (h *fakeHandle) terminations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

func (h *fakeHandle) cancellations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *fakeHandle) Diagnostics(context.Context, string) ([]json.RawMessage, error) {
	return nil, nil
}

func (h *fakeHandle) Hover(context.Context, string, worker.Position) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (h *fakeHandle) Completion(context.Context, string, worker.Position) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (h *fakeHandle) ResolveCompletion(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (h *fakeHandle) SignatureHelp(context.Context, string, worker.Position) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (h *fakeHandle) Rename(context.Context, string, worker.Position, string) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

type fakeLauncher struct {
	mu      sync.Mutex
	root    string
	err     error
	handles []*fakeHandle

	// preFlight runs before the launch completes so tests can race
	// store operations against an in-flight create.
	preFlight func()
}

func (l *fakeLauncher) Launch(_ context.Context, ls worker.LaunchSpec) (Handle, error) {
	if l.preFlight != nil {
		l.preFlight()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}

	// Real scratch directories make the removal in teardown observable.
	scratch, _, err := worker.CreateScratch(l.root, ls.Config)
	if err != nil {
		return nil, err
	}
	h := &fakeHandle{spec: ls, scratch: scratch}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

// =============================================================================
// HARNESS
// =============================================================================

type storeHarness struct {
	store     *Store
	clock     *fakeClock
	resolver  *fakeResolver
	artifacts *fakeArtifacts
	launcher  *fakeLauncher
}

func newStoreHarness(t *testing.T, opts ...StoreOption) *storeHarness {
	t.Helper()

	h := &storeHarness{
		clock:     newFakeClock(),
		resolver:  &fakeResolver{newest: "1.29.5"},
		artifacts: &fakeArtifacts{root: t.TempDir()},
		launcher:  &fakeLauncher{root: t.TempDir()},
	}

	all := append([]StoreOption{
		WithClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	store, err := NewStore(h.resolver, h.artifacts, h.launcher, all...)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	h.store = store
	return h
}

func (h *storeHarness) mustCreate(t *testing.T, opts Options) *Session {
	t.Helper()
	sess, err := h.store.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

// =============================================================================
// TESTS
// =============================================================================

func TestNewStore_Validation(t *testing.T) {
	res := &fakeResolver{}
	arts := &fakeArtifacts{}
	launch := &fakeLauncher{}

	if _, err := NewStore(nil, arts, launch); err == nil {
		t.Error("NewStore(nil resolver) error = nil, want non-nil")
	}
	if _, err := NewStore(res, nil, launch); err == nil {
		t.Error("NewStore(nil artifacts) error = nil, want non-nil")
	}
	if _, err := NewStore(res, arts, nil); err == nil {
		t.Error("NewStore(nil launcher) error = nil, want non-nil")
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	h := newStoreHarness(t)
	defer h.store.Shutdown(context.Background())

	sess := h.mustCreate(t, Options{Version: "1.28.0", Locale: "fr"})

	if sess.ID() == "" {
		t.Error("ID() is empty")
	}
	if sess.Version() != "1.28.0" {
		t.Errorf("Version() = %q, want %q", sess.Version(), "1.28.0")
	}
	if got := sess.Options().Locale; got != "fr" {
		t.Errorf("Options().Locale = %q, want %q", got, "fr")
	}
	if sess.Worker() == nil {
		t.Fatal("Worker() is nil")
	}
	if h.store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.store.Count())
	}

	t.Run("get returns the same session", func(t *testing.T) {
		got, err := h.store.Get(context.Background(), sess.ID())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != sess {
			t.Error("Get() returned a different session")
		}
	})

	t.Run("get rejects unknown ids", func(t *testing.T) {
		_, err := h.store.Get(context.Background(), "no-such-session")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("launch spec carries the session options", func(t *testing.T) {
		spec := h.launcher.handle(0).spec
		if spec.Version != "1.28.0" {
			t.Errorf("LaunchSpec.Version = %q, want %q", spec.Version, "1.28.0")
		}
		if spec.Locale != "fr" {
			t.Errorf("LaunchSpec.Locale = %q, want %q", spec.Locale, "fr")
		}
		if want := filepath.Join(h.artifacts.root, "1.28.0"); spec.InstallDir != want {
			t.Errorf("LaunchSpec.InstallDir = %q, want %q", spec.InstallDir, want)
		}
	})

	t.Run("nil context is rejected", func(t *testing.T) {
		if _, err := h.store.Create(nil, Options{}); !errors.Is(err, ErrNilContext) { //nolint:staticcheck
			t.Errorf("Create(nil) error = %v, want ErrNilContext", err)
		}
		if _, err := h.store.Get(nil, sess.ID()); !errors.Is(err, ErrNilContext) { //nolint:staticcheck
			t.Errorf("Get(nil) error = %v, want ErrNilContext", err)
		}
	})
}

func TestStore_CreateResolvesNewestStable(t *testing.T) {
	h := newStoreHarness(t)
	defer h.store.Shutdown(context.Background())

	sess := h.mustCreate(t, Options{})

	if sess.Version() != "1.29.5" {
		t.Errorf("Version() = %q, want %q", sess.Version(), "1.29.5")
	}
	if len(h.resolver.requested) != 1 || h.resolver.requested[0] != "" {
		t.Errorf("resolver saw %v, want one empty request", h.resolver.requested)
	}
}

func TestStore_CreateFailuresLeaveNoResidue(t *testing.T) {
	t.Run("resolution failure", func(t *testing.T) {
		h := newStoreHarness(t)
		h.resolver.err = errors.New("registry unreachable")

		_, err := h.store.Create(context.Background(), Options{})
		if err == nil {
			t.Fatal("Create() error = nil, want non-nil")
		}
		if h.store.Count() != 0 {
			t.Errorf("Count() = %d, want 0", h.store.Count())
		}
		if h.artifacts.livePins() != 0 {
			t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
		}
	})

	t.Run("install failure", func(t *testing.T) {
		h := newStoreHarness(t)
		h.artifacts.err = errors.New("disk full")

		_, err := h.store.Create(context.Background(), Options{})
		if err == nil {
			t.Fatal("Create() error = nil, want non-nil")
		}
		if h.store.Count() != 0 {
			t.Errorf("Count() = %d, want 0", h.store.Count())
		}
	})

	t.Run("launch failure releases the pin", func(t *testing.T) {
		h := newStoreHarness(t)
		h.launcher.err = errors.New("node not found")

		_, err := h.store.Create(context.Background(), Options{})
		if err == nil {
			t.Fatal("Create() error = nil, want non-nil")
		}
		if h.store.Count() != 0 {
			t.Errorf("Count() = %d, want 0", h.store.Count())
		}
		if h.artifacts.livePins() != 0 {
			t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
		}
	})

	t.Run("failed creates do not leak capacity", func(t *testing.T) {
		h := newStoreHarness(t, WithMaxSessions(1))
		defer h.store.Shutdown(context.Background())

		h.launcher.err = errors.New("boom")
		if _, err := h.store.Create(context.Background(), Options{}); err == nil {
			t.Fatal("Create() error = nil, want non-nil")
		}

		h.launcher.err = nil
		h.mustCreate(t, Options{})
	})
}

func TestStore_Close(t *testing.T) {
	h := newStoreHarness(t)
	defer h.store.Shutdown(context.Background())

	sess := h.mustCreate(t, Options{})
	handle := h.launcher.handle(0)
	scratch := handle.ScratchDir()

	if _, err := os.Stat(scratch); err != nil {
		t.Fatalf("scratch dir missing before close: %v", err)
	}

	h.store.Close(context.Background(), sess.ID())

	if h.store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.store.Count())
	}
	if handle.cancellations() != 1 {
		t.Errorf("cancellations = %d, want 1", handle.cancellations())
	}
	if handle.terminations() != 1 {
		t.Errorf("terminations = %d, want 1", handle.terminations())
	}
	if h.artifacts.livePins() != 0 {
		t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch dir still present after close: %v", err)
	}
	if _, err := h.store.Get(context.Background(), sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after close error = %v, want ErrSessionNotFound", err)
	}

	t.Run("repeat close is a no-op", func(t *testing.T) {
		h.store.Close(context.Background(), sess.ID())
		if handle.terminations() != 1 {
			t.Errorf("terminations after repeat close = %d, want 1", handle.terminations())
		}
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		h.store.Close(context.Background(), "no-such-session")
	})
}

func TestStore_CloseSurvivesTerminateFailure(t *testing.T) {
	h := newStoreHarness(t)
	defer h.store.Shutdown(context.Background())

	sess := h.mustCreate(t, Options{})
	handle := h.launcher.handle(0)
	handle.terminateErr = errors.New("process already gone")

	h.store.Close(context.Background(), sess.ID())

	if h.store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.store.Count())
	}
	if h.artifacts.livePins() != 0 {
		t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
	}
}

func TestStore_IdleReaper(t *testing.T) {
	h := newStoreHarness(t)
	defer h.store.Shutdown(context.Background())

	sess := h.mustCreate(t, Options{})
	if h.clock.pendingTimers() != 1 {
		t.Fatalf("pendingTimers() after create = %d, want 1", h.clock.pendingTimers())
	}

	// Touch at 30s so the sweep at 60s sees only 30s of idleness.
	h.clock.advance(30 * time.Second)
	if _, err := h.store.Get(context.Background(), sess.ID()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	h.clock.advance(30 * time.Second)
	if h.store.Count() != 1 {
		t.Fatalf("Count() after first sweep = %d, want 1", h.store.Count())
	}
	if h.clock.pendingTimers() != 1 {
		t.Fatalf("pendingTimers() after first sweep = %d, want 1", h.clock.pendingTimers())
	}

	// No touches before the next sweep, so the session goes.
	h.clock.advance(time.Minute)
	if h.store.Count() != 0 {
		t.Fatalf("Count() after second sweep = %d, want 0", h.store.Count())
	}
	if h.launcher.handle(0).terminations() != 1 {
		t.Errorf("terminations = %d, want 1", h.launcher.handle(0).terminations())
	}

	t.Run("reaper disarms on empty registry", func(t *testing.T) {
		if h.clock.pendingTimers() != 0 {
			t.Errorf("pendingTimers() = %d, want 0", h.clock.pendingTimers())
		}
		h.clock.advance(10 * time.Minute)
	})

	t.Run("create arms the reaper again", func(t *testing.T) {
		h.mustCreate(t, Options{})
		if h.clock.pendingTimers() != 1 {
			t.Errorf("pendingTimers() = %d, want 1", h.clock.pendingTimers())
		}
	})

	t.Run("close of the last session disarms the reaper", func(t *testing.T) {
		h.store.Close(context.Background(), h.lastSessionID(t))
		if h.clock.pendingTimers() != 0 {
			t.Errorf("pendingTimers() = %d, want 0", h.clock.pendingTimers())
		}
	})
}

// lastSessionID returns the id of the single live session.
func (h *storeHarness) lastSessionID(t *testing.T) string {
	t.Helper()
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.sessions) != 1 {
		t.Fatalf("live sessions = %d, want 1", len(h.store.sessions))
	}
	for id := range h.store.sessions {
		return id
	}
	return ""
}

func TestStore_CrashReclaimsSession(t *testing.T) {
	h := newStoreHarness(t)
	defer h.store.Shutdown(context.Background())

	sess := h.mustCreate(t, Options{})
	handle := h.launcher.handle(0)
	scratch := handle.ScratchDir()

	t.Run("clean exits do not remove the record", func(t *testing.T) {
		handle.fireExit(nil)
		if h.store.Count() != 1 {
			t.Errorf("Count() = %d, want 1", h.store.Count())
		}
	})

	t.Run("crash removes the record and frees resources", func(t *testing.T) {
		handle.fireExit(errors.New("simulated crash"))

		if h.store.Count() != 0 {
			t.Errorf("Count() = %d, want 0", h.store.Count())
		}
		if h.artifacts.livePins() != 0 {
			t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
		}
		if _, err := os.Stat(scratch); !os.IsNotExist(err) {
			t.Errorf("scratch dir still present after crash: %v", err)
		}
		if _, err := h.store.Get(context.Background(), sess.ID()); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("repeat crash callbacks are no-ops", func(t *testing.T) {
		handle.fireExit(errors.New("simulated crash"))
		if h.store.Count() != 0 {
			t.Errorf("Count() = %d, want 0", h.store.Count())
		}
	})
}

func TestStore_MaxSessions(t *testing.T) {
	h := newStoreHarness(t, WithMaxSessions(2))
	defer h.store.Shutdown(context.Background())

	first := h.mustCreate(t, Options{})
	h.mustCreate(t, Options{})

	_, err := h.store.Create(context.Background(), Options{})
	if !errors.Is(err, ErrTooManySessions) {
		t.Errorf("Create() error = %v, want ErrTooManySessions", err)
	}

	t.Run("closing a session frees a slot", func(t *testing.T) {
		h.store.Close(context.Background(), first.ID())
		h.mustCreate(t, Options{})
	})
}

func TestStore_Shutdown(t *testing.T) {
	h := newStoreHarness(t)

	h.mustCreate(t, Options{})
	h.mustCreate(t, Options{})

	h.store.Shutdown(context.Background())

	if h.store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.store.Count())
	}
	if h.artifacts.livePins() != 0 {
		t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
	}
	for i := 0; i < 2; i++ {
		if h.launcher.handle(i).terminations() != 1 {
			t.Errorf("handle %d terminations = %d, want 1", i, h.launcher.handle(i).terminations())
		}
	}
	if h.clock.pendingTimers() != 0 {
		t.Errorf("pendingTimers() = %d, want 0", h.clock.pendingTimers())
	}

	t.Run("create after shutdown is refused", func(t *testing.T) {
		_, err := h.store.Create(context.Background(), Options{})
		if !errors.Is(err, ErrStoreClosed) {
			t.Errorf("Create() error = %v, want ErrStoreClosed", err)
		}
	})

	t.Run("repeat shutdown is a no-op", func(t *testing.T) {
		h.store.Shutdown(context.Background())
	})
}

func TestStore_ShutdownDuringCreate(t *testing.T) {
	h := newStoreHarness(t)

	// Shut the store down while the launch is still in flight. The create
	// must notice, tear its fresh worker down, and report the closure.
	h.launcher.preFlight = func() {
		h.launcher.preFlight = nil
		h.store.Shutdown(context.Background())
	}

	_, err := h.store.Create(context.Background(), Options{})
	if !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("Create() error = %v, want ErrStoreClosed", err)
	}
	if h.store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.store.Count())
	}
	if h.launcher.handle(0).terminations() != 1 {
		t.Errorf("terminations = %d, want 1", h.launcher.handle(0).terminations())
	}
	if h.artifacts.livePins() != 0 {
		t.Errorf("livePins() = %d, want 0", h.artifacts.livePins())
	}
}
