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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/DetachHead/basedpyright-playground/services/playground/worker"
)

// Registry defaults.
const (
	// DefaultIdleTimeout is how long a session may go untouched before
	// the reaper reclaims it.
	DefaultIdleTimeout = time.Minute

	// DefaultSweepInterval is how often the reaper looks for idle
	// sessions while any exist.
	DefaultSweepInterval = time.Minute

	// DefaultMaxSessions bounds concurrent sessions.
	DefaultMaxSessions = 64
)

// Close reasons, recorded on metrics and logs.
const (
	closeReasonRequested = "requested"
	closeReasonIdle      = "idle"
	closeReasonCrashed   = "crashed"
	closeReasonShutdown  = "shutdown"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the session registry.
//
// Description:
//
//	Owns the full session lifecycle: resolve the toolchain version, pin
//	an installed copy, launch a worker, and register the session only
//	once all of that succeeded. Sessions end on request, on worker
//	crash, or when the idle reaper reclaims them; every path runs the
//	same teardown and teardown never fails from the caller's view.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	resolver  Resolver
	artifacts Artifacts
	launcher  Launcher

	clock       Clock
	logger      *slog.Logger
	maxSessions int
	idleTimeout time.Duration
	sweepEvery  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	creating int
	reaper   Timer
	closed   bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock substitutes the time source. Intended for tests.
func WithClock(c Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithMaxSessions bounds concurrent sessions. Zero or negative removes
// the bound.
func WithMaxSessions(n int) StoreOption {
	return func(s *Store) { s.maxSessions = n }
}

// WithIdleTimeout sets how long a session may go untouched.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTimeout = d }
}

// WithSweepInterval sets how often the reaper runs.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.sweepEvery = d }
}

// NewStore creates a session registry.
//
// Inputs:
//
//	resolver - Version resolution
//	artifacts - Installed toolchain store
//	launcher - Worker launcher
//	opts - Optional configuration
//
// Outputs:
//
//	*Store - The registry
//	error - Non-nil if a collaborator is missing
func NewStore(resolver Resolver, artifacts Artifacts, launcher Launcher, opts ...StoreOption) (*Store, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver must not be nil")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifacts must not be nil")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher must not be nil")
	}

	s := &Store{
		resolver:    resolver,
		artifacts:   artifacts,
		launcher:    launcher,
		clock:       systemClock{},
		logger:      slog.Default(),
		maxSessions: DefaultMaxSessions,
		idleTimeout: DefaultIdleTimeout,
		sweepEvery:  DefaultSweepInterval,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create builds a new session.
//
// Description:
//
//	Resolves the toolchain version, pins an installed copy, and launches
//	a worker. The session becomes visible to Get only after the worker
//	completed its handshake; no half-born session is ever observable. On
//	any failure the pin is released and the launcher has already cleaned
//	up after itself.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	opts - What to create
//
// Outputs:
//
//	*Session - The registered session
//	error - Non-nil on failure
//
// Errors:
//
//	ErrTooManySessions - the registry is at capacity.
//	ErrStoreClosed - Shutdown has run.
//	Resolution, install, spawn, and handshake failures pass through
//	wrapped, with their package sentinels intact for errors.Is.
func (s *Store) Create(ctx context.Context, opts Options) (*Session, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	ctx, span := startSessionSpan(ctx, "Create")
	defer span.End()
	start := time.Now()

	if err := s.reserveSlot(); err != nil {
		recordSessionCreate(ctx, time.Since(start), false)
		return nil, err
	}

	version, err := s.resolver.Resolve(ctx, opts.Version)
	if err != nil {
		s.releaseSlot()
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		recordSessionCreate(ctx, time.Since(start), false)
		return nil, fmt.Errorf("resolve version: %w", err)
	}

	installDir, release, err := s.artifacts.EnsureInstalled(ctx, version)
	if err != nil {
		s.releaseSlot()
		span.RecordError(err)
		span.SetStatus(codes.Error, "install failed")
		recordSessionCreate(ctx, time.Since(start), false)
		return nil, fmt.Errorf("ensure installed: %w", err)
	}

	handle, err := s.launcher.Launch(ctx, worker.LaunchSpec{
		InstallDir: installDir,
		Version:    version,
		Config:     opts.Config,
		Locale:     opts.Locale,
	})
	if err != nil {
		release()
		s.releaseSlot()
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		recordSessionCreate(ctx, time.Since(start), false)
		return nil, fmt.Errorf("launch worker: %w", err)
	}

	now := s.clock.Now()
	sess := &Session{
		id:        uuid.NewString(),
		version:   version,
		opts:      opts,
		createdAt: now,
		lastUsed:  now,
		worker:    handle,
		release:   release,
	}

	s.mu.Lock()
	s.creating--
	if s.closed {
		s.mu.Unlock()
		s.teardown(ctx, sess, closeReasonShutdown)
		recordSessionCreate(ctx, time.Since(start), false)
		return nil, ErrStoreClosed
	}
	s.sessions[sess.id] = sess
	s.armReaperLocked()
	s.mu.Unlock()

	recordActiveSessions(ctx, 1)

	// A crash anywhere after this point reclaims the session through the
	// same path a client close takes. If the worker already died the
	// callback replays immediately.
	handle.SetOnExit(func(cause error) {
		if cause == nil {
			return
		}
		s.logger.Warn("Worker died, reclaiming session",
			slog.String("session_id", sess.id),
			slog.String("error", cause.Error()),
		)
		s.remove(context.Background(), sess.id, closeReasonCrashed)
	})

	recordSessionCreate(ctx, time.Since(start), true)

	s.logger.Info("Session created",
		slog.String("session_id", sess.id),
		slog.String("version", version),
	)
	return sess, nil
}

// Get returns a session and refreshes its idle deadline.
//
// Errors:
//
//	ErrSessionNotFound - no session has this id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.lastUsed = s.clock.Now()
	return sess, nil
}

// Close ends a session.
//
// Description:
//
//	Cancels pending work, terminates the worker, removes the scratch
//	directory, and drops the record. Every step past the record claim is
//	best effort; failures are logged and swallowed. Unknown ids and
//	repeat calls are no-ops. Close never fails.
func (s *Store) Close(ctx context.Context, id string) {
	s.remove(ctx, id, closeReasonRequested)
}

// remove claims the record and tears the session down.
func (s *Store) remove(ctx context.Context, id, reason string) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		if len(s.sessions) == 0 {
			s.disarmReaperLocked()
		}
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	recordActiveSessions(ctx, -1)
	s.teardown(ctx, sess, reason)
}

// teardown releases everything a session owns. Never fails; the record is
// already gone, so each step just logs on error.
func (s *Store) teardown(ctx context.Context, sess *Session, reason string) {
	sess.worker.CancelPending()

	if err := sess.worker.Terminate(ctx); err != nil {
		s.logger.Warn("Worker termination failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
	}

	if dir := sess.worker.ScratchDir(); dir != "" {
		if err := worker.RemoveScratch(dir); err != nil {
			s.logger.Warn("Scratch removal failed",
				slog.String("session_id", sess.id),
				slog.String("scratch_dir", dir),
				slog.String("error", err.Error()),
			)
		}
	}

	if sess.release != nil {
		sess.release()
	}

	recordSessionClose(ctx, reason)

	s.logger.Info("Session closed",
		slog.String("session_id", sess.id),
		slog.String("reason", reason),
	)
}

// Shutdown ends every session and refuses new ones.
//
// Safe to call repeatedly. Blocks until all teardowns finish.
func (s *Store) Shutdown(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.disarmReaperLocked()
	victims := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		delete(s.sessions, id)
		victims = append(victims, sess)
	}
	s.mu.Unlock()

	s.logger.Info("Session store shutting down",
		slog.Int("sessions", len(victims)),
	)
	recordActiveSessions(ctx, -int64(len(victims)))

	var wg sync.WaitGroup
	for _, sess := range victims {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			s.teardown(ctx, sess, closeReasonShutdown)
		}(sess)
	}
	wg.Wait()
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// =============================================================================
// CAPACITY
// =============================================================================

// reserveSlot accounts for an in-flight create so concurrent creates
// cannot overshoot the capacity bound.
func (s *Store) reserveSlot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.maxSessions > 0 && len(s.sessions)+s.creating >= s.maxSessions {
		return fmt.Errorf("%w: limit %d", ErrTooManySessions, s.maxSessions)
	}
	s.creating++
	return nil
}

// releaseSlot undoes reserveSlot after a failed create.
func (s *Store) releaseSlot() {
	s.mu.Lock()
	s.creating--
	s.mu.Unlock()
}

// =============================================================================
// IDLE REAPER
// =============================================================================

// armReaperLocked schedules a sweep if none is scheduled. Caller holds mu.
func (s *Store) armReaperLocked() {
	if s.reaper != nil || s.closed {
		return
	}
	s.reaper = s.clock.AfterFunc(s.sweepEvery, s.sweep)
}

// disarmReaperLocked cancels the scheduled sweep. Caller holds mu.
func (s *Store) disarmReaperLocked() {
	if s.reaper != nil {
		s.reaper.Stop()
		s.reaper = nil
	}
}

// sweep reclaims sessions idle past the threshold, then re-arms itself
// while any session remains. The timer stays disarmed on an empty
// registry; Create arms it again.
func (s *Store) sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.reaper = nil
		s.mu.Unlock()
		return
	}

	var victims []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) >= s.idleTimeout {
			delete(s.sessions, id)
			victims = append(victims, sess)
		}
	}

	if len(s.sessions) > 0 {
		s.reaper = s.clock.AfterFunc(s.sweepEvery, s.sweep)
	} else {
		s.reaper = nil
	}
	s.mu.Unlock()

	if len(victims) > 0 {
		recordActiveSessions(context.Background(), -int64(len(victims)))
	}
	for _, sess := range victims {
		s.logger.Info("Reclaiming idle session",
			slog.String("session_id", sess.id),
		)
		s.teardown(context.Background(), sess, closeReasonIdle)
	}
}
