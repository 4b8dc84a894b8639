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

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"github.com/DetachHead/basedpyright-playground/pkg/validation"
)

// Store manages installed backend versions under a root directory.
//
// Description:
//
//	Each version lives in {root}/versions/{version} and is installed at
//	most once. The store keeps the newest-used DefaultCapacity versions
//	and evicts the least recently used unpinned version after each
//	install. Usage timestamps persist in a BadgerDB index under
//	{root}/index so eviction order survives restarts.
//
// Thread Safety:
//
//	Safe for concurrent use. The entry map and last-used timestamps are
//	guarded by mu; installs are serialized per version via singleflight;
//	pin counts use atomics so releasing never takes the store lock.
type Store struct {
	root        string
	versionsDir string
	capacity    int
	now         func() time.Time
	logger      *slog.Logger

	installer Installer
	index     *usageIndex

	mu      sync.Mutex
	entries map[string]*versionEntry
	watcher *storeWatcher

	flight singleflight.Group

	closed    int32
	closeOnce sync.Once

	// Stats
	hits            int64
	installs        int64
	installFailures int64
	evictions       int64
}

// NewStore opens the artifact store rooted at root.
//
// Description:
//
//	Creates the versions directory if needed, opens the usage index, and
//	reconciles the two: directories without an index record are adopted
//	with a zero last-used timestamp (first in line for eviction), and
//	index records without a directory are dropped. No eviction happens at
//	open; the capacity bound is enforced only after installs.
//
// Inputs:
//
//	root - Directory that owns the versions tree and the usage index.
//	installer - Materializes a version into a directory. Required.
//
// Outputs:
//
//	*Store - The opened store.
//	error - Non-nil if the versions directory cannot be created or read.
func NewStore(root string, installer Installer, opts ...StoreOption) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root must not be empty")
	}
	if installer == nil {
		return nil, fmt.Errorf("installer must not be nil")
	}

	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}

	versionsDir := filepath.Join(root, "versions")
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create versions dir: %w", err)
	}

	index, err := openUsageIndex(filepath.Join(root, "index"), o.syncIndex, o.logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:        root,
		versionsDir: versionsDir,
		capacity:    o.capacity,
		now:         o.now,
		logger:      o.logger,
		installer:   installer,
		index:       index,
		entries:     make(map[string]*versionEntry),
	}

	if err := s.reconcile(context.Background()); err != nil {
		index.Close()
		return nil, err
	}
	return s, nil
}

// reconcile aligns the in-memory entry map with the versions directory and
// the usage index. The directory listing is the source of truth.
func (s *Store) reconcile(ctx context.Context) error {
	saved, err := s.index.load(ctx)
	if err != nil {
		s.logger.Warn("usage index unreadable, treating installed versions as unused",
			slog.String("error", err.Error()),
		)
		saved = map[string]time.Time{}
	}

	dirEntries, err := os.ReadDir(s.versionsDir)
	if err != nil {
		return fmt.Errorf("scan versions dir: %w", err)
	}

	adopted := 0
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		version := de.Name()
		lastUsed, known := saved[version]
		if !known {
			adopted++
		}
		s.entries[version] = &versionEntry{
			version:  version,
			dir:      filepath.Join(s.versionsDir, version),
			lastUsed: lastUsed,
		}
	}

	for version := range saved {
		if _, ok := s.entries[version]; ok {
			continue
		}
		if err := s.index.remove(ctx, version); err != nil {
			s.logger.Warn("failed to drop stale usage record",
				slog.String("version", version),
				slog.String("error", err.Error()),
			)
		}
	}

	recordInstalledDelta(ctx, int64(len(s.entries)))
	s.logger.Info("Toolchain store opened",
		slog.String("root", s.root),
		slog.Int("installed", len(s.entries)),
		slog.Int("adopted", adopted),
		slog.Int("capacity", s.capacity),
	)
	return nil
}

// EnsureInstalled returns the directory holding the given version,
// installing it first if necessary.
//
// Description:
//
//	Present versions are returned without touching the installer, however
//	stale they are; only absent versions trigger an install. Concurrent
//	calls for the same version share one install. The returned release
//	function unpins the version and MUST be called when the session using
//	it ends.
//
// Outputs:
//
//	string - Directory containing the installed artifact tree.
//	func() - Release function; safe to call exactly once per caller.
//	error - ErrInvalidVersion, ErrInstallFailed, or ErrStoreClosed.
func (s *Store) EnsureInstalled(ctx context.Context, version string) (string, func(), error) {
	if ctx == nil {
		return "", nil, ErrNilContext
	}
	if atomic.LoadInt32(&s.closed) == 1 {
		return "", nil, ErrStoreClosed
	}
	if err := validation.ValidateVersion(version); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}

	// Fast path: the version is already on disk.
	if dir, release, ok := s.touch(ctx, version); ok {
		atomic.AddInt64(&s.hits, 1)
		recordCacheHit(ctx)
		return dir, release, nil
	}
	recordCacheMiss(ctx)

	// At most one install per version; concurrent callers wait for it.
	// Each caller then pins the entry itself, so a shared flight result
	// never carries someone else's reference.
	for attempt := 0; attempt < 2; attempt++ {
		_, err, _ := s.flight.Do(version, func() (interface{}, error) {
			s.mu.Lock()
			_, exists := s.entries[version]
			s.mu.Unlock()
			if exists {
				return nil, nil
			}
			return nil, s.install(ctx, version)
		})
		if err != nil {
			return "", nil, err
		}
		if dir, release, ok := s.touch(ctx, version); ok {
			return dir, release, nil
		}
		// The fresh install lost a capacity race before this caller
		// could pin it. Run the flight again.
	}
	return "", nil, fmt.Errorf("%w: version %s was evicted before it could be pinned", ErrInstallFailed, version)
}

// touch bumps the last-used timestamp and pins the version.
//
// The pin is acquired under the store lock, before any suspension point,
// so eviction can never select a version a caller has been handed.
func (s *Store) touch(ctx context.Context, version string) (string, func(), bool) {
	s.mu.Lock()
	e, ok := s.entries[version]
	if !ok {
		s.mu.Unlock()
		return "", nil, false
	}
	now := s.now()
	e.lastUsed = now
	e.acquire()
	dir := e.dir
	s.mu.Unlock()

	if err := s.index.put(ctx, version, now); err != nil {
		s.logger.Warn("failed to persist usage bump",
			slog.String("version", version),
			slog.String("error", err.Error()),
		)
	}

	var once sync.Once
	release := func() {
		once.Do(e.release)
	}
	return dir, release, true
}

// install materializes a version, inserts it, and enforces the capacity
// bound. Runs inside the per-version singleflight.
func (s *Store) install(ctx context.Context, version string) error {
	ctx, span := startInstallSpan(ctx, version)
	defer span.End()

	dir := filepath.Join(s.versionsDir, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrInstallFailed, dir, err)
	}

	start := time.Now()
	if err := s.installer.Install(ctx, version, dir); err != nil {
		atomic.AddInt64(&s.installFailures, 1)
		recordInstall(ctx, time.Since(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "install failed")

		// Leave no partial tree behind.
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warn("failed to remove partial install",
				slog.String("dir", dir),
				slog.String("error", rmErr.Error()),
			)
		}
		return fmt.Errorf("%w: version %s: %v", ErrInstallFailed, version, err)
	}

	now := s.now()
	s.mu.Lock()
	s.entries[version] = &versionEntry{version: version, dir: dir, lastUsed: now}
	victims := s.evictLocked(version)
	s.mu.Unlock()

	atomic.AddInt64(&s.installs, 1)
	recordInstall(ctx, time.Since(start), true)
	recordInstalledDelta(ctx, 1)

	if err := s.index.put(ctx, version, now); err != nil {
		s.logger.Warn("failed to persist install record",
			slog.String("version", version),
			slog.String("error", err.Error()),
		)
	}
	for _, victim := range victims {
		s.removeVersion(ctx, victim)
	}
	return nil
}

// evictLocked removes entries from the map until the capacity bound holds,
// returning them for filesystem cleanup outside the lock.
//
// Eviction order is least recently used first, ties broken by ascending
// version string. Pinned entries and the version named by keep are never
// selected. Callers must hold s.mu.
func (s *Store) evictLocked(keep string) []*versionEntry {
	var victims []*versionEntry
	for len(s.entries) > s.capacity {
		var victim *versionEntry
		for _, e := range s.entries {
			if e.version == keep || e.inUse() {
				continue
			}
			if victim == nil || evictBefore(e, victim) {
				victim = e
			}
		}
		if victim == nil {
			s.logger.Warn("capacity exceeded but every version is pinned",
				slog.Int("installed", len(s.entries)),
				slog.Int("capacity", s.capacity),
			)
			break
		}
		delete(s.entries, victim.version)
		victims = append(victims, victim)
	}
	return victims
}

// evictBefore reports whether a should be evicted before b.
func evictBefore(a, b *versionEntry) bool {
	if a.lastUsed.Equal(b.lastUsed) {
		return a.version < b.version
	}
	return a.lastUsed.Before(b.lastUsed)
}

// removeVersion deletes an evicted entry's directory and index record.
// Failures are logged, never surfaced; the entry is already unreachable.
func (s *Store) removeVersion(ctx context.Context, e *versionEntry) {
	if err := os.RemoveAll(e.dir); err != nil {
		s.logger.Warn("failed to remove evicted version",
			slog.String("version", e.version),
			slog.String("dir", e.dir),
			slog.String("error", err.Error()),
		)
	}
	if err := s.index.remove(ctx, e.version); err != nil {
		s.logger.Warn("failed to drop evicted usage record",
			slog.String("version", e.version),
			slog.String("error", err.Error()),
		)
	}
	atomic.AddInt64(&s.evictions, 1)
	recordEviction(ctx)
	recordInstalledDelta(ctx, -1)
	s.logger.Info("Evicted toolchain version",
		slog.String("version", e.version),
		slog.Time("last_used", e.lastUsed),
	)
}

// Installed returns a snapshot of every installed version, newest first.
func (s *Store) Installed() []InstalledVersion {
	s.mu.Lock()
	out := make([]InstalledVersion, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, InstalledVersion{
			Version:    e.version,
			Directory:  e.dir,
			LastUsedAt: e.lastUsed,
			Pinned:     e.inUse(),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return semver.Compare("v"+out[i].Version, "v"+out[j].Version) > 0
	})
	return out
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	installed := len(s.entries)
	s.mu.Unlock()

	return StoreStats{
		Installed:       installed,
		Hits:            atomic.LoadInt64(&s.hits),
		Installs:        atomic.LoadInt64(&s.installs),
		InstallFailures: atomic.LoadInt64(&s.installFailures),
		Evictions:       atomic.LoadInt64(&s.evictions),
	}
}

// Close shuts down the store. Installed versions stay on disk for the next
// start; only the watcher and the index database are torn down.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)

		s.mu.Lock()
		w := s.watcher
		s.watcher = nil
		s.mu.Unlock()
		if w != nil {
			w.stop()
		}

		err = s.index.Close()
	})
	return err
}
