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
	"log/slog"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	// DefaultCapacity is the maximum number of installed versions kept on
	// disk. Enforced after each successful install, so the store may briefly
	// hold DefaultCapacity+1 directories while an eviction pass runs.
	DefaultCapacity = 20

	// DefaultVersionLimit caps how many versions a listing query returns.
	DefaultVersionLimit = 50
)

// versionEntry represents one installed copy of the backend package.
//
// Thread Safety:
//
//	lastUsed is guarded by the owning Store's mutex. The reference count
//	uses atomics so releases never need the store lock.
type versionEntry struct {
	// version is the unique version string, also the directory name.
	version string

	// dir is the absolute path of the installed artifact tree.
	dir string

	// lastUsed is updated whenever the version is selected for a session
	// or freshly installed. The zero value sorts before every real
	// timestamp, which makes unindexed directories the first eviction
	// candidates.
	lastUsed time.Time

	// refCount tracks live sessions (and the selecting caller) pinning
	// this version against eviction.
	refCount int32
}

// acquire increments the pin count.
//
// Must be paired with a call to release when the session ends.
func (e *versionEntry) acquire() {
	atomic.AddInt32(&e.refCount, 1)
}

// release decrements the pin count.
func (e *versionEntry) release() {
	atomic.AddInt32(&e.refCount, -1)
}

// inUse returns true if the entry has active pins.
func (e *versionEntry) inUse() bool {
	return atomic.LoadInt32(&e.refCount) > 0
}

// InstalledVersion is the externally visible snapshot of a store entry.
type InstalledVersion struct {
	// Version is the version string.
	Version string `json:"version"`

	// Directory is the installed artifact tree.
	Directory string `json:"directory"`

	// LastUsedAt is when the version last backed a session or install.
	// Zero for directories adopted without an index record.
	LastUsedAt time.Time `json:"last_used_at"`

	// Pinned reports whether live sessions currently hold the version.
	Pinned bool `json:"pinned"`
}

// StoreStats captures counters for store observability.
type StoreStats struct {
	// Installed is the current number of on-disk versions.
	Installed int `json:"installed"`

	// Hits counts EnsureInstalled calls satisfied from disk.
	Hits int64 `json:"hits"`

	// Installs counts successful installer invocations.
	Installs int64 `json:"installs"`

	// InstallFailures counts failed installer invocations.
	InstallFailures int64 `json:"install_failures"`

	// Evictions counts entries removed by the capacity bound.
	Evictions int64 `json:"evictions"`
}

// StoreOption customizes store construction.
type StoreOption func(*storeOptions)

type storeOptions struct {
	capacity  int
	now       func() time.Time
	logger    *slog.Logger
	syncIndex bool
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		capacity:  DefaultCapacity,
		now:       time.Now,
		logger:    slog.Default(),
		syncIndex: true,
	}
}

// WithCapacity overrides the maximum number of installed versions.
// Values below 1 are ignored.
func WithCapacity(n int) StoreOption {
	return func(o *storeOptions) {
		if n >= 1 {
			o.capacity = n
		}
	}
}

// WithNowFunc overrides the clock, letting tests control usage timestamps.
func WithNowFunc(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger overrides the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithUnsyncedIndex disables synchronous index writes. Intended for tests.
func WithUnsyncedIndex() StoreOption {
	return func(o *storeOptions) {
		o.syncIndex = false
	}
}
