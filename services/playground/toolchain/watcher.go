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
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// storeWatcher prunes store records when a version directory disappears
// underneath the store, e.g. an operator deleting it by hand.
type storeWatcher struct {
	fw     *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// StartWatcher begins watching the versions directory for external
// removals. Directories removed by the store's own eviction are already
// gone from the entry map, so their events fall through as no-ops.
func (s *Store) StartWatcher() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrStoreClosed
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := fw.Add(s.versionsDir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", s.versionsDir, err)
	}

	w := &storeWatcher{
		fw:     fw,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		fw.Close()
		return errors.New("watcher already running")
	}
	s.watcher = w
	s.mu.Unlock()

	go s.watchLoop(w)
	s.logger.Info("Watching versions directory",
		slog.String("dir", s.versionsDir),
	)
	return nil
}

// watchLoop consumes filesystem events until the watcher stops.
func (s *Store) watchLoop(w *storeWatcher) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.pruneRemoved(filepath.Base(ev.Name))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()),
			)
		}
	}
}

// pruneRemoved drops the record for a version whose directory vanished.
// Sessions already running on the version keep their process; only new
// sessions are affected.
func (s *Store) pruneRemoved(version string) {
	s.mu.Lock()
	e, ok := s.entries[version]
	if !ok {
		s.mu.Unlock()
		return
	}
	pinned := e.inUse()
	delete(s.entries, version)
	s.mu.Unlock()

	if pinned {
		s.logger.Warn("version directory removed while sessions were using it",
			slog.String("version", version),
		)
	} else {
		s.logger.Info("version directory removed externally, dropping record",
			slog.String("version", version),
		)
	}

	ctx := context.Background()
	if err := s.index.remove(ctx, version); err != nil {
		s.logger.Warn("failed to drop usage record for removed version",
			slog.String("version", version),
			slog.String("error", err.Error()),
		)
	}
	recordInstalledDelta(ctx, -1)
}

// stop tears the watcher down and waits for the loop to exit.
func (w *storeWatcher) stop() {
	close(w.stopCh)
	w.fw.Close()
	<-w.doneCh
}
