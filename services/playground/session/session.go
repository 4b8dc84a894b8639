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

import "time"

// Session binds one playground client to one worker process and one pinned
// toolchain version.
//
// Thread Safety:
//
//	The accessors are safe for concurrent use. lastUsed is owned by the
//	Store and only touched under its lock.
type Session struct {
	id        string
	version   string
	opts      Options
	createdAt time.Time
	worker    Handle
	release   func()

	// lastUsed is guarded by the owning Store's mutex.
	lastUsed time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Version returns the resolved toolchain version backing the session.
func (s *Session) Version() string { return s.version }

// Options returns the options the session was created with.
func (s *Session) Options() Options { return s.opts }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Worker returns the session's worker handle.
func (s *Session) Worker() Handle { return s.worker }
