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
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	storage "github.com/DetachHead/basedpyright-playground/services/playground/storage/badger"
)

// lastUsedPrefix namespaces usage records inside the index database.
const lastUsedPrefix = "lastused/"

// usageIndex is the durable version → last-used-timestamp record backing the
// artifact store across restarts.
//
// Description:
//
//	Every insert, bump, and eviction rewrites the affected record inside a
//	transaction. The index is auxiliary: the store treats the on-disk
//	directory listing as the source of truth and reconciles against it at
//	open, so a lost or stale index only costs eviction ordering, never
//	correctness.
//
// Thread Safety:
//
//	Safe for concurrent use; BadgerDB serializes transactions internally.
type usageIndex struct {
	db     *storage.DB
	logger *slog.Logger
}

// openUsageIndex opens (or recovers) the index database at path.
//
// Description:
//
//	Opens the BadgerDB at path. An unreadable database is deleted and
//	recreated empty, and as a last resort the index degrades to an
//	in-memory database, so startup never fails on a corrupt index. Both
//	degradations surface as log events; the store's directory scan then
//	adopts every installed version with a zero last-used timestamp.
func openUsageIndex(path string, syncWrites bool, logger *slog.Logger) (*usageIndex, error) {
	cfg := storage.DefaultConfig()
	cfg.Path = path
	cfg.SyncWrites = syncWrites

	db, err := storage.OpenDB(cfg)
	if err != nil {
		logger.Warn("usage index unreadable, recreating",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			logger.Warn("failed to remove corrupt usage index",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}
		db, err = storage.OpenDB(cfg)
	}
	if err != nil {
		logger.Error("usage index unrecoverable, falling back to in-memory index",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		db, err = storage.OpenDB(storage.InMemoryConfig())
		if err != nil {
			return nil, fmt.Errorf("open in-memory usage index: %w", err)
		}
	}

	return &usageIndex{db: db, logger: logger}, nil
}

// load returns every recorded version with its last-used timestamp.
func (ix *usageIndex) load(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	err := ix.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(lastUsedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			version := strings.TrimPrefix(string(item.Key()), lastUsedPrefix)
			err := item.Value(func(val []byte) error {
				t, ok := decodeTimestamp(val)
				if !ok {
					ix.logger.Warn("dropping malformed usage record",
						slog.String("version", version),
					)
					return nil
				}
				out[version] = t
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load usage index: %w", err)
	}
	return out, nil
}

// put records the last-used timestamp for a version.
func (ix *usageIndex) put(ctx context.Context, version string, t time.Time) error {
	return ix.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(lastUsedPrefix+version), encodeTimestamp(t))
	})
}

// remove deletes the record for a version. Missing keys are not an error.
func (ix *usageIndex) remove(ctx context.Context, version string) error {
	return ix.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(lastUsedPrefix + version))
	})
}

// Close closes the underlying database.
func (ix *usageIndex) Close() error {
	return ix.db.Close()
}

// encodeTimestamp encodes a timestamp as 8 big-endian bytes of Unix
// nanoseconds. The zero time encodes as zero bytes.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	if !t.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	}
	return buf
}

// decodeTimestamp decodes an 8-byte record. Returns false for malformed
// values so callers can drop them instead of trusting garbage.
func decodeTimestamp(val []byte) (time.Time, bool) {
	if len(val) != 8 {
		return time.Time{}, false
	}
	nanos := binary.BigEndian.Uint64(val)
	if nanos == 0 {
		return time.Time{}, true
	}
	return time.Unix(0, int64(nanos)), true
}
