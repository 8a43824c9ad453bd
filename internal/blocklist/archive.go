// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package blocklist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
)

// Key prefixes for BadgerDB storage
const (
	prefixBlock  = "block:"
	keySnapshot  = "meta:snapshot"
	gcDiscardPct = 0.5
)

// Errors
var (
	// ErrArchiveClosed is returned by operations on a closed archive.
	ErrArchiveClosed = errors.New("blocklist archive is closed")
)

// SnapshotInfo describes the most recent snapshot written to the archive.
type SnapshotInfo struct {
	SavedAt time.Time `json:"saved_at"`
	Entries int       `json:"entries"`
}

// Archive persists the active block list in BadgerDB. Each block is stored
// under its own key with a TTL matching the block's remaining lifetime, so
// expired blocks disappear from the archive without a sweep.
type Archive struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenArchive opens (or creates) the archive at path. An empty path opens
// an in-memory database.
func OpenArchive(path string) (*Archive, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", path).Bool("in_memory", path == "").Msg("blocklist archive opened")
	return &Archive{db: db}, nil
}

// Save replaces the archived block list with list. Entries already expired
// at now are skipped. Stale keys are deleted in the same batch as the new
// ones are written, so a reader never sees an empty archive mid-save.
func (a *Archive) Save(ctx context.Context, list detection.Blocklist, now time.Time) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, ErrArchiveClosed
	}

	existing, err := a.keys(ctx)
	if err != nil {
		return 0, err
	}

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()

	saved := 0
	for _, entry := range list.Blocked {
		ttl := entry.ExpiresAt.Sub(now)
		if entry.Key == "" || ttl <= 0 {
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return 0, fmt.Errorf("marshal entry %q: %w", entry.Key, err)
		}
		key := prefixBlock + entry.Key
		if err := wb.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(ttl)); err != nil {
			return 0, fmt.Errorf("set entry %q: %w", entry.Key, err)
		}
		delete(existing, key)
		saved++
	}

	for key := range existing {
		if err := wb.Delete([]byte(key)); err != nil {
			return 0, fmt.Errorf("delete stale entry: %w", err)
		}
	}

	info, err := json.Marshal(SnapshotInfo{SavedAt: now.UTC(), Entries: saved})
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot info: %w", err)
	}
	if err := wb.Set([]byte(keySnapshot), info); err != nil {
		return 0, fmt.Errorf("set snapshot info: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush snapshot: %w", err)
	}
	return saved, nil
}

// keys returns the set of block keys currently stored.
func (a *Archive) keys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixBlock)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys[string(it.Item().KeyCopy(nil))] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate archive keys: %w", err)
	}
	return keys, nil
}

// Load returns every archived block that has not expired. Entries that fail
// to decode are logged and skipped.
func (a *Archive) Load(ctx context.Context) ([]detection.BlockEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrArchiveClosed
	}

	var entries []detection.BlockEntry
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixBlock)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var entry detection.BlockEntry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("skipping undecodable archive entry")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate archive: %w", err)
	}
	return entries, nil
}

// LastSnapshot returns information about the most recent Save. The boolean
// is false when nothing has been saved yet.
func (a *Archive) LastSnapshot() (SnapshotInfo, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return SnapshotInfo{}, false, ErrArchiveClosed
	}

	var info SnapshotInfo
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySnapshot))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return SnapshotInfo{}, false, nil
	}
	if err != nil {
		return SnapshotInfo{}, false, fmt.Errorf("read snapshot info: %w", err)
	}
	return info, true, nil
}

// RunGC reclaims value log space left behind by expired and replaced entries.
func (a *Archive) RunGC() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiveClosed
	}

	for {
		err := a.db.RunValueLogGC(gcDiscardPct)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database. Further calls return ErrArchiveClosed.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrArchiveClosed
	}
	a.closed = true

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("blocklist archive closed")
	return nil
}
