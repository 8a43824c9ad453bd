// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package blocklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/metrics"
)

// Sync operation labels for metrics.
const (
	OpSnapshot = "snapshot"
	OpRestore  = "restore"
	OpPull     = "pull"
	OpPush     = "push"
)

// FeedReason is the block reason of keys imported from a feed.
const FeedReason = "feed"

// Engine is the part of the detection engine the sync loops use.
// Satisfied by *detection.Engine.
type Engine interface {
	ExportBlocklist() detection.Blocklist
	ImportBlocklist(keys []string, reason string) int
	RestoreBlocklist(entries []detection.BlockEntry) int
}

// Restore loads the archive into engine, preserving archived expiries.
func Restore(ctx context.Context, archive *Archive, engine Engine) (int, error) {
	entries, err := archive.Load(ctx)
	metrics.RecordBlocklistSync(OpRestore, err)
	if err != nil {
		return 0, fmt.Errorf("load archive: %w", err)
	}
	return engine.RestoreBlocklist(entries), nil
}

// SnapshotService periodically writes the engine's block list to the archive.
type SnapshotService struct {
	engine   Engine
	archive  *Archive
	interval time.Duration
	now      func() time.Time
}

// NewSnapshotService creates a snapshot loop.
func NewSnapshotService(engine Engine, archive *Archive, interval time.Duration) *SnapshotService {
	return &SnapshotService{
		engine:   engine,
		archive:  archive,
		interval: interval,
		now:      time.Now,
	}
}

// SnapshotOnce writes one snapshot.
func (s *SnapshotService) SnapshotOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.archive.Save(ctx, s.engine.ExportBlocklist(), s.now())
	metrics.RecordBlocklistSync(OpSnapshot, err)
	if err != nil {
		return 0, err
	}

	logging.Debug().
		Str("component", "blocklist-snapshot").
		Int("entries", n).
		Dur("duration", time.Since(start)).
		Msg("block list snapshot written")
	return n, nil
}

// RunWithContext snapshots every interval and once more on shutdown. It
// returns ctx.Err() on cancellation, or ErrArchiveClosed if the archive is
// closed underneath it.
func (s *SnapshotService) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The run context is gone; give the final write its own deadline.
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.SnapshotOnce(finalCtx); err != nil && !errors.Is(err, ErrArchiveClosed) {
				logging.Warn().Err(err).Msg("final block list snapshot failed")
			}
			cancel()
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.SnapshotOnce(ctx); err != nil {
				if errors.Is(err, ErrArchiveClosed) {
					return err
				}
				logging.Warn().Err(err).Msg("block list snapshot failed")
			}
			if err := s.archive.RunGC(); err != nil && !errors.Is(err, ErrArchiveClosed) {
				logging.Warn().Err(err).Msg("archive GC failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture service naming.
func (s *SnapshotService) String() string {
	return "blocklist-snapshot"
}

// SyncResult summarizes one feed sync.
type SyncResult struct {
	Pulled   int
	Imported int
	Pushed   int
}

// FeedSyncService periodically pulls the remote block list into the engine
// and pushes the local export back.
type FeedSyncService struct {
	engine   Engine
	client   *FeedClient
	interval time.Duration
}

// NewFeedSyncService creates a feed sync loop.
func NewFeedSyncService(engine Engine, client *FeedClient, interval time.Duration) *FeedSyncService {
	return &FeedSyncService{engine: engine, client: client, interval: interval}
}

// SyncOnce performs one pull and one push, whichever are configured. A pull
// failure does not prevent the push.
func (s *FeedSyncService) SyncOnce(ctx context.Context) (SyncResult, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx)

	var (
		result SyncResult
		errs   []error
	)

	if s.client.CanPull() {
		doc, err := s.client.Pull(ctx)
		metrics.RecordBlocklistSync(OpPull, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("pull: %w", err))
		} else {
			keys := doc.AllKeys()
			result.Pulled = len(keys)
			result.Imported = s.engine.ImportBlocklist(keys, FeedReason)
		}
	}

	if s.client.CanPush() {
		list := s.engine.ExportBlocklist()
		err := s.client.Push(ctx, list)
		metrics.RecordBlocklistSync(OpPush, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("push: %w", err))
		} else {
			result.Pushed = len(list.Blocked)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Warn().Err(err).Msg("feed sync incomplete")
	} else {
		log.Debug().
			Int("pulled", result.Pulled).
			Int("imported", result.Imported).
			Int("pushed", result.Pushed).
			Msg("feed sync complete")
	}
	return result, err
}

// RunWithContext syncs immediately and then every interval until ctx is
// canceled. Sync failures are logged and retried on the next tick.
func (s *FeedSyncService) RunWithContext(ctx context.Context) error {
	_, _ = s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = s.SyncOnce(ctx)
		}
	}
}

// String implements fmt.Stringer for suture service naming.
func (s *FeedSyncService) String() string {
	return "blocklist-feed"
}
