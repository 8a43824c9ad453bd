// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/abuseguard/internal/blocklist"
)

// BlocklistTask is satisfied by *blocklist.SnapshotService and
// *blocklist.FeedSyncService.
type BlocklistTask interface {
	RunWithContext(ctx context.Context) error
	String() string
}

// BlocklistService supervises a block list snapshot or feed task. A task
// whose archive has been closed is finished and is not restarted.
//
//	snap := blocklist.NewSnapshotService(engine, archive, cfg.Blocklist.SnapshotInterval)
//	tree.AddDetectionService(services.NewBlocklistService(snap))
type BlocklistService struct {
	task BlocklistTask
}

// NewBlocklistService wraps task.
func NewBlocklistService(task BlocklistTask) *BlocklistService {
	return &BlocklistService{task: task}
}

// Serve implements suture.Service.
func (b *BlocklistService) Serve(ctx context.Context) error {
	err := b.task.RunWithContext(ctx)
	if errors.Is(err, blocklist.ErrArchiveClosed) {
		return suture.ErrDoNotRestart
	}
	return err
}

// String implements fmt.Stringer for suture's log messages.
func (b *BlocklistService) String() string {
	return b.task.String()
}
