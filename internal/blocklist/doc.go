// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

// Package blocklist keeps the engine's block list beyond the life of the
// process and exchanges it with an external feed.
//
// Archive stores each active block in BadgerDB with a TTL equal to its
// remaining lifetime. SnapshotService writes the engine export on an
// interval and once more at shutdown; Restore loads it back at start-up
// with the original expiries.
//
// FeedClient pulls a JSON block list from blocklist.feed_url and pushes the
// local export to blocklist.push_url, both behind a gobreaker circuit
// breaker. FeedSyncService imports pulled keys with reason "feed".
//
//	archive, err := blocklist.OpenArchive(cfg.Blocklist.ArchivePath)
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//	if _, err := blocklist.Restore(ctx, archive, engine); err != nil {
//	    logging.Warn().Err(err).Msg("block list restore failed")
//	}
//	tree.AddDetectionService(services.NewSnapshotService(
//	    blocklist.NewSnapshotService(engine, archive, cfg.Blocklist.SnapshotInterval)))
package blocklist
