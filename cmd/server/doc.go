// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package main runs the AbuseGuard server.

AbuseGuard sits in front of an HTTP application, judges every request by
its client's recent behavior and rejects abusive clients with 429 until
their block expires. Operators inspect and manage the engine through a
separate admin listener.

# Process Layout

	abuseguard
	├── detection-layer
	│   ├── detection-sweeper     releases expired blocks, prunes idle clients
	│   └── blocklist-snapshot    Badger archive (BLOCKLIST_ARCHIVE_PATH)
	├── messaging-layer
	│   ├── event-hub             websocket mitigation events
	│   ├── stats-broadcaster
	│   └── blocklist-feed        pull/push feed (BLOCKLIST_FEED_URL, BLOCKLIST_PUSH_URL)
	└── api-layer
	    ├── public-listener       LISTEN_ADDR, guarded and proxied to UPSTREAM_URL
	    └── admin-listener        ADMIN_ADDR, /healthz, /metrics, /v1/...

Startup order:

 1. Configuration: koanf defaults, optional config.yaml, mapped environment
 2. Logging: zerolog
 3. Detection engine
 4. Block list archive restore (if configured)
 5. Event hub, feed client, HTTP handlers
 6. Supervisor tree until SIGINT or SIGTERM

# Configuration

	LISTEN_ADDR=:8080
	ADMIN_ADDR=127.0.0.1:9090
	UPSTREAM_URL=http://app:3000
	ADMIN_TOKEN=<at least 16 characters>
	TRUSTED_PROXIES=10.0.0.0/8
	GUARD_MAX_REQUESTS_PER_MINUTE=300
	GUARD_MAX_REQUESTS_PER_SECOND=10
	GUARD_BLOCK_DURATION=1h
	BLOCKLIST_ARCHIVE_PATH=/var/lib/abuseguard
	LOG_LEVEL=info
	LOG_FORMAT=json

Set CONFIG_PATH to read a YAML file from a non-default location.

# Shutdown

SIGINT or SIGTERM cancels the tree. Listeners drain within
HTTP_SHUTDOWN_TIMEOUT, the snapshot service writes one final snapshot and
the archive is closed last.
*/
package main
