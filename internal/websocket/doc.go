// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package websocket streams mitigation events to operator dashboards.

The detection engine publishes a message whenever a client is blocked,
unblocked, expires, or is imported from a feed. The Hub implements
detection.MitigationBroadcaster and fans those messages out to every
connected Client:

	┌──────────┐   BroadcastJSON   ┌──────────┐
	│  Engine  │ ────────────────► │   Hub    │
	└──────────┘                   └────┬─────┘
	                                    │
	                     ┌──────────────┼──────────────┐
	                     │              │              │
	                 Client 1       Client 2       Client 3

Publishing never blocks the request path. When the hub queue is full the
message is dropped, and a client that cannot keep up with its send buffer
is disconnected.

Message Format:

	{"type": "mitigation_event", "data": {"kind": "blocked", "key": "203.0.113.7", ...}}
	{"type": "stats_update", "data": {"timestamp": "...", "stats": {...}}}
	{"type": "pong", "data": null}

Clients may send {"type": "ping"} and receive a pong. The connection is
otherwise one-way.

Usage:

	hub := websocket.NewHub()
	engine.SetBroadcaster(hub)
	go hub.RunWithContext(ctx)

	// in the upgrade handler
	client := websocket.NewClient(hub, conn)
	if hub.RegisterClient(client) {
		client.Start()
	}

The hub runs under the supervisor tree's messaging layer.
*/
package websocket
