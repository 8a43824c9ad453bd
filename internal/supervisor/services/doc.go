// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package services adapts AbuseGuard components to suture v4's Serve pattern.

Each wrapper implements suture.Service and fmt.Stringer:

	EngineService          detection sweeper; a shut-down engine is not restarted
	BlocklistService       snapshot writer or feed sync; a closed archive ends it
	WebSocketHubService    mitigation event hub
	StatsBroadcastService  periodic statistics to event subscribers
	HTTPServerService      public or admin listener with graceful shutdown

Wrappers accept small interfaces rather than concrete types so tests can
substitute hand-written doubles. Errors that mean "finished" are turned into
suture.ErrDoNotRestart; every other error is returned as-is and the
supervisor restarts the service with backoff.

# Usage

	tree.AddDetectionService(services.NewEngineService(engine))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(services.NewStatsBroadcastService(engine, hub, 0))
	tree.AddAPIService(services.NewHTTPServerService("public-listener", publicServer, 15*time.Second))
*/
package services
