// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package metrics provides Prometheus metrics for AbuseGuard.

Collectors are registered on the default registry through promauto and exposed
on the admin listener at /metrics:

	curl http://127.0.0.1:9090/metrics

# Available Metrics

Detection:
  - abuseguard_verdicts_total{action,reason}: verdicts per action and reason code
  - abuseguard_evaluation_duration_seconds: time spent in a single evaluation
  - abuseguard_blocked_clients: active blocks, refreshed after each sweep
  - abuseguard_tracked_clients: clients with recorded activity
  - abuseguard_active_connections: open connections counted by the ceiling
  - abuseguard_mitigations_total{kind}: block records created

Sweeper:
  - abuseguard_sweep_duration_seconds
  - abuseguard_sweep_released_total{kind}

Block list:
  - abuseguard_blocklist_sync_total{operation,outcome}
  - abuseguard_feed_circuit_state{name}

HTTP and WebSocket:
  - abuseguard_http_requests_total{method,route,status_code}
  - abuseguard_http_request_duration_seconds{method,route}
  - abuseguard_http_active_requests
  - abuseguard_websocket_connections
  - abuseguard_websocket_messages_sent_total
  - abuseguard_websocket_messages_dropped_total

Callers use the Record* and Set* helpers rather than the collectors directly.
*/
package metrics
