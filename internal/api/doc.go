// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package api provides the two HTTP surfaces of AbuseGuard.

The public listener (NewPublicHandler) puts the detection engine in front
of an application:

	request ID → HTTP metrics → recoverer → client IP → guard → upstream proxy

Blocked requests get 429 with Retry-After. Warned requests carry an
X-Abuse-Warning header to both the upstream and the client.

The admin listener (Router.SetupChi) exposes the engine to operators:

	GET    /healthz              liveness and headline counts
	GET    /metrics              Prometheus exposition
	POST   /v1/evaluate          evaluate a request descriptor
	GET    /v1/stats             engine statistics
	POST   /v1/blocks            administrative block {key, reason, duration}
	DELETE /v1/blocks/{key}      unblock (?reason=)
	GET    /v1/blocklist         export (gzip when accepted)
	POST   /v1/blocklist/import  bulk block {keys, reason}
	GET    /v1/events            websocket stream of mitigation events

Routes under /v1 are rate limited per IP with go-chi/httprate and, when
server.admin_token is set, require "Authorization: Bearer <token>". Every
response uses the envelope:

	{
	  "status": "success" | "error",
	  "data": {...},
	  "metadata": {"timestamp": "...", "request_id": "..."},
	  "error": {"code": "...", "message": "...", "details": {...}}
	}

Request bodies are validated with go-playground/validator through the
validation package. Operator actions and rejected credentials go to the
audit log.
*/
package api
