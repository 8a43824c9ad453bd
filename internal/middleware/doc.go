// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

/*
Package middleware provides the HTTP middleware that puts the detection
engine in front of a listener.

Key Components:

  - ClientIPResolver: client address resolution with trusted proxy support
  - Guard: evaluates every request and answers block verdicts with 429
  - ConnLimiter: http.Server.ConnState hook enforcing the connection ceiling
  - RequestID: request and correlation IDs for logging
  - PrometheusMetrics: request count, latency and in-flight gauge by route
  - Compression: gzip for large admin responses

Public Listener Stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(resolver.Middleware)
	r.Use(guard.Handler)

	srv := &http.Server{Handler: r, ConnState: limiter.ConnState}

Verdict Mapping:

  - allow: the request passes through unchanged
  - warn: X-Abuse-Warning is set on the response and on the request
    forwarded upstream, then the request passes through
  - block: 429 Too Many Requests with Retry-After in whole seconds and a
    JSON error body; the code is RATE_LIMIT_EXCEEDED for rate reasons and
    BLOCKED otherwise

Forwarding headers are only read when the direct peer falls inside a
trusted proxy range. The connection limiter sees TCP peers, so with a
proxy in front the proxy address is what gets counted; keep proxy ranges
whitelisted in the detection configuration.
*/
package middleware
