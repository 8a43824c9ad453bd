// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package middleware

import (
	"net"
	"net/http"
	"sync"

	"github.com/tomtom215/abuseguard/internal/logging"
)

// ConnectionRecorder tracks concurrent connections per client.
// *detection.Engine satisfies it.
type ConnectionRecorder interface {
	RecordConnectionDelta(key string, delta int) bool
}

// ConnLimiter enforces the per-client connection ceiling through
// http.Server.ConnState. Keys are taken from the TCP peer. Trusted proxies
// multiplex many clients over their connections and are neither counted
// nor blocked; their clients are judged per request by the Guard.
type ConnLimiter struct {
	rec      ConnectionRecorder
	resolver *ClientIPResolver

	// counted maps accepted net.Conn values to their key so that only
	// connections that were counted are released.
	counted sync.Map
}

// NewConnLimiter creates a limiter reporting to rec. Peers the resolver
// trusts as proxies are exempt. A nil resolver exempts nobody.
func NewConnLimiter(rec ConnectionRecorder, resolver *ClientIPResolver) *ConnLimiter {
	if resolver == nil {
		resolver = NewClientIPResolver(nil)
	}
	return &ConnLimiter{rec: rec, resolver: resolver}
}

// ConnState is assigned to http.Server.ConnState.
//
//	srv := &http.Server{Handler: h, ConnState: limiter.ConnState}
func (l *ConnLimiter) ConnState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		key := conn.RemoteAddr().String()
		if l.resolver.TrustedPeer(key) {
			return
		}
		if !l.rec.RecordConnectionDelta(key, 1) {
			logging.Debug().Str("client", key).Msg("connection refused")
			_ = conn.Close() //nolint:errcheck // refusing the connection
			return
		}
		l.counted.Store(conn, key)
	case http.StateHijacked, http.StateClosed:
		if key, ok := l.counted.LoadAndDelete(conn); ok {
			l.rec.RecordConnectionDelta(key.(string), -1)
		}
	}
}

// Tracked returns the number of connections currently counted.
func (l *ConnLimiter) Tracked() int {
	n := 0
	l.counted.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
