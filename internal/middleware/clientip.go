// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const clientIPKey contextKey = "client_ip"

// ClientIPResolver determines the client address of a request. Forwarding
// headers are only believed when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver creates a resolver trusting the given proxy ranges.
// With no trusted ranges the peer address is always used.
func NewClientIPResolver(trusted []netip.Prefix) *ClientIPResolver {
	return &ClientIPResolver{trusted: trusted}
}

func (c *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// TrustedPeer reports whether remoteAddr, with or without a port, is a
// trusted proxy.
func (c *ClientIPResolver) TrustedPeer(remoteAddr string) bool {
	ip, err := netip.ParseAddr(peerAddr(remoteAddr))
	if err != nil {
		return false
	}
	return c.isTrusted(ip.Unmap())
}

// Resolve returns the client address for r.
//
// X-Forwarded-For is walked right to left and the first hop that is not a
// trusted proxy wins. X-Real-IP is used when X-Forwarded-For is absent or
// contains only trusted hops. Unparseable header values are ignored.
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	peer := peerAddr(r.RemoteAddr)
	peerIP, err := netip.ParseAddr(peer)
	if err != nil {
		return peer
	}
	peerIP = peerIP.Unmap()
	if !c.isTrusted(peerIP) {
		return peerIP.String()
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			hop = hop.Unmap()
			if !c.isTrusted(hop) {
				return hop.String()
			}
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if ip, err := netip.ParseAddr(realIP); err == nil {
			return ip.Unmap().String()
		}
	}

	return peerIP.String()
}

// Middleware stores the resolved client address in the request context.
func (c *ClientIPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey, c.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the address stored by Middleware, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}

func peerAddr(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
