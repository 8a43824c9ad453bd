// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"fmt"
	"net/netip"
	"strings"
)

// Whitelist decides whether a client is trusted. It is read-only after
// construction and safe for concurrent use.
type Whitelist struct {
	addrs           map[netip.Addr]struct{}
	raw             map[string]struct{}
	prefixes        []netip.Prefix
	agentSubstrings []string
	trustPrivate    bool
}

// NewWhitelist builds a whitelist from configured addresses (single addresses
// or CIDR prefixes) and trusted user agent substrings.
func NewWhitelist(addresses, agentSubstrings []string, trustPrivate bool) (*Whitelist, error) {
	entries, err := parseAddressList(addresses)
	if err != nil {
		return nil, err
	}

	w := &Whitelist{
		addrs:        make(map[netip.Addr]struct{}),
		raw:          make(map[string]struct{}),
		trustPrivate: trustPrivate,
	}
	for _, e := range entries {
		switch {
		case e.prefix.IsValid():
			w.prefixes = append(w.prefixes, e.prefix)
		case e.addr.IsValid():
			w.addrs[e.addr] = struct{}{}
		default:
			w.raw[e.text] = struct{}{}
		}
	}
	for _, s := range agentSubstrings {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			w.agentSubstrings = append(w.agentSubstrings, s)
		}
	}
	return w, nil
}

// IsWhitelisted reports whether the key or the user agent is trusted.
func (w *Whitelist) IsWhitelisted(key, userAgent string) bool {
	return w.AddressTrusted(key) || w.AgentTrusted(userAgent)
}

// AddressTrusted checks only the client address.
func (w *Whitelist) AddressTrusted(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := w.raw[key]; ok {
		return true
	}

	addr, err := netip.ParseAddr(key)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	if w.trustPrivate && (addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()) {
		return true
	}
	if _, ok := w.addrs[addr]; ok {
		return true
	}
	for _, p := range w.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AgentTrusted checks the user agent against the trusted substrings.
func (w *Whitelist) AgentTrusted(userAgent string) bool {
	if userAgent == "" || len(w.agentSubstrings) == 0 {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, s := range w.agentSubstrings {
		if strings.Contains(ua, s) {
			return true
		}
	}
	return false
}

type addressEntry struct {
	text   string
	addr   netip.Addr
	prefix netip.Prefix
}

// parseAddressList accepts addresses, CIDR prefixes and opaque identifiers.
// Entries that look like a prefix but do not parse are rejected.
func parseAddressList(list []string) ([]addressEntry, error) {
	out := make([]addressEntry, 0, len(list))
	for _, raw := range list {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("invalid whitelisted prefix %q: %w", s, err)
			}
			out = append(out, addressEntry{text: s, prefix: p.Masked()})
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			out = append(out, addressEntry{text: s, addr: a.Unmap()})
			continue
		}
		out = append(out, addressEntry{text: s})
	}
	return out, nil
}

// NormalizeKey trims the client identifier and canonicalizes IP addresses so
// "::ffff:203.0.113.7" and "203.0.113.7" share state. A host:port pair is
// reduced to its host.
func NormalizeKey(addr string) string {
	s := strings.TrimSpace(addr)
	if s == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().String()
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap().String()
	}
	return s
}
