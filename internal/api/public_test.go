// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/middleware"
)

type upstreamSeen struct {
	realIP    string
	forwarded string
	requestID string
	host      string
	path      string
}

func newTestEngine(t *testing.T) *detection.Engine {
	t.Helper()
	engine, err := detection.NewEngine(detection.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func newPublic(t *testing.T, engine *detection.Engine, upstream *url.URL, trusted ...string) http.Handler {
	t.Helper()
	prefixes := make([]netip.Prefix, 0, len(trusted))
	for _, s := range trusted {
		prefixes = append(prefixes, netip.MustParsePrefix(s))
	}
	resolver := middleware.NewClientIPResolver(prefixes)
	return NewPublicHandler(middleware.NewGuard(engine, resolver), resolver, upstream)
}

func TestPublicHandler_NoUpstream(t *testing.T) {
	h := newPublic(t, newTestEngine(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.RemoteAddr = "198.51.100.20:40000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"ok"}` {
		t.Errorf("body = %q", got)
	}
}

func TestPublicHandler_ProxiesAllowedRequests(t *testing.T) {
	seen := make(chan upstreamSeen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- upstreamSeen{
			realIP:    r.Header.Get("X-Real-IP"),
			forwarded: r.Header.Get("X-Forwarded-For"),
			requestID: r.Header.Get("X-Request-ID"),
			host:      r.Host,
			path:      r.URL.Path,
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	target, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}
	h := newPublic(t, newTestEngine(t), target, "10.0.0.0/8")

	req := httptest.NewRequest(http.MethodGet, "/shop/cart", nil)
	req.Host = "shop.example.com"
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.40")
	req.Header.Set("X-Request-ID", "req-abc")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want upstream's 202", w.Code)
	}

	got := <-seen
	if got.realIP != "203.0.113.40" {
		t.Errorf("X-Real-IP = %q, want 203.0.113.40", got.realIP)
	}
	if got.forwarded != "203.0.113.40, 10.1.2.3" {
		t.Errorf("X-Forwarded-For = %q", got.forwarded)
	}
	if got.requestID != "req-abc" {
		t.Errorf("X-Request-ID = %q", got.requestID)
	}
	if got.host != "shop.example.com" {
		t.Errorf("Host = %q, want inbound host preserved", got.host)
	}
	if got.path != "/shop/cart" {
		t.Errorf("path = %q", got.path)
	}
}

func TestPublicHandler_RejectsBlockedClient(t *testing.T) {
	engine := newTestEngine(t)
	if res := engine.Block("198.51.100.21", "manual", time.Hour); res.Status != detection.BlockStatusBlocked {
		t.Fatalf("Block status = %s", res.Status)
	}

	called := make(chan struct{}, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called <- struct{}{}
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.21:1234"
	w := httptest.NewRecorder()
	newPublic(t, engine, target).ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
	select {
	case <-called:
		t.Error("blocked request reached upstream")
	default:
	}
}

func TestPublicHandler_RateBlock(t *testing.T) {
	engine := newTestEngine(t)
	h := newPublic(t, engine, nil)
	limit := engine.Config().MaxRequestsPerSecond

	var last int
	for i := 0; i <= limit+1; i++ {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.RemoteAddr = "198.51.100.22:1234"
		req.Header.Set("User-Agent", "Mozilla/5.0")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		last = w.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("final status = %d, want 429 after exceeding per-second limit", last)
	}
}

func TestPublicHandler_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target, _ := url.Parse(upstream.URL)
	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.23:1234"
	w := httptest.NewRecorder()
	newPublic(t, newTestEngine(t), target).ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if env := decodeEnvelope(t, w.Body.Bytes()); env.Error == nil || env.Error.Code != ErrCodeUpstream {
		t.Errorf("error = %+v", env.Error)
	}
}
