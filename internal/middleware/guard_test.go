// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/abuseguard/internal/detection"
)

// mockEvaluator returns a fixed verdict and records descriptors.
type mockEvaluator struct {
	mu      sync.Mutex
	verdict detection.Verdict
	seen    []detection.RequestDescriptor
}

func (m *mockEvaluator) Evaluate(req detection.RequestDescriptor, _ time.Time) detection.Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, req)
	return m.verdict
}

func serveGuard(t *testing.T, v detection.Verdict) (*httptest.ResponseRecorder, *mockEvaluator, bool) {
	t.Helper()
	eval := &mockEvaluator{verdict: v}
	reached := false
	handler := NewGuard(eval, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "198.51.100.7:5123"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, eval, reached
}

func TestGuard_Allow(t *testing.T) {
	rec, eval, reached := serveGuard(t, detection.Verdict{Action: detection.ActionAllow, Reason: detection.ReasonPatternOK})

	if !reached {
		t.Fatal("Expected allowed request to reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(WarningHeader) != "" {
		t.Error("Expected no warning header")
	}

	if len(eval.seen) != 1 {
		t.Fatalf("Expected one evaluation, got %d", len(eval.seen))
	}
	d := eval.seen[0]
	if d.ClientAddr != "198.51.100.7" || d.Method != http.MethodPost || d.Path != "/login" {
		t.Errorf("Unexpected descriptor: %+v", d)
	}
	if d.UserAgent != "Mozilla/5.0 (X11; Linux x86_64)" {
		t.Errorf("Unexpected user agent: %q", d.UserAgent)
	}
}

func TestGuard_Warn(t *testing.T) {
	rec, _, reached := serveGuard(t, detection.Verdict{Action: detection.ActionWarn, Reason: detection.ReasonSuspiciousAgent})

	if !reached {
		t.Fatal("Expected warned request to reach the handler")
	}
	if got := rec.Header().Get(WarningHeader); got != "suspicious_agent" {
		t.Errorf("Expected warning header suspicious_agent, got %q", got)
	}
}

func TestGuard_Block(t *testing.T) {
	tests := []struct {
		name       string
		verdict    detection.Verdict
		wantCode   string
		wantRetry  string
		wantDetail string
	}{
		{
			name:      "rate per minute",
			verdict:   detection.Verdict{Action: detection.ActionBlock, Reason: detection.ReasonRatePerMinute, RetryAfter: time.Hour},
			wantCode:  CodeRateLimitExceeded,
			wantRetry: "3600",
		},
		{
			name:      "scanning",
			verdict:   detection.Verdict{Action: detection.ActionBlock, Reason: detection.ReasonScanningDetected, RetryAfter: 90 * time.Second},
			wantCode:  CodeBlocked,
			wantRetry: "90",
		},
		{
			name:       "existing rate block",
			verdict:    detection.Verdict{Action: detection.ActionBlock, Reason: detection.ReasonBlocked, Detail: "rate_per_second", RetryAfter: 1500 * time.Millisecond},
			wantCode:   CodeRateLimitExceeded,
			wantRetry:  "2",
			wantDetail: "rate_per_second",
		},
		{
			name:       "existing admin block",
			verdict:    detection.Verdict{Action: detection.ActionBlock, Reason: detection.ReasonBlocked, Detail: "abuse report"},
			wantCode:   CodeBlocked,
			wantRetry:  "1",
			wantDetail: "abuse report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, reached := serveGuard(t, tt.verdict)

			if reached {
				t.Fatal("Expected blocked request not to reach the handler")
			}
			if rec.Code != http.StatusTooManyRequests {
				t.Errorf("Expected 429, got %d", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body guardResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if body.Status != "error" {
				t.Errorf("status = %q, want error", body.Status)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.Details["reason"] != string(tt.verdict.Reason) {
				t.Errorf("reason = %q, want %q", body.Error.Details["reason"], tt.verdict.Reason)
			}
			if body.Error.Details["block_reason"] != tt.wantDetail {
				t.Errorf("block_reason = %q, want %q", body.Error.Details["block_reason"], tt.wantDetail)
			}
		})
	}
}

func TestGuard_UsesResolvedClientIP(t *testing.T) {
	eval := &mockEvaluator{verdict: detection.Verdict{Action: detection.ActionAllow, Reason: detection.ReasonPatternOK}}
	resolver := NewClientIPResolver(nil)
	handler := resolver.Middleware(NewGuard(eval, resolver).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::7]:443"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(eval.seen) != 1 || eval.seen[0].ClientAddr != "2001:db8::7" {
		t.Errorf("Unexpected descriptors: %+v", eval.seen)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := RetryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGuard_WithEngine(t *testing.T) {
	cfg := detection.DefaultEngineConfig()
	cfg.MaxRequestsPerSecond = 3
	cfg.TrustPrivateNetworks = false
	engine, err := detection.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(engine.Shutdown)

	guard := NewGuard(engine, nil)
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return fixed }

	handler := guard.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.7:5123"
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	want := []int{200, 200, 200, 429, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status %d, want %d", i+1, codes[i], want[i])
		}
	}
}
