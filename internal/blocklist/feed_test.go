// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package blocklist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/abuseguard/internal/detection"
)

func TestFeedDocument_AllKeys(t *testing.T) {
	doc := FeedDocument{
		Blocked: []detection.BlockEntry{{Key: "a"}, {Key: "b"}},
		Keys:    []string{"c"},
	}
	got := doc.AllKeys()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("AllKeys() = %v", got)
	}
}

func TestFeedClient_Pull(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"blocked":[{"key":"198.51.100.7","reason":"scan"}],"keys":["203.0.113.1"]}`)
	}))
	defer srv.Close()

	client := NewFeedClient(FeedConfig{PullURL: srv.URL, Token: "feed-token-123"})
	doc, err := client.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}

	keys := doc.AllKeys()
	if len(keys) != 2 || keys[0] != "198.51.100.7" || keys[1] != "203.0.113.1" {
		t.Errorf("keys = %v", keys)
	}
	h := <-headers
	if got := h.Get("Authorization"); got != "Bearer feed-token-123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestFeedClient_Push(t *testing.T) {
	type pushRequest struct {
		method      string
		contentType string
		body        detection.Blocklist
	}
	requests := make(chan pushRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body detection.Blocklist
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requests <- pushRequest{method: r.Method, contentType: r.Header.Get("Content-Type"), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewFeedClient(FeedConfig{PushURL: srv.URL})
	list := detection.Blocklist{
		Version: detection.BlocklistVersion,
		Blocked: []detection.BlockEntry{{Key: "192.0.2.5", Reason: "rate_per_minute"}},
	}
	if err := client.Push(context.Background(), list); err != nil {
		t.Fatalf("Push: %v", err)
	}

	req := <-requests
	if req.method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.method)
	}
	if req.contentType != "application/json" {
		t.Errorf("Content-Type = %q", req.contentType)
	}
	if len(req.body.Blocked) != 1 || req.body.Blocked[0].Key != "192.0.2.5" {
		t.Errorf("received = %+v", req.body)
	}
}

func TestFeedClient_NotConfigured(t *testing.T) {
	client := NewFeedClient(FeedConfig{})

	if client.CanPull() || client.CanPush() {
		t.Error("empty config should not allow pull or push")
	}
	if _, err := client.Pull(context.Background()); !errors.Is(err, ErrFeedNotConfigured) {
		t.Errorf("Pull() error = %v, want ErrFeedNotConfigured", err)
	}
	if err := client.Push(context.Background(), detection.Blocklist{}); !errors.Is(err, ErrFeedNotConfigured) {
		t.Errorf("Push() error = %v, want ErrFeedNotConfigured", err)
	}
}

func TestFeedClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "not json")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewFeedClient(FeedConfig{PullURL: srv.URL})
			if _, err := client.Pull(context.Background()); err == nil {
				t.Error("Pull() error = nil, want error")
			}
		})
	}
}

func TestFeedClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewFeedClient(FeedConfig{
		PullURL:         srv.URL,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.Pull(ctx); err == nil || errors.Is(err, ErrFeedUnavailable) {
			t.Fatalf("attempt %d: error = %v, want upstream failure", i, err)
		}
	}

	if client.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %v, want open", client.State())
	}

	_, err := client.Pull(ctx)
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Errorf("Pull() with open breaker error = %v, want ErrFeedUnavailable", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Pull() error should wrap gobreaker.ErrOpenState, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestFeedClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewFeedClient(FeedConfig{PullURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	if _, err := client.Pull(context.Background()); err == nil {
		t.Fatal("Pull() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Pull() took %v, want it bounded by the timeout", elapsed)
	}
}
