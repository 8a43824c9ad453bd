// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"same listener addresses", func(c *Config) { c.Server.AdminAddr = c.Server.ListenAddr }, "must differ"},
		{"bad listen addr", func(c *Config) { c.Server.ListenAddr = "8080" }, "server"},
		{"upstream with path", func(c *Config) { c.Server.UpstreamURL = "http://127.0.0.1:3000/app" }, "base URL only"},
		{"upstream bad scheme", func(c *Config) { c.Server.UpstreamURL = "ftp://127.0.0.1" }, "scheme must be http or https"},
		{"upstream ok", func(c *Config) { c.Server.UpstreamURL = "http://127.0.0.1:3000" }, ""},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.300"} }, "TRUSTED_PROXIES"},
		{"trusted proxies ok", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.1", "fd00::/8"} }, ""},
		{"short admin token", func(c *Config) { c.Server.AdminToken = "short" }, "at least 16"},
		{"placeholder admin token", func(c *Config) { c.Server.AdminToken = "CHANGEME-0123456789" }, "placeholder"},
		{"admin token ok", func(c *Config) { c.Server.AdminToken = "k7Qp2vX9mR4tW8zL" }, ""},
		{"zero per minute", func(c *Config) { c.Detection.MaxRequestsPerMinute = 0 }, "detection"},
		{"zero block duration", func(c *Config) { c.Detection.BlockDuration = 0 }, "detection"},
		{"bad pattern", func(c *Config) { c.Detection.SuspiciousAgentPatterns = []string{"(["} }, "detection"},
		{"bad whitelist prefix", func(c *Config) { c.Detection.WhitelistedAddresses = []string{"10.0.0.0/99"} }, "detection"},
		{"feed url with path", func(c *Config) { c.Blocklist.FeedURL = "https://feeds.example.net/v1/blocklist" }, ""},
		{"feed url with query", func(c *Config) { c.Blocklist.FeedURL = "https://feeds.example.net/list?x=1" }, "query parameters"},
		{"push url bad scheme", func(c *Config) { c.Blocklist.PushURL = "ws://feeds.example.net" }, "BLOCKLIST_PUSH_URL"},
		{"feed timeout too long", func(c *Config) { c.Blocklist.FeedTimeout = c.Blocklist.FeedInterval }, "shorter than"},
		{"zero breaker failures", func(c *Config) { c.Blocklist.BreakerFailures = 0 }, "blocklist"},
		{"zero failure backoff", func(c *Config) { c.Supervisor.FailureBackoff = 0 }, "supervisor"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
		{"empty log format", func(c *Config) { c.Logging.Format = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTrustedProxyPrefixes(t *testing.T) {
	s := ServerConfig{TrustedProxies: []string{"10.0.0.1", "10.1.2.3/16", "::ffff:192.0.2.1"}}

	prefixes, err := s.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes() error = %v", err)
	}
	want := []string{"10.0.0.1/32", "10.1.0.0/16", "192.0.2.1/32"}
	if len(prefixes) != len(want) {
		t.Fatalf("got %v, want %v", prefixes, want)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Errorf("prefix[%d] = %s, want %s", i, p, want[i])
		}
	}
}

func TestToEngineConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Detection.MaxIdenticalRequests = 12
	cfg.Detection.IdleThreshold = 2 * time.Hour
	cfg.Detection.WhitelistedAddresses = []string{"203.0.113.250"}

	ec := cfg.ToEngineConfig()
	if ec.MaxIdenticalRequests != 12 {
		t.Errorf("MaxIdenticalRequests = %d, want 12", ec.MaxIdenticalRequests)
	}
	if ec.IdleThreshold != 2*time.Hour {
		t.Errorf("IdleThreshold = %v, want 2h", ec.IdleThreshold)
	}
	if len(ec.WhitelistedAddresses) != 1 || ec.WhitelistedAddresses[0] != "203.0.113.250" {
		t.Errorf("WhitelistedAddresses = %v", ec.WhitelistedAddresses)
	}

	// The engine config owns its slices.
	ec.WhitelistedAddresses[0] = "198.51.100.1"
	if cfg.Detection.WhitelistedAddresses[0] != "203.0.113.250" {
		t.Error("ToEngineConfig should copy slices")
	}
	if err := ec.Validate(); err != nil {
		t.Errorf("converted engine config should validate: %v", err)
	}
}

func TestToLoggingConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging = LoggingConfig{Level: "warn", Format: "console", Caller: true}

	lc := cfg.ToLoggingConfig()
	if lc.Level != "warn" || lc.Format != "console" || !lc.Caller {
		t.Errorf("ToLoggingConfig() = %+v", lc)
	}
	if !lc.Timestamp || lc.Output == nil {
		t.Error("ToLoggingConfig should keep default timestamp and output")
	}
}

func TestToTreeConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Supervisor.FailureBackoff = 5 * time.Second

	tc := cfg.ToTreeConfig()
	if tc.FailureThreshold != 5.0 || tc.FailureDecay != 30.0 {
		t.Errorf("ToTreeConfig() = %+v", tc)
	}
	if tc.FailureBackoff != 5*time.Second {
		t.Errorf("FailureBackoff = %v, want 5s", tc.FailureBackoff)
	}
}
