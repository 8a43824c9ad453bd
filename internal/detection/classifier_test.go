// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(DefaultEngineConfig())
	if err != nil {
		t.Fatalf("NewClassifier() error = %v", err)
	}
	return c
}

// snapshotOf builds a snapshot of n events spaced by step, ending at the
// returned instant.
func snapshotOf(n int, step time.Duration) (ActivitySnapshot, time.Time) {
	s := ActivitySnapshot{
		UserAgent:           browserUA,
		DistinctPaths:       1,
		MaxIdenticalRepeats: 1,
		Methods:             []string{"GET"},
	}
	var last time.Time
	for i := 0; i < n; i++ {
		last = t0.Add(time.Duration(i) * step)
		s.Events = append(s.Events, RequestEvent{Timestamp: last, Method: "GET", Path: "/"})
	}
	return s, last
}

func TestClassifier_RateThresholds(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name   string
		n      int
		step   time.Duration
		action Action
		reason Reason
	}{
		{"per-minute at limit", 300, 150 * time.Millisecond, ActionAllow, ReasonPatternOK},
		{"per-minute above limit", 301, 150 * time.Millisecond, ActionBlock, ReasonRatePerMinute},
		{"per-second at limit", 10, 50 * time.Millisecond, ActionAllow, ReasonPatternOK},
		{"per-second above limit", 11, 50 * time.Millisecond, ActionBlock, ReasonRatePerSecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, now := snapshotOf(tt.n, tt.step)
			v := c.Classify(&s, now)
			if v.Action != tt.action || v.Reason != tt.reason {
				t.Errorf("Classify() = %s/%s, want %s/%s", v.Action, v.Reason, tt.action, tt.reason)
			}
		})
	}
}

func TestClassifier_DistinctPathThreshold(t *testing.T) {
	c := newTestClassifier(t)
	s, now := snapshotOf(1, time.Second)

	s.DistinctPaths = 100
	if v := c.Classify(&s, now); v.Action != ActionAllow {
		t.Errorf("exactly at threshold: got %s/%s, want allow", v.Action, v.Reason)
	}

	s.DistinctPaths = 101
	if v := c.Classify(&s, now); v.Reason != ReasonScanningDetected || v.Action != ActionBlock {
		t.Errorf("above threshold: got %s/%s, want block/scanning_detected", v.Action, v.Reason)
	}
}

func TestClassifier_Replay(t *testing.T) {
	c := newTestClassifier(t)
	s, now := snapshotOf(1, time.Second)

	s.MaxIdenticalRepeats = 60
	if v := c.Classify(&s, now); v.Action != ActionAllow {
		t.Errorf("at threshold: got %s/%s, want allow", v.Action, v.Reason)
	}
	s.MaxIdenticalRepeats = 61
	if v := c.Classify(&s, now); v.Reason != ReasonReplaySuspected {
		t.Errorf("above threshold: got %s, want replay_suspected", v.Reason)
	}
}

func TestClassifier_SuspiciousAgent(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name   string
		ua     string
		action Action
	}{
		{"empty", "", ActionWarn},
		{"whitespace only", "   ", ActionWarn},
		{"too short", "Mozilla", ActionWarn},
		{"curl", "curl/8.4.0 (x86_64-pc-linux-gnu)", ActionWarn},
		{"python requests", "python-requests/2.31.0", ActionWarn},
		{"case insensitive", "Mozilla/5.0 (compatible; Googlebot/2.1)", ActionWarn},
		{"headless browser", "Mozilla/5.0 HeadlessChrome/120.0", ActionWarn},
		{"browser", browserUA, ActionAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, now := snapshotOf(1, time.Second)
			s.UserAgent = tt.ua
			v := c.Classify(&s, now)
			if v.Action != tt.action {
				t.Errorf("Classify(%q) action = %s, want %s", tt.ua, v.Action, tt.action)
			}
			if tt.action == ActionWarn && v.Reason != ReasonSuspiciousAgent {
				t.Errorf("reason = %s, want suspicious_agent", v.Reason)
			}
		})
	}
}

func TestClassifier_UnusualMethod(t *testing.T) {
	c := newTestClassifier(t)

	for _, m := range []string{"TRACE", "TRACK"} {
		t.Run(m, func(t *testing.T) {
			s, now := snapshotOf(1, time.Second)
			s.Methods = []string{"GET", m}
			sort.Strings(s.Methods)
			v := c.Classify(&s, now)
			if v.Action != ActionBlock || v.Reason != ReasonUnusualMethod {
				t.Errorf("Classify() = %s/%s, want block/unusual_method", v.Action, v.Reason)
			}
		})
	}
}

func TestClassifier_FirstMatchWins(t *testing.T) {
	c := newTestClassifier(t)

	// Over the per-minute cap, scanning and sending TRACE all at once.
	s, now := snapshotOf(301, 150*time.Millisecond)
	s.DistinctPaths = 500
	s.Methods = []string{"GET", "TRACE"}
	s.UserAgent = ""

	v := c.Classify(&s, now)
	if v.Reason != ReasonRatePerMinute {
		t.Errorf("Reason = %s, want rate_per_minute", v.Reason)
	}
	if !strings.Contains(v.Detail, "301") {
		t.Errorf("Detail = %q, want it to mention the measured count", v.Detail)
	}

	// A warn rule ranks above unusual methods.
	s2, now2 := snapshotOf(1, time.Second)
	s2.UserAgent = "wget/1.21"
	s2.Methods = []string{"GET", "TRACE"}
	if v := c.Classify(&s2, now2); v.Reason != ReasonSuspiciousAgent {
		t.Errorf("Reason = %s, want suspicious_agent", v.Reason)
	}
}

func TestNewClassifier_InvalidPattern(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.SuspiciousAgentPatterns = []string{"("}
	if _, err := NewClassifier(cfg); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestReason_Valid(t *testing.T) {
	if !ReasonRepeatedViolations.Valid() {
		t.Error("repeated_violations should be valid")
	}
	if Reason("connection_limit").Valid() {
		t.Error("connection_limit is a block record reason, not a verdict reason")
	}
}
