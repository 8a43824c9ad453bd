// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"fmt"
	"regexp"
	"time"

	"github.com/tomtom215/abuseguard/internal/validation"
)

// Action is the decision part of a verdict.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// Reason identifies why a verdict was reached.
// The set of reason codes is closed; callers map them to responses.
type Reason string

const (
	// ReasonWhitelisted marks traffic from a trusted origin. No state is tracked for it.
	ReasonWhitelisted Reason = "whitelisted"

	// ReasonBlocked is returned while an active block record exists for the client.
	ReasonBlocked Reason = "blocked"

	// ReasonRatePerMinute is the sustained request rate rule.
	ReasonRatePerMinute Reason = "rate_per_minute"

	// ReasonRatePerSecond is the burst request rate rule.
	ReasonRatePerSecond Reason = "rate_per_second"

	// ReasonScanningDetected fires on path enumeration.
	ReasonScanningDetected Reason = "scanning_detected"

	// ReasonReplaySuspected fires when one request signature repeats too often.
	ReasonReplaySuspected Reason = "replay_suspected"

	// ReasonSuspiciousAgent is a warning for missing, short or automation user agents.
	ReasonSuspiciousAgent Reason = "suspicious_agent"

	// ReasonUnusualMethod fires once TRACE or TRACK has been seen from the client.
	ReasonUnusualMethod Reason = "unusual_method"

	// ReasonMultipleSuspicious is the escalation of repeated warnings into a block.
	ReasonMultipleSuspicious Reason = "multiple_suspicious_activities"

	// ReasonRepeatedViolations is the escalation of repeated rate-limit violations.
	ReasonRepeatedViolations Reason = "repeated_violations"

	// ReasonPatternOK means no rule matched.
	ReasonPatternOK Reason = "pattern_ok"
)

var knownReasons = map[Reason]struct{}{
	ReasonWhitelisted:        {},
	ReasonBlocked:            {},
	ReasonRatePerMinute:      {},
	ReasonRatePerSecond:      {},
	ReasonScanningDetected:   {},
	ReasonReplaySuspected:    {},
	ReasonSuspiciousAgent:    {},
	ReasonUnusualMethod:      {},
	ReasonMultipleSuspicious: {},
	ReasonRepeatedViolations: {},
	ReasonPatternOK:          {},
}

// Valid reports whether r belongs to the closed set of reason codes.
func (r Reason) Valid() bool {
	_, ok := knownReasons[r]
	return ok
}

// Block record reasons that are not verdict reasons.
const (
	// BlockReasonConnectionLimit is stored on blocks created by the connection ceiling.
	BlockReasonConnectionLimit = "connection_limit"

	// BlockReasonAdmin is used when an operator blocks without giving a reason.
	BlockReasonAdmin = "admin"
)

// Verdict is the engine's decision for one request.
type Verdict struct {
	Action Action `json:"action"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`

	// Diagnostic is set when the request could not be classified and the
	// engine failed open.
	Diagnostic string `json:"diagnostic,omitempty"`

	// RetryAfter is the remaining block time for block verdicts.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Allowed reports whether the caller should let the request through.
// Warn verdicts are allowed.
func (v Verdict) Allowed() bool {
	return v.Action != ActionBlock
}

// RequestDescriptor is the normalized view of one inbound request.
type RequestDescriptor struct {
	ClientAddr string `json:"client_addr" validate:"max=256"`
	Method     string `json:"method" validate:"max=32"`
	Path       string `json:"path" validate:"max=4096"`
	UserAgent  string `json:"user_agent" validate:"max=1024"`
}

// RequestEvent is one request appended to a client's rolling history.
type RequestEvent struct {
	Timestamp     time.Time
	Path          string
	Method        string
	UserAgentHash uint64
}

// BlockRecord is an active block on a client key.
type BlockRecord struct {
	Key       string        `json:"key"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`
}

// ExpiresAt returns the instant the block stops being enforced.
func (b BlockRecord) ExpiresAt() time.Time {
	return b.CreatedAt.Add(b.Duration)
}

// Expired uses the same comparison for lazy lookups and sweeps.
func (b BlockRecord) Expired(now time.Time) bool {
	return now.Sub(b.CreatedAt) >= b.Duration
}

// Remaining returns how long the block stays active after now.
func (b BlockRecord) Remaining(now time.Time) time.Duration {
	if r := b.ExpiresAt().Sub(now); r > 0 {
		return r
	}
	return 0
}

// SuspicionRecord accumulates warnings for a client.
type SuspicionRecord struct {
	Reasons     []Reason      `json:"reasons"`
	FirstMarked time.Time     `json:"first_marked"`
	LastMarked  time.Time     `json:"last_marked"`
	Count       int           `json:"count"`
	Duration    time.Duration `json:"duration"`
}

// Expired reports whether the record has gone quiet for longer than its duration.
func (s *SuspicionRecord) Expired(now time.Time) bool {
	return now.Sub(s.LastMarked) > s.Duration
}

// Statistics summarizes engine state for operators.
type Statistics struct {
	BlockedCount             int `json:"blocked_count"`
	SuspiciousCount          int `json:"suspicious_count"`
	TrackedClientCount       int `json:"tracked_client_count"`
	ActiveTrackedClientCount int `json:"active_tracked_client_count"`
	TotalConnections         int `json:"total_connections"`
	TotalViolations          int `json:"total_violations"`
}

// BlockEntry is the exported form of a block record.
type BlockEntry struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Blocklist is the bulk interchange format for block state.
type Blocklist struct {
	Version        int          `json:"version"`
	GeneratedAt    time.Time    `json:"generated_at"`
	Blocked        []BlockEntry `json:"blocked"`
	SuspiciousKeys []string     `json:"suspicious_keys"`
}

// BlocklistVersion is the current interchange format version.
const BlocklistVersion = 1

// BlockedKeys returns the keys of all blocked entries.
func (b Blocklist) BlockedKeys() []string {
	keys := make([]string, len(b.Blocked))
	for i, e := range b.Blocked {
		keys[i] = e.Key
	}
	return keys
}

// BlockStatus is the outcome of an administrative block.
type BlockStatus string

const (
	BlockStatusBlocked            BlockStatus = "blocked"
	BlockStatusRefusedWhitelisted BlockStatus = "refused_whitelisted"
	BlockStatusInvalidKey         BlockStatus = "invalid_key"
)

// BlockResult reports what an administrative block did.
type BlockResult struct {
	Key       string      `json:"key"`
	Status    BlockStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
}

// Applied reports whether a block record was written.
func (r BlockResult) Applied() bool {
	return r.Status == BlockStatusBlocked
}

// EngineConfig holds every tunable of the engine. It is immutable after NewEngine.
type EngineConfig struct {
	MaxRequestsPerMinute int `json:"max_requests_per_minute" validate:"min=1"`
	MaxRequestsPerSecond int `json:"max_requests_per_second" validate:"min=1"`
	MaxDistinctPaths     int `json:"max_distinct_paths" validate:"min=1"`
	MaxIdenticalRequests int `json:"max_identical_requests" validate:"min=1"`

	// MaxConnectionsPerClient is the concurrent connection ceiling per client.
	MaxConnectionsPerClient int `json:"max_connections_per_client" validate:"min=1"`

	BlockDuration     time.Duration `json:"block_duration" validate:"gt=0"`
	SuspicionDuration time.Duration `json:"suspicion_duration" validate:"gt=0"`
	SweepInterval     time.Duration `json:"sweep_interval" validate:"gt=0"`

	// IdleThreshold is how long a client may stay silent before its activity is evicted.
	IdleThreshold time.Duration `json:"idle_threshold" validate:"gt=0"`

	// WhitelistedAddresses accepts single addresses and CIDR prefixes.
	WhitelistedAddresses []string `json:"whitelisted_addresses"`

	// WhitelistedAgentSubstrings are matched case-insensitively.
	WhitelistedAgentSubstrings []string `json:"whitelisted_agent_substrings"`

	// SuspiciousAgentPatterns are regular expressions matched case-insensitively.
	SuspiciousAgentPatterns []string `json:"suspicious_agent_patterns"`

	// TrustPrivateNetworks whitelists loopback, private and link-local ranges.
	TrustPrivateNetworks bool `json:"trust_private_networks"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRequestsPerMinute:    300,
		MaxRequestsPerSecond:    10,
		MaxDistinctPaths:        100,
		MaxIdenticalRequests:    60,
		MaxConnectionsPerClient: 50,
		BlockDuration:           time.Hour,
		SuspicionDuration:       30 * time.Minute,
		SweepInterval:           time.Minute,
		IdleThreshold:           time.Hour,
		WhitelistedAddresses:    []string{},
		WhitelistedAgentSubstrings: []string{
			"kube-probe", "elb-healthchecker", "googlehc",
		},
		SuspiciousAgentPatterns: []string{
			`curl`, `wget`, `python-requests`, `python-urllib`, `go-http-client`,
			`scrapy`, `bot\b`, `crawler`, `spider`, `headless`, `phantomjs`,
			`selenium`, `puppeteer`, `nikto`, `sqlmap`, `nmap`, `masscan`, `zgrab`,
		},
		TrustPrivateNetworks: true,
	}
}

// Validate checks field ranges and that every pattern compiles.
func (c *EngineConfig) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("invalid engine config: %w", verr)
	}
	if _, err := compilePatterns(c.SuspiciousAgentPatterns); err != nil {
		return err
	}
	if _, err := parseAddressList(c.WhitelistedAddresses); err != nil {
		return err
	}
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid suspicious agent pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
