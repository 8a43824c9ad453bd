// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/metrics"
)

// MessageTypeMitigation is the broadcast message type of mitigation events.
const MessageTypeMitigation = "mitigation_event"

// Diagnostics attached to fail-open verdicts.
const (
	DiagnosticMissingClientAddr = "missing_client_address"
	DiagnosticInternalError     = "internal_error"
)

// maxTrackedPathLength bounds the path stored per event.
const maxTrackedPathLength = 2048

// MitigationBroadcaster publishes mitigation events, typically to websocket clients.
type MitigationBroadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// MitigationEvent describes a change to block state.
type MitigationEvent struct {
	Kind      string     `json:"kind"`
	Key       string     `json:"key,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Count     int        `json:"count,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Mitigation event kinds.
const (
	EventBlock      = "block"
	EventUnblock    = "unblock"
	EventImport     = "import"
	EventEscalation = "escalation"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the clock used by administrative and connection operations.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithBroadcaster sets the sink for mitigation events.
func WithBroadcaster(b MitigationBroadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

// Engine is the single entry point for request evaluation and the
// administrative surface over block state.
type Engine struct {
	cfg        EngineConfig
	whitelist  *Whitelist
	registry   *ClientRegistry
	classifier *Classifier
	store      *BlockStore
	conns      *ConnectionTracker
	sweeper    *Sweeper

	clock func() time.Time

	bmu         sync.RWMutex
	broadcaster MitigationBroadcaster

	diag rate.Sometimes
}

// NewEngine validates cfg and builds an engine. The sweeper does not run
// until RunWithContext is called.
func NewEngine(cfg EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	whitelist, err := NewWhitelist(cfg.WhitelistedAddresses, cfg.WhitelistedAgentSubstrings, cfg.TrustPrivateNetworks)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		whitelist:  whitelist,
		registry:   NewClientRegistry(),
		classifier: classifier,
		store:      NewBlockStore(whitelist, cfg.BlockDuration),
		conns:      NewConnectionTracker(cfg.MaxConnectionsPerClient),
		clock:      time.Now,
		diag:       rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.sweeper = NewSweeper(e.registry, e.store, e.conns, cfg.SweepInterval, cfg.IdleThreshold, e.clock)
	e.sweeper.onSweep = func(_ SweepReport, now time.Time) { e.refreshGauges(now) }
	return e, nil
}

// SetBroadcaster sets the mitigation event sink after construction.
func (e *Engine) SetBroadcaster(b MitigationBroadcaster) {
	e.bmu.Lock()
	e.broadcaster = b
	e.bmu.Unlock()
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Evaluate classifies one request. It never blocks on I/O and fails open:
// a request that cannot be classified is allowed with a diagnostic.
func (e *Engine) Evaluate(req RequestDescriptor, now time.Time) (v Verdict) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("panic", fmt.Sprint(r)).
				Str("client", req.ClientAddr).
				Msg("evaluation failed, allowing request")
			v = Verdict{Action: ActionAllow, Reason: ReasonPatternOK, Diagnostic: DiagnosticInternalError}
		}
		metrics.RecordVerdict(string(v.Action), string(v.Reason), time.Since(start))
	}()
	return e.evaluate(req, now)
}

func (e *Engine) evaluate(req RequestDescriptor, now time.Time) Verdict {
	key := NormalizeKey(req.ClientAddr)
	if key == "" {
		e.diag.Do(func() {
			logging.Warn().
				Str("method", req.Method).
				Str("path", req.Path).
				Msg("request without client address, allowing")
		})
		return Verdict{Action: ActionAllow, Reason: ReasonPatternOK, Diagnostic: DiagnosticMissingClientAddr}
	}

	if e.whitelist.IsWhitelisted(key, req.UserAgent) {
		return Verdict{Action: ActionAllow, Reason: ReasonWhitelisted}
	}

	if rec, blocked := e.store.IsBlocked(key, now); blocked {
		if esc, escalated := e.store.RecordBlockedViolation(key, now); escalated {
			return e.violationEscalated(key, esc, rec.Reason)
		}
		return Verdict{
			Action:     ActionBlock,
			Reason:     ReasonBlocked,
			Detail:     rec.Reason,
			RetryAfter: rec.Remaining(now),
		}
	}

	path := req.Path
	if len(path) > maxTrackedPathLength {
		path = path[:maxTrackedPathLength]
	}
	ev := RequestEvent{
		Timestamp:     now,
		Path:          path,
		Method:        strings.ToUpper(strings.TrimSpace(req.Method)),
		UserAgentHash: HashUserAgent(req.UserAgent),
	}
	snap := e.registry.RecordAndFetch(key, ev, req.UserAgent, now)
	v := e.classifier.Classify(&snap, now)

	switch v.Action {
	case ActionBlock:
		return e.applyBlock(key, v, now)
	case ActionWarn:
		if rec, escalated := e.store.MarkSuspicious(key, v.Reason, now, e.cfg.SuspicionDuration); escalated {
			e.registry.Forget(key)
			e.publishBlock(EventEscalation, rec)
			logging.Warn().
				Str("client", key).
				Str("reason", rec.Reason).
				Int("threshold", SuspicionThreshold).
				Msg("client blocked after repeated warnings")
			return Verdict{
				Action:     ActionBlock,
				Reason:     ReasonMultipleSuspicious,
				Detail:     fmt.Sprintf("%d warnings, last: %s", SuspicionThreshold, v.Reason),
				RetryAfter: rec.Duration,
			}
		}
	}
	return v
}

// applyBlock turns a classifier block into a block record. Rate-limit
// verdicts also feed the violation ledger, which may escalate.
func (e *Engine) applyBlock(key string, v Verdict, now time.Time) Verdict {
	if isRateReason(string(v.Reason)) {
		if rec, escalated := e.store.RecordViolation(key, now); escalated {
			return e.violationEscalated(key, rec, string(v.Reason))
		}
	}

	rec, ok := e.store.Block(key, string(v.Reason), now, e.cfg.BlockDuration)
	if !ok {
		logging.Info().Str("client", key).Str("reason", string(v.Reason)).Msg("block refused for whitelisted client")
		return v
	}
	e.registry.Forget(key)
	e.publishBlock(EventBlock, rec)
	logging.Info().
		Str("client", key).
		Str("reason", rec.Reason).
		Str("detail", v.Detail).
		Time("expires_at", rec.ExpiresAt()).
		Msg("client blocked")

	v.RetryAfter = rec.Duration
	return v
}

func (e *Engine) violationEscalated(key string, rec BlockRecord, last string) Verdict {
	e.registry.Forget(key)
	e.publishBlock(EventEscalation, rec)
	logging.Warn().
		Str("client", key).
		Str("last_violation", last).
		Int("threshold", ViolationThreshold).
		Msg("client blocked after repeated rate-limit violations")
	return Verdict{
		Action:     ActionBlock,
		Reason:     ReasonRepeatedViolations,
		Detail:     fmt.Sprintf("%d violations within %s", ViolationThreshold, ViolationWindow),
		RetryAfter: rec.Duration,
	}
}

// RecordConnectionDelta tracks a connection open (+1) or close (-1) and
// reports whether the connection may proceed. Exceeding the per-client
// ceiling blocks the client.
func (e *Engine) RecordConnectionDelta(key string, delta int) bool {
	key = NormalizeKey(key)
	if key == "" || delta == 0 {
		return true
	}
	now := e.clock()

	if delta < 0 {
		for i := 0; i < -delta; i++ {
			e.conns.Close(key, now)
		}
		metrics.SetActiveConnections(e.conns.Total())
		return true
	}

	if e.whitelist.AddressTrusted(key) {
		return true
	}
	if _, blocked := e.store.IsBlocked(key, now); blocked {
		return false
	}
	for i := 0; i < delta; i++ {
		if e.conns.Open(key, now) {
			continue
		}
		if rec, ok := e.store.Block(key, BlockReasonConnectionLimit, now, e.cfg.BlockDuration); ok {
			e.registry.Forget(key)
			e.publishBlock(EventBlock, rec)
			logging.Warn().
				Str("client", key).
				Int("limit", e.cfg.MaxConnectionsPerClient).
				Msg("connection ceiling exceeded, client blocked")
		}
		return false
	}
	metrics.SetActiveConnections(e.conns.Total())
	return true
}

// Block blocks key on behalf of an operator. A non-positive duration uses
// the configured block duration.
func (e *Engine) Block(key, reason string, duration time.Duration) BlockResult {
	key = NormalizeKey(key)
	if key == "" {
		return BlockResult{Status: BlockStatusInvalidKey}
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = BlockReasonAdmin
	}

	rec, ok := e.store.Block(key, reason, e.clock(), duration)
	if !ok {
		logging.Info().Str("client", key).Str("reason", reason).Msg("administrative block refused, client is whitelisted")
		return BlockResult{Key: key, Status: BlockStatusRefusedWhitelisted, Reason: reason}
	}
	e.registry.Forget(key)
	e.publishBlock(EventBlock, rec)
	logging.Info().Str("client", key).Str("reason", reason).Time("expires_at", rec.ExpiresAt()).Msg("client blocked by operator")

	return BlockResult{Key: key, Status: BlockStatusBlocked, Reason: reason, ExpiresAt: rec.ExpiresAt()}
}

// Unblock removes every record for key, including its activity history, so
// the next request starts from a clean slate. It reports whether a block existed.
func (e *Engine) Unblock(key, reason string) bool {
	key = NormalizeKey(key)
	if key == "" {
		return false
	}
	existed := e.store.Unblock(key)
	e.registry.Forget(key)

	e.publish(MitigationEvent{Kind: EventUnblock, Key: key, Reason: reason, Timestamp: e.clock()})
	logging.Info().Str("client", key).Str("reason", reason).Bool("existed", existed).Msg("client unblocked")
	return existed
}

// Statistics returns a point-in-time summary.
func (e *Engine) Statistics() Statistics {
	now := e.clock()
	blocked, suspicious, violations := e.store.Counts(now)
	return Statistics{
		BlockedCount:             blocked,
		SuspiciousCount:          suspicious,
		TrackedClientCount:       e.registry.Len(),
		ActiveTrackedClientCount: e.registry.ActiveCount(now),
		TotalConnections:         e.conns.Total(),
		TotalViolations:          violations,
	}
}

// ExportBlocklist returns the active blocks and suspicious keys.
func (e *Engine) ExportBlocklist() Blocklist {
	return e.store.ExportState(e.clock())
}

// ImportBlocklist blocks every key for the configured duration. Whitelisted
// and empty keys are skipped.
func (e *Engine) ImportBlocklist(keys []string, reason string) int {
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "import"
	}
	normalized := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = NormalizeKey(k); k != "" {
			normalized = append(normalized, k)
		}
	}

	n := e.store.ImportState(normalized, reason, e.clock())
	if n > 0 {
		e.publish(MitigationEvent{Kind: EventImport, Reason: reason, Count: n, Timestamp: e.clock()})
	}
	logging.Info().Int("requested", len(keys)).Int("imported", n).Str("reason", reason).Msg("block list imported")
	return n
}

// RestoreBlocklist re-creates archived blocks with their original expiry.
func (e *Engine) RestoreBlocklist(entries []BlockEntry) int {
	normalized := make([]BlockEntry, len(entries))
	for i, en := range entries {
		en.Key = NormalizeKey(en.Key)
		normalized[i] = en
	}
	n := e.store.Restore(normalized, e.clock())
	logging.Info().Int("entries", len(entries)).Int("restored", n).Msg("block list restored")
	return n
}

// Sweep runs one sweep pass immediately.
func (e *Engine) Sweep() SweepReport {
	now := e.clock()
	report := e.sweeper.SweepOnce(now)
	e.refreshGauges(now)
	return report
}

// RunWithContext runs the sweeper until ctx is canceled or Shutdown is called.
func (e *Engine) RunWithContext(ctx context.Context) error {
	return e.sweeper.Run(ctx)
}

// Shutdown stops the sweeper and waits for it. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.sweeper.Stop()
}

func (e *Engine) refreshGauges(now time.Time) {
	blocked, _, _ := e.store.Counts(now)
	metrics.SetEngineGauges(blocked, e.registry.Len(), e.conns.Total())
}

func (e *Engine) publishBlock(kind string, rec BlockRecord) {
	expires := rec.ExpiresAt()
	e.publish(MitigationEvent{
		Kind:      kind,
		Key:       rec.Key,
		Reason:    rec.Reason,
		ExpiresAt: &expires,
		Timestamp: rec.CreatedAt,
	})
	metrics.RecordMitigation(kind)
}

func (e *Engine) publish(ev MitigationEvent) {
	e.bmu.RLock()
	b := e.broadcaster
	e.bmu.RUnlock()
	if b != nil {
		b.BroadcastJSON(MessageTypeMitigation, ev)
	}
}
