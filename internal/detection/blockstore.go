// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"sort"
	"sync"
	"time"
)

// Escalation thresholds.
const (
	// SuspicionThreshold is the number of warnings that turns into a block.
	SuspicionThreshold = 5

	// ViolationThreshold is the number of rate-limit violations within
	// ViolationWindow that turns into a block.
	ViolationThreshold = 10

	// ViolationWindow is the trailing window of the violation ledger.
	ViolationWindow = time.Hour

	// ViolationSpacing is the minimum gap between ledger entries recorded
	// for requests refused by an active rate-limit block.
	ViolationSpacing = time.Second
)

type storeShard struct {
	mu         sync.Mutex
	blocks     map[string]BlockRecord
	suspicions map[string]*SuspicionRecord
	violations map[string][]time.Time
}

// BlockStore tracks blocked and suspicious clients and the rate-limit
// violation ledger. A key's three records live in the same shard so
// escalation from suspicion or violations to a block is atomic.
type BlockStore struct {
	shards          [shardCount]*storeShard
	whitelist       *Whitelist
	defaultDuration time.Duration
}

// NewBlockStore creates a store. Escalation blocks use defaultDuration.
func NewBlockStore(whitelist *Whitelist, defaultDuration time.Duration) *BlockStore {
	b := &BlockStore{whitelist: whitelist, defaultDuration: defaultDuration}
	for i := range b.shards {
		b.shards[i] = &storeShard{
			blocks:     make(map[string]BlockRecord),
			suspicions: make(map[string]*SuspicionRecord),
			violations: make(map[string][]time.Time),
		}
	}
	return b
}

func (b *BlockStore) shard(key string) *storeShard {
	return b.shards[shardIndex(key)]
}

// IsBlocked returns the active block for key. Expired records are treated as
// absent but left for Sweep to delete.
func (b *BlockStore) IsBlocked(key string, now time.Time) (BlockRecord, bool) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.blocks[key]
	if !ok || rec.Expired(now) {
		return BlockRecord{}, false
	}
	return rec, true
}

// Block inserts or overwrites the block for key. It refuses whitelisted
// addresses and returns false without changing state.
func (b *BlockStore) Block(key, reason string, now time.Time, duration time.Duration) (BlockRecord, bool) {
	if b.refused(key) {
		return BlockRecord{}, false
	}
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.blockLocked(s, key, reason, now, duration), true
}

func (b *BlockStore) refused(key string) bool {
	return key == "" || (b.whitelist != nil && b.whitelist.AddressTrusted(key))
}

func (b *BlockStore) blockLocked(s *storeShard, key, reason string, now time.Time, duration time.Duration) BlockRecord {
	if duration <= 0 {
		duration = b.defaultDuration
	}
	rec := BlockRecord{Key: key, Reason: reason, CreatedAt: now, Duration: duration}
	s.blocks[key] = rec
	return rec
}

// Unblock removes the block, suspicion and violation entries for key. It
// reports whether a block record existed.
func (b *BlockStore) Unblock(key string) bool {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.blocks[key]
	delete(s.blocks, key)
	delete(s.suspicions, key)
	delete(s.violations, key)
	return existed
}

// MarkSuspicious records a warning. When the count reaches
// SuspicionThreshold the client is blocked and the new block is returned.
func (b *BlockStore) MarkSuspicious(key string, reason Reason, now time.Time, suspicionDuration time.Duration) (BlockRecord, bool) {
	if b.refused(key) {
		return BlockRecord{}, false
	}
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.suspicions[key]
	if !ok || rec.Expired(now) {
		rec = &SuspicionRecord{FirstMarked: now, Duration: suspicionDuration}
		s.suspicions[key] = rec
	}
	rec.Reasons = append(rec.Reasons, reason)
	rec.LastMarked = now
	rec.Duration = suspicionDuration
	rec.Count++

	if rec.Count < SuspicionThreshold {
		return BlockRecord{}, false
	}
	delete(s.suspicions, key)
	return b.blockLocked(s, key, string(ReasonMultipleSuspicious), now, b.defaultDuration), true
}

// RecordViolation appends a rate-limit violation. When the pruned ledger
// reaches ViolationThreshold the client is blocked and the block is returned.
func (b *BlockStore) RecordViolation(key string, now time.Time) (BlockRecord, bool) {
	if b.refused(key) {
		return BlockRecord{}, false
	}
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := pruneLedger(append(s.violations[key], now), now)
	s.violations[key] = ledger
	if len(ledger) < ViolationThreshold {
		return BlockRecord{}, false
	}
	return b.blockLocked(s, key, string(ReasonRepeatedViolations), now, b.defaultDuration), true
}

// RecordBlockedViolation counts a request refused by an active rate-limit
// block as a violation, at most one per ViolationSpacing. Clients that keep
// sending while blocked escalate to repeated_violations, which restarts the
// block. Blocks for any other reason are left alone.
func (b *BlockStore) RecordBlockedViolation(key string, now time.Time) (BlockRecord, bool) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.blocks[key]
	if !ok || rec.Expired(now) || !isRateReason(rec.Reason) {
		return BlockRecord{}, false
	}
	ledger := s.violations[key]
	if n := len(ledger); n > 0 && now.Sub(ledger[n-1]) < ViolationSpacing {
		return BlockRecord{}, false
	}
	ledger = pruneLedger(append(ledger, now), now)
	s.violations[key] = ledger
	if len(ledger) < ViolationThreshold {
		return BlockRecord{}, false
	}
	return b.blockLocked(s, key, string(ReasonRepeatedViolations), now, b.defaultDuration), true
}

func isRateReason(reason string) bool {
	return reason == string(ReasonRatePerMinute) || reason == string(ReasonRatePerSecond)
}

// pruneLedger drops entries older than ViolationWindow in place.
func pruneLedger(ledger []time.Time, now time.Time) []time.Time {
	cut := 0
	for cut < len(ledger) && now.Sub(ledger[cut]) > ViolationWindow {
		cut++
	}
	if cut == 0 {
		return ledger
	}
	n := copy(ledger, ledger[cut:])
	return ledger[:n]
}

// SweepResult counts records released by Sweep.
type SweepResult struct {
	ExpiredBlocks     int `json:"expired_blocks"`
	ExpiredSuspicions int `json:"expired_suspicions"`
}

// Sweep deletes expired block and suspicion records, one shard at a time.
func (b *BlockStore) Sweep(now time.Time) SweepResult {
	var res SweepResult
	for _, s := range b.shards {
		s.mu.Lock()
		for key, rec := range s.blocks {
			if rec.Expired(now) {
				delete(s.blocks, key)
				res.ExpiredBlocks++
			}
		}
		for key, rec := range s.suspicions {
			if rec.Expired(now) {
				delete(s.suspicions, key)
				res.ExpiredSuspicions++
			}
		}
		s.mu.Unlock()
	}
	return res
}

// PruneViolations drops ledger entries older than ViolationWindow and removes
// empty ledgers. It returns the number of entries dropped.
func (b *BlockStore) PruneViolations(now time.Time) int {
	dropped := 0
	for _, s := range b.shards {
		s.mu.Lock()
		for key, ledger := range s.violations {
			before := len(ledger)
			ledger = pruneLedger(ledger, now)
			dropped += before - len(ledger)
			if len(ledger) == 0 {
				delete(s.violations, key)
				continue
			}
			s.violations[key] = ledger
		}
		s.mu.Unlock()
	}
	return dropped
}

// Counts returns the number of active blocks, active suspicions and
// violations within the window.
func (b *BlockStore) Counts(now time.Time) (blocked, suspicious, violations int) {
	for _, s := range b.shards {
		s.mu.Lock()
		for _, rec := range s.blocks {
			if !rec.Expired(now) {
				blocked++
			}
		}
		for _, rec := range s.suspicions {
			if !rec.Expired(now) {
				suspicious++
			}
		}
		for _, ledger := range s.violations {
			for _, t := range ledger {
				if now.Sub(t) <= ViolationWindow {
					violations++
				}
			}
		}
		s.mu.Unlock()
	}
	return blocked, suspicious, violations
}

// Suspicion returns a copy of the active suspicion record for key.
func (b *BlockStore) Suspicion(key string, now time.Time) (SuspicionRecord, bool) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.suspicions[key]
	if !ok || rec.Expired(now) {
		return SuspicionRecord{}, false
	}
	cp := *rec
	cp.Reasons = append([]Reason(nil), rec.Reasons...)
	return cp, true
}

// ExportState returns the active blocks and suspicious keys, sorted by key.
func (b *BlockStore) ExportState(now time.Time) Blocklist {
	list := Blocklist{
		Version:        BlocklistVersion,
		GeneratedAt:    now,
		Blocked:        []BlockEntry{},
		SuspiciousKeys: []string{},
	}
	for _, s := range b.shards {
		s.mu.Lock()
		for key, rec := range s.blocks {
			if rec.Expired(now) {
				continue
			}
			list.Blocked = append(list.Blocked, BlockEntry{
				Key:       key,
				Reason:    rec.Reason,
				CreatedAt: rec.CreatedAt,
				ExpiresAt: rec.ExpiresAt(),
			})
		}
		for key, rec := range s.suspicions {
			if !rec.Expired(now) {
				list.SuspiciousKeys = append(list.SuspiciousKeys, key)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(list.Blocked, func(i, j int) bool { return list.Blocked[i].Key < list.Blocked[j].Key })
	sort.Strings(list.SuspiciousKeys)
	return list
}

// ImportState blocks every key for the default duration, skipping
// whitelisted and empty keys. It returns the number of keys imported.
func (b *BlockStore) ImportState(keys []string, reason string, now time.Time) int {
	imported := 0
	for _, key := range keys {
		if _, ok := b.Block(key, reason, now, b.defaultDuration); ok {
			imported++
		}
	}
	return imported
}

// Restore re-creates archived blocks with their original expiry. Entries that
// have already expired or whose key is whitelisted are skipped.
func (b *BlockStore) Restore(entries []BlockEntry, now time.Time) int {
	restored := 0
	for _, e := range entries {
		if !e.ExpiresAt.After(now) || e.CreatedAt.IsZero() {
			continue
		}
		if _, ok := b.Block(e.Key, e.Reason, e.CreatedAt, e.ExpiresAt.Sub(e.CreatedAt)); ok {
			restored++
		}
	}
	return restored
}
