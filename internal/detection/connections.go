// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"sync"
	"time"
)

type connCounter struct {
	open       int
	lastChange time.Time
}

type connShard struct {
	mu       sync.Mutex
	counters map[string]*connCounter
}

// ConnectionTracker counts open connections per client.
type ConnectionTracker struct {
	shards [shardCount]*connShard
	limit  int
}

// NewConnectionTracker creates a tracker with the given per-client ceiling.
func NewConnectionTracker(limit int) *ConnectionTracker {
	t := &ConnectionTracker{limit: limit}
	for i := range t.shards {
		t.shards[i] = &connShard{counters: make(map[string]*connCounter)}
	}
	return t
}

// Open counts a new connection. When the ceiling would be exceeded the
// connection is not counted and Open returns false.
func (t *ConnectionTracker) Open(key string, now time.Time) bool {
	s := t.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &connCounter{}
		s.counters[key] = c
	}
	c.lastChange = now
	if c.open+1 > t.limit {
		if c.open == 0 {
			delete(s.counters, key)
		}
		return false
	}
	c.open++
	return true
}

// Close releases a connection. The count never goes below zero.
func (t *ConnectionTracker) Close(key string, now time.Time) {
	s := t.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return
	}
	c.open--
	c.lastChange = now
	if c.open <= 0 {
		delete(s.counters, key)
	}
}

// Count returns the open connections for key.
func (t *ConnectionTracker) Count(key string) int {
	s := t.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[key]; ok {
		return c.open
	}
	return 0
}

// Total returns the open connections across all clients.
func (t *ConnectionTracker) Total() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for _, c := range s.counters {
			n += c.open
		}
		s.mu.Unlock()
	}
	return n
}

// PruneIdle drops counters that have not changed for longer than threshold.
// Those are leaks from close notifications that never arrived.
func (t *ConnectionTracker) PruneIdle(threshold time.Duration, now time.Time) int {
	cutoff := now.Add(-threshold)
	pruned := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for key, c := range s.counters {
			if c.lastChange.Before(cutoff) {
				delete(s.counters, key)
				pruned++
			}
		}
		s.mu.Unlock()
	}
	return pruned
}
