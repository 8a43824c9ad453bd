// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"encoding/binary"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ActivityWindow is the trailing window kept in each client's history.
const ActivityWindow = 60 * time.Second

// Caps on lifetime sets so a client cycling methods or agents cannot grow
// its entry without bound.
const (
	maxTrackedMethods = 32
	maxTrackedAgents  = 64
)

// signature identifies identical requests.
type signature struct {
	method string
	path   string
	uaHash uint64
}

// clientActivity is owned by the registry and only touched under its shard lock.
type clientActivity struct {
	events     []RequestEvent
	pathCounts map[string]int
	sigCounts  map[signature]int
	methods    map[string]struct{}
	agents     map[uint64]struct{}
	firstSeen  time.Time
	lastSeen   time.Time
	total      int64
}

func newClientActivity(now time.Time) *clientActivity {
	return &clientActivity{
		pathCounts: make(map[string]int),
		sigCounts:  make(map[signature]int),
		methods:    make(map[string]struct{}),
		agents:     make(map[uint64]struct{}),
		firstSeen:  now,
	}
}

func (a *clientActivity) append(ev RequestEvent) {
	a.events = append(a.events, ev)
	a.pathCounts[ev.Path]++
	a.sigCounts[signature{ev.Method, ev.Path, ev.UserAgentHash}]++
	if _, ok := a.methods[ev.Method]; ok || len(a.methods) < maxTrackedMethods || isUnusualMethod(ev.Method) {
		a.methods[ev.Method] = struct{}{}
	}
	if _, ok := a.agents[ev.UserAgentHash]; ok || len(a.agents) < maxTrackedAgents {
		a.agents[ev.UserAgentHash] = struct{}{}
	}
	a.total++
	if ev.Timestamp.After(a.lastSeen) {
		a.lastSeen = ev.Timestamp
	}
}

// prune drops events with now - timestamp >= ActivityWindow and keeps the
// windowed counters in step.
func (a *clientActivity) prune(now time.Time) {
	cut := 0
	for cut < len(a.events) && now.Sub(a.events[cut].Timestamp) >= ActivityWindow {
		ev := a.events[cut]
		if a.pathCounts[ev.Path]--; a.pathCounts[ev.Path] <= 0 {
			delete(a.pathCounts, ev.Path)
		}
		sig := signature{ev.Method, ev.Path, ev.UserAgentHash}
		if a.sigCounts[sig]--; a.sigCounts[sig] <= 0 {
			delete(a.sigCounts, sig)
		}
		cut++
	}
	if cut == 0 {
		return
	}
	// Copy down instead of reslicing so the backing array does not pin old events.
	n := copy(a.events, a.events[cut:])
	clear(a.events[n:])
	a.events = a.events[:n]
}

func (a *clientActivity) snapshot(key, userAgent string) ActivitySnapshot {
	events := make([]RequestEvent, len(a.events))
	copy(events, a.events)

	maxRepeat := 0
	for _, c := range a.sigCounts {
		if c > maxRepeat {
			maxRepeat = c
		}
	}

	methods := make([]string, 0, len(a.methods))
	for m := range a.methods {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	return ActivitySnapshot{
		Key:                 key,
		Events:              events,
		DistinctPaths:       len(a.pathCounts),
		MaxIdenticalRepeats: maxRepeat,
		Methods:             methods,
		DistinctAgents:      len(a.agents),
		UserAgent:           userAgent,
		FirstSeen:           a.firstSeen,
		LastSeen:            a.lastSeen,
		TotalRequests:       a.total,
	}
}

// ActivitySnapshot is an immutable copy of a client's activity, handed to the
// classifier so it never sees shared state.
type ActivitySnapshot struct {
	Key                 string
	Events              []RequestEvent
	DistinctPaths       int
	MaxIdenticalRepeats int
	Methods             []string
	DistinctAgents      int
	UserAgent           string
	FirstSeen           time.Time
	LastSeen            time.Time
	TotalRequests       int64
}

// CountSince returns how many events are younger than d at now.
func (s *ActivitySnapshot) CountSince(now time.Time, d time.Duration) int {
	n := 0
	for i := len(s.Events) - 1; i >= 0; i-- {
		if now.Sub(s.Events[i].Timestamp) >= d {
			break
		}
		n++
	}
	return n
}

// HasMethod reports whether the method was ever seen for the client.
func (s *ActivitySnapshot) HasMethod(method string) bool {
	i := sort.SearchStrings(s.Methods, method)
	return i < len(s.Methods) && s.Methods[i] == method
}

type registryShard struct {
	mu      sync.Mutex
	clients map[string]*clientActivity
}

// ClientRegistry owns per-client activity. Each key is serialized by its
// shard lock, so concurrent requests from one client never under-count.
type ClientRegistry struct {
	shards [shardCount]*registryShard
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	r := &ClientRegistry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{clients: make(map[string]*clientActivity)}
	}
	return r
}

// RecordAndFetch appends ev to the client's history, prunes the window, and
// returns a snapshot taken under the same lock.
func (r *ClientRegistry) RecordAndFetch(key string, ev RequestEvent, userAgent string, now time.Time) ActivitySnapshot {
	s := r.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.clients[key]
	if !ok {
		a = newClientActivity(now)
		s.clients[key] = a
	}
	a.append(ev)
	a.prune(now)
	return a.snapshot(key, userAgent)
}

// EvictIdle removes clients whose last request predates now - threshold.
func (r *ClientRegistry) EvictIdle(threshold time.Duration, now time.Time) int {
	cutoff := now.Add(-threshold)
	evicted := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for key, a := range s.clients {
			if a.lastSeen.Before(cutoff) {
				delete(s.clients, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Forget drops a client's activity.
func (r *ClientRegistry) Forget(key string) {
	s := r.shards[shardIndex(key)]
	s.mu.Lock()
	delete(s.clients, key)
	s.mu.Unlock()
}

// Len returns the number of tracked clients.
func (r *ClientRegistry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.clients)
		s.mu.Unlock()
	}
	return n
}

// ActiveCount returns the clients seen within ActivityWindow of now.
func (r *ClientRegistry) ActiveCount(now time.Time) int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for _, a := range s.clients {
			if now.Sub(a.lastSeen) < ActivityWindow {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// HashUserAgent returns a 64-bit BLAKE2b digest of the user agent.
func HashUserAgent(userAgent string) uint64 {
	if userAgent == "" {
		return 0
	}
	sum := blake2b.Sum256([]byte(strings.TrimSpace(userAgent)))
	return binary.BigEndian.Uint64(sum[:8])
}
