// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/abuseguard/internal/logging"
	"github.com/tomtom215/abuseguard/internal/metrics"
)

// ErrEngineShutdown is returned by RunWithContext once Shutdown was called.
var ErrEngineShutdown = errors.New("detection engine shut down")

// SweepReport describes one sweep pass.
type SweepReport struct {
	SweepResult
	EvictedClients    int           `json:"evicted_clients"`
	PrunedViolations  int           `json:"pruned_violations"`
	PrunedConnections int           `json:"pruned_connections"`
	Duration          time.Duration `json:"duration"`
}

// Sweeper periodically releases expired blocks and suspicions and prunes idle
// client state, so memory stays bounded.
type Sweeper struct {
	registry *ClientRegistry
	store    *BlockStore
	conns    *ConnectionTracker
	interval time.Duration
	idle     time.Duration
	clock    func() time.Time
	onSweep  func(SweepReport, time.Time)

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. It does nothing until Run is called.
func NewSweeper(registry *ClientRegistry, store *BlockStore, conns *ConnectionTracker, interval, idle time.Duration, clock func() time.Time) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{
		registry: registry,
		store:    store,
		conns:    conns,
		interval: interval,
		idle:     idle,
		clock:    clock,
		stop:     make(chan struct{}),
	}
}

// SweepOnce runs one pass: block store sweep, idle client eviction,
// violation pruning, then stale connection counters.
func (s *Sweeper) SweepOnce(now time.Time) SweepReport {
	start := time.Now()

	report := SweepReport{SweepResult: s.store.Sweep(now)}
	report.EvictedClients = s.registry.EvictIdle(s.idle, now)
	report.PrunedViolations = s.store.PruneViolations(now)
	if s.conns != nil {
		report.PrunedConnections = s.conns.PruneIdle(s.idle, now)
	}
	report.Duration = time.Since(start)

	metrics.RecordSweep(report.Duration, map[string]int{
		"block":      report.ExpiredBlocks,
		"suspicion":  report.ExpiredSuspicions,
		"client":     report.EvictedClients,
		"violation":  report.PrunedViolations,
		"connection": report.PrunedConnections,
	})
	return report
}

// Run ticks every interval until ctx is canceled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrEngineShutdown
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().Str("interval", s.interval.String()).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("sweeper stopped")
			return ctx.Err()
		case <-s.stop:
			logging.Info().Msg("sweeper stopped by shutdown")
			return ErrEngineShutdown
		case <-ticker.C:
			now := s.clock()
			report := s.SweepOnce(now)
			if s.onSweep != nil {
				s.onSweep(report, now)
			}
			if report.ExpiredBlocks+report.ExpiredSuspicions+report.EvictedClients > 0 {
				logging.Debug().
					Int("expired_blocks", report.ExpiredBlocks).
					Int("expired_suspicions", report.ExpiredSuspicions).
					Int("evicted_clients", report.EvictedClients).
					Int("pruned_violations", report.PrunedViolations).
					Int("pruned_connections", report.PrunedConnections).
					Dur("duration", report.Duration).
					Msg("sweep completed")
			}
		}
	}
}

// Stop ends any running loop and waits for it to return. Safe to call more
// than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
