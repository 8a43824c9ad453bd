// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package services

import (
	"context"
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/metrics"
)

// DefaultStatsInterval is how often subscribers receive engine statistics.
const DefaultStatsInterval = 5 * time.Second

// StatsSource is satisfied by *detection.Engine.
type StatsSource interface {
	Statistics() detection.Statistics
}

// StatsHub is satisfied by *websocket.Hub.
type StatsHub interface {
	GetClientCount() int
	BroadcastStatsUpdate(stats detection.Statistics)
}

// StatsBroadcastService pushes engine statistics to event subscribers on
// a fixed interval and keeps the engine gauges current. Nothing is
// broadcast while no one is subscribed.
type StatsBroadcastService struct {
	source   StatsSource
	hub      StatsHub
	interval time.Duration
}

// NewStatsBroadcastService creates the broadcaster. A non-positive
// interval becomes DefaultStatsInterval.
func NewStatsBroadcastService(source StatsSource, hub StatsHub, interval time.Duration) *StatsBroadcastService {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &StatsBroadcastService{source: source, hub: hub, interval: interval}
}

// Serve implements suture.Service.
func (s *StatsBroadcastService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *StatsBroadcastService) tick() {
	stats := s.source.Statistics()
	metrics.SetEngineGauges(stats.BlockedCount, stats.TrackedClientCount, stats.TotalConnections)
	if s.hub.GetClientCount() == 0 {
		return
	}
	s.hub.BroadcastStatsUpdate(stats)
}

// String implements fmt.Stringer for suture's log messages.
func (s *StatsBroadcastService) String() string {
	return "stats-broadcaster"
}
