// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/abuseguard/internal/detection"
)

// SweepingEngine is satisfied by *detection.Engine.
type SweepingEngine interface {
	// RunWithContext runs the periodic sweep until ctx ends or the engine
	// is shut down.
	RunWithContext(ctx context.Context) error
}

// EngineService runs the detection engine's sweeper under supervision.
//
//	engine, _ := detection.NewEngine(cfg.ToEngineConfig())
//	tree.AddDetectionService(services.NewEngineService(engine))
type EngineService struct {
	engine SweepingEngine
	name   string
}

// NewEngineService creates the sweeper service wrapper.
func NewEngineService(engine SweepingEngine) *EngineService {
	return &EngineService{
		engine: engine,
		name:   "detection-sweeper",
	}
}

// Serve implements suture.Service. An engine that was shut down explicitly
// is not restarted.
func (s *EngineService) Serve(ctx context.Context) error {
	err := s.engine.RunWithContext(ctx)
	if errors.Is(err, detection.ErrEngineShutdown) {
		return suture.ErrDoNotRestart
	}
	return err
}

// String implements fmt.Stringer for suture's log messages.
func (s *EngineService) String() string {
	return s.name
}
