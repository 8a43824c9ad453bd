// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/abuseguard/internal/detection"
)

type mockSweepingEngine struct {
	err     error
	started chan struct{}
}

func (m *mockSweepingEngine) RunWithContext(ctx context.Context) error {
	close(m.started)
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return ctx.Err()
}

var (
	_ suture.Service = (*EngineService)(nil)
	_ SweepingEngine = (*detection.Engine)(nil)
)

func TestEngineService_Serve(t *testing.T) {
	t.Run("returns context error on cancel", func(t *testing.T) {
		engine := &mockSweepingEngine{started: make(chan struct{})}
		svc := NewEngineService(engine)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		<-engine.started
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve = %v, want Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return")
		}
	})

	t.Run("shutdown engine is not restarted", func(t *testing.T) {
		engine := &mockSweepingEngine{started: make(chan struct{}), err: detection.ErrEngineShutdown}
		err := NewEngineService(engine).Serve(context.Background())
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve = %v, want ErrDoNotRestart", err)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		engine := &mockSweepingEngine{started: make(chan struct{}), err: boom}
		if err := NewEngineService(engine).Serve(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Serve = %v, want boom", err)
		}
	})
}

func TestEngineService_RealEngine(t *testing.T) {
	engine, err := detection.NewEngine(detection.DefaultEngineConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	svc := NewEngineService(engine)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	engine.Shutdown()

	select {
	case err := <-errCh:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve = %v, want ErrDoNotRestart after Shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after engine shutdown")
	}

	if svc.String() != "detection-sweeper" {
		t.Errorf("String = %q", svc.String())
	}
}
