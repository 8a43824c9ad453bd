// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// errSimulated is returned by a MockService that is set to fail.
var errSimulated = errors.New("simulated failure")

// MockService is a controllable suture.Service for tree tests.
type MockService struct {
	name     string
	starts   atomic.Int32
	stops    atomic.Int32
	failures atomic.Int32

	mu       sync.Mutex
	maxFails int32
	err      error
	started  chan struct{}
}

// NewMockService creates a mock that runs until its context ends.
func NewMockService(name string) *MockService {
	return &MockService{name: name, started: make(chan struct{}, 16)}
}

// Serve implements suture.Service.
func (m *MockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	defer m.stops.Add(1)

	select {
	case m.started <- struct{}{}:
	default:
	}

	m.mu.Lock()
	err, maxFails := m.err, m.maxFails
	m.mu.Unlock()

	if maxFails > 0 && m.failures.Add(1) <= maxFails {
		return errSimulated
	}
	if err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// SetError makes every Serve call return err immediately.
func (m *MockService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetFailCount makes the first n Serve calls fail.
func (m *MockService) SetFailCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxFails = int32(n)
}

// Started receives once per Serve call, up to its buffer.
func (m *MockService) Started() <-chan struct{} {
	return m.started
}

// StartCount returns how many times Serve was called.
func (m *MockService) StartCount() int32 {
	return m.starts.Load()
}

// StopCount returns how many times Serve returned.
func (m *MockService) StopCount() int32 {
	return m.stops.Load()
}

func (m *MockService) String() string {
	return m.name
}
