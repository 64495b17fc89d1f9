// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSimulatedFailure is returned by a MockService configured to fail.
var ErrSimulatedFailure = errors.New("simulated failure")

// MockService is a suture.Service whose failures are scripted. It is used
// to exercise restart and shutdown behavior of the tree.
type MockService struct {
	name   string
	starts atomic.Int32
	stops  atomic.Int32

	mu        sync.Mutex
	failsLeft int
	err       error
}

// NewMockService creates a service that runs until its context ends.
func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// Serve implements suture.Service.
func (m *MockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	defer m.stops.Add(1)

	m.mu.Lock()
	if m.failsLeft > 0 {
		m.failsLeft--
		m.mu.Unlock()
		return ErrSimulatedFailure
	}
	err := m.err
	m.mu.Unlock()

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

// SetFailCount makes the next n Serve calls fail.
func (m *MockService) SetFailCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failsLeft = n
}

// StartCount returns how many times Serve was called.
func (m *MockService) StartCount() int32 { return m.starts.Load() }

// StopCount returns how many times Serve returned.
func (m *MockService) StopCount() int32 { return m.stops.Load() }

func (m *MockService) String() string { return m.name }
