// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"fmt"
)

// StartStopManager is a background worker with its own goroutines.
// *creditsync.Job and *capacity.Monitor satisfy it.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// ManagerService adapts a StartStopManager to suture:
//  1. Start(ctx) launches the worker
//  2. Serve blocks until ctx ends
//  3. Stop() waits for the worker's goroutines
type ManagerService struct {
	manager StartStopManager
	name    string
}

// NewManagerService wraps manager under name.
func NewManagerService(name string, manager StartStopManager) *ManagerService {
	return &ManagerService{manager: manager, name: name}
}

// NewCreditSyncService wraps the credit sync job.
func NewCreditSyncService(job StartStopManager) *ManagerService {
	return NewManagerService("credit-sync", job)
}

// NewCapacityMonitorService wraps the session capacity monitor.
func NewCapacityMonitorService(monitor StartStopManager) *ManagerService {
	return NewManagerService("capacity-monitor", monitor)
}

// Serve implements suture.Service. A failed Start is returned so the
// supervisor retries with backoff.
func (s *ManagerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *ManagerService) String() string {
	return s.name
}
