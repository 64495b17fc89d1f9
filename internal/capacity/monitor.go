// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package capacity bounds ephemeral message growth per room.
//
// Two independent triggers funnel into the same RoomFlusher:
//
//   - capacity: every check interval, rooms whose stream length reached
//     threshold x max are flushed immediately
//   - interval: every sync interval, every room is flushed
//
// The check is cheap (one scan plus one length per room). The flush does the
// heavier archive, evict and credit reconciliation work.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

// Flush reasons, used as metric labels.
const (
	ReasonCapacity = "capacity"
	ReasonInterval = "interval"
)

var (
	// ErrAlreadyRunning is returned by Start on a running monitor.
	ErrAlreadyRunning = errors.New("capacity monitor is already running")

	// ErrNotRunning is returned by Stop on a stopped monitor.
	ErrNotRunning = errors.New("capacity monitor is not running")
)

// Monitor watches room stream lengths.
type Monitor struct {
	cfg     config.CapacityConfig
	msgs    Messages
	flusher Flusher
	clock   quartz.Clock

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a stopped monitor. Zero config values fall back to
// 500 messages, a 0.8 threshold, a 60s check and a 5m sync.
func NewMonitor(cfg config.CapacityConfig, msgs Messages, flusher Flusher, clock quartz.Clock) *Monitor {
	if cfg.MaxMessagesPerSession <= 0 {
		cfg.MaxMessagesPerSession = 500
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.8
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Monitor{cfg: cfg, msgs: msgs, flusher: flusher, clock: clock}
}

// State computes the capacity view of one room.
func (m *Monitor) State(ctx context.Context, roomID string) (models.SessionState, error) {
	n, err := m.msgs.Count(ctx, roomID)
	if err != nil {
		return models.SessionState{RoomID: roomID}, err
	}
	return models.SessionState{
		RoomID:           roomID,
		MessageCount:     n,
		CapacityFraction: float64(n) / float64(m.cfg.MaxMessagesPerSession),
	}, nil
}

// overThreshold reports count >= threshold x max.
func (m *Monitor) overThreshold(s models.SessionState) bool {
	return float64(s.MessageCount) >= m.cfg.Threshold*float64(m.cfg.MaxMessagesPerSession)
}

// CheckOnce evaluates every room and flushes those over the threshold. It
// returns the states it evaluated and the rooms it flushed.
func (m *Monitor) CheckOnce(ctx context.Context) ([]models.SessionState, []string, error) {
	rooms, err := m.msgs.Rooms(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list rooms: %w", err)
	}

	states := make([]models.SessionState, 0, len(rooms))
	var (
		flushed []string
		errs    []error
		maxFrac float64
	)
	for _, room := range rooms {
		s, err := m.State(ctx, room)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		states = append(states, s)
		if s.CapacityFraction > maxFrac {
			maxFrac = s.CapacityFraction
		}
		if !m.overThreshold(s) {
			continue
		}

		logging.Ctx(ctx).Info().Str("room_id", room).Int64("messages", s.MessageCount).
			Float64("capacity", s.CapacityFraction).Msg("Room over capacity threshold, flushing early")
		if err := m.flush(ctx, room, ReasonCapacity); err != nil {
			errs = append(errs, err)
		}
		flushed = append(flushed, room)
	}
	metrics.SessionCapacityMax.Set(maxFrac)
	return states, flushed, errors.Join(errs...)
}

// SyncAll flushes every room regardless of size.
func (m *Monitor) SyncAll(ctx context.Context) error {
	rooms, err := m.msgs.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	var errs []error
	for _, room := range rooms {
		if err := m.flush(ctx, room, ReasonInterval); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) flush(ctx context.Context, roomID, reason string) error {
	res, err := m.flusher.FlushRoom(ctx, roomID)
	metrics.RecordCapacityFlush(reason, res.Archived, res.Evicted, err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room_id", roomID).Str("reason", reason).Msg("Room flush failed")
	}
	return err
}

// Start launches the check and sync loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.loop(ctx, m.stopChan)

	logging.Info().Int("max_messages", m.cfg.MaxMessagesPerSession).Float64("threshold", m.cfg.Threshold).
		Dur("check_interval", m.cfg.CheckInterval).Dur("sync_interval", m.cfg.SyncInterval).
		Msg("Capacity monitor started")
	return nil
}

// Stop ends the loop and waits for an in-flight check to finish.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info().Msg("Capacity monitor stopped")
	return nil
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	check := m.clock.NewTicker(m.cfg.CheckInterval, "capacity", "check")
	defer check.Stop()
	full := m.clock.NewTicker(m.cfg.SyncInterval, "capacity", "sync")
	defer full.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-check.C:
			if _, _, err := m.CheckOnce(logging.ContextWithNewCorrelationID(ctx)); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Capacity check failed")
			}
		case <-full.C:
			if err := m.SyncAll(logging.ContextWithNewCorrelationID(ctx)); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Session sync failed")
			}
		}
	}
}
