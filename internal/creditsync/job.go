// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package creditsync reconciles fast-path credit events into the durable
// ledger.
//
// A Job runs on a fixed interval and on demand. Each pass lists the users
// that still hold unsynced events and reconciles every user independently:
//
//  1. read the unsynced events
//  2. insert them into the ledger in one transaction (duplicates ignored)
//  3. retry the insert with a fixed delay up to the configured attempt count
//  4. mark exactly those events synced, only after the commit succeeded
//
// A crash anywhere before step 4 leaves the events unsynced, and the next
// pass re-inserts them. The ledger's unique key absorbs the duplicates, so a
// user is never charged twice.
package creditsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

var (
	// ErrAlreadyRunning is returned by Start on a running job.
	ErrAlreadyRunning = errors.New("credit sync job is already running")

	// ErrNotRunning is returned by Stop on a stopped job.
	ErrNotRunning = errors.New("credit sync job is not running")
)

// Source is the fast-path side of reconciliation. *credits.FastPath
// implements it.
type Source interface {
	GetUnsynced(ctx context.Context, userID string) ([]models.CreditUsageEvent, error)
	MarkSynced(ctx context.Context, userID string, messageIDs []string) error
	UnsyncedUsers(ctx context.Context) ([]string, error)
}

// Result summarizes one pass.
type Result struct {
	Users  int `json:"users"`
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Health is the job's operational state.
type Health struct {
	Running             bool      `json:"running"`
	LastSuccessfulTick  time.Time `json:"last_successful_tick"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Job drains unsynced credit events into the ledger.
type Job struct {
	cfg    config.CreditSyncConfig
	source Source
	ledger ledger.Ledger
	clock  quartz.Clock

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// runMu keeps ticks and triggers from overlapping.
	runMu sync.Mutex
	users userLocks

	lastSuccess         time.Time
	lastErr             error
	consecutiveFailures int

	// ticks counts completed passes; tests use it to wait on the loop.
	ticks atomic.Int64
}

// NewJob creates a stopped job. Zero config values fall back to the
// defaults: 5m interval, 3 attempts, 1s delay, 30s per-user timeout and a
// concurrency of 4.
func NewJob(cfg config.CreditSyncConfig, source Source, l ledger.Ledger, clock quartz.Clock) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Job{
		cfg:    cfg,
		source: source,
		ledger: l,
		clock:  clock,
		users:  userLocks{locks: make(map[string]*userLock)},
	}
}

// Start launches the interval loop.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return ErrAlreadyRunning
	}
	j.running = true
	j.stopChan = make(chan struct{})
	metrics.SetCreditSyncRunning(true)

	j.wg.Add(1)
	go j.loop(ctx, j.stopChan)

	logging.Info().Dur("interval", j.cfg.Interval).Int("concurrency", j.cfg.Concurrency).Msg("Credit sync job started")
	return nil
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (j *Job) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return ErrNotRunning
	}
	j.running = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()
	metrics.SetCreditSyncRunning(false)
	logging.Info().Msg("Credit sync job stopped")
	return nil
}

// IsRunning reports whether the interval loop is active.
func (j *Job) IsRunning() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.running
}

func (j *Job) loop(ctx context.Context, stop <-chan struct{}) {
	defer j.wg.Done()

	ticker := j.clock.NewTicker(j.cfg.Interval, "creditsync", "tick")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := j.RunOnce(logging.ContextWithNewCorrelationID(ctx)); err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("Credit sync pass failed")
			}
		}
	}
}

// TriggerSync runs a pass now, waiting for any pass already in flight.
func (j *Job) TriggerSync(ctx context.Context) (Result, error) {
	return j.RunOnce(logging.ContextWithNewCorrelationID(ctx))
}

// RunOnce reconciles every user with unsynced events. One user's failure
// does not stop the others; the pass reports an error if any user failed.
func (j *Job) RunOnce(ctx context.Context) (res Result, err error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	start := j.clock.Now()
	defer func() {
		metrics.RecordCreditSyncRun(j.clock.Since(start), res.Synced, err)
		j.recordPass(err)
		j.ticks.Add(1)
	}()

	users, err := j.source.UnsyncedUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("list unsynced users: %w", err)
	}
	res.Users = len(users)
	if len(users) == 0 {
		return res, nil
	}

	var (
		mu      sync.Mutex
		lastErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(j.cfg.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			n, uErr := j.SyncUser(ctx, userID)
			mu.Lock()
			defer mu.Unlock()
			res.Synced += n
			if uErr != nil {
				res.Failed++
				lastErr = uErr
			}
			return nil
		})
	}
	_ = g.Wait()

	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d users failed to sync: %w", res.Failed, res.Users, lastErr)
	}

	logging.Ctx(ctx).Debug().Int("users", res.Users).Int("synced", res.Synced).Msg("Credit sync pass complete")
	return res, nil
}

// SyncUser reconciles one user and returns how many events it committed.
func (j *Job) SyncUser(ctx context.Context, userID string) (int, error) {
	unlock := j.users.lock(userID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, j.cfg.UserTimeout)
	defer cancel()

	events, err := j.source.GetUnsynced(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read unsynced events for %s: %w", userID, err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	records := make([]models.DurableCreditRecord, len(events))
	ids := make([]string, len(events))
	for i, ev := range events {
		records[i] = ev.ToDurable()
		ids[i] = ev.MessageID
	}

	if err := j.insertWithRetry(ctx, userID, records); err != nil {
		metrics.RecordCreditSyncFailure()
		logging.Ctx(ctx).Error().Err(err).Str("user_id", userID).Int("events", len(records)).
			Msg("Credit sync exhausted retries; events stay unsynced")
		return 0, err
	}

	if err := j.source.MarkSynced(ctx, userID, ids); err != nil {
		// The ledger already holds the records; the next pass re-inserts
		// them as no-ops and retries the mark.
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Failed to mark credit events synced")
		return 0, fmt.Errorf("mark synced for %s: %w", userID, err)
	}
	return len(records), nil
}

func (j *Job) insertWithRetry(ctx context.Context, userID string, records []models.DurableCreditRecord) error {
	attempt := 0
	op := func() error {
		attempt++
		err := j.ledger.InsertCreditRecords(ctx, records)
		if err != nil && ledger.IsCircuitOpen(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordCreditSyncRetry()
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Int("attempt", attempt).
			Int("max_attempts", j.cfg.RetryAttempts).Dur("delay", wait).Msg("Retrying credit insert")
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(j.cfg.RetryDelay), uint64(j.cfg.RetryAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("insert credit records after %d attempts: %w", attempt, err)
	}
	return nil
}

func (j *Job) recordPass(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.lastErr = err
		j.consecutiveFailures++
		return
	}
	j.lastErr = nil
	j.consecutiveFailures = 0
	j.lastSuccess = j.clock.Now()
}

// LastSyncTime returns when the last fully successful pass finished.
func (j *Job) LastSyncTime() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSuccess
}

// Health reports the job's operational state.
func (j *Job) Health() Health {
	j.mu.RLock()
	defer j.mu.RUnlock()
	h := Health{
		Running:             j.running,
		LastSuccessfulTick:  j.lastSuccess,
		ConsecutiveFailures: j.consecutiveFailures,
	}
	if j.lastErr != nil {
		h.LastError = j.lastErr.Error()
	}
	return h
}

// userLocks hands out one mutex per user and forgets it once unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (u *userLocks) lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}
