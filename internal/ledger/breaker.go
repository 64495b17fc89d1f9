// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package ledger

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

// BreakerSettings tunes the circuit breaker in front of a Ledger.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32        // probes allowed in half-open state
	Interval    time.Duration // closed-state count reset
	Timeout     time.Duration // open-state wait before half-open
	MinRequests uint32        // requests needed before tripping
	FailureRate float64       // trip at or above this ratio
}

// DefaultBreakerSettings opens after 60% failures over at least 5 requests
// and probes again after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:        "ledger",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		MinRequests: 5,
		FailureRate: 0.6,
	}
}

// Breaker wraps a Ledger with a circuit breaker. While the circuit is open,
// calls fail fast with an error matching both ErrDurableWrite and
// gobreaker.ErrOpenState.
//
// The breaker runs on real time. Tests drive it by request counts, not by
// waiting out the timeout.
type Breaker struct {
	next Ledger
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreaker wraps next.
func NewBreaker(next Ledger, s BreakerSettings) *Breaker {
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRate {
				logging.Warn().Str("breaker", s.Name).Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		// Caller cancellation says nothing about ledger health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{next: next, cb: cb, name: s.Name}
}

// State reports the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case IsCircuitOpen(err):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, durable("circuit", err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return result, err
}

func (b *Breaker) run(fn func() error) error {
	_, err := b.execute(func() (any, error) { return nil, fn() })
	return err
}

// InsertCreditRecords implements Ledger.
func (b *Breaker) InsertCreditRecords(ctx context.Context, records []models.DurableCreditRecord) error {
	return b.run(func() error { return b.next.InsertCreditRecords(ctx, records) })
}

// SumCreditsForUser implements Ledger.
func (b *Breaker) SumCreditsForUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := b.run(func() (err error) {
		total, err = b.next.SumCreditsForUser(ctx, userID)
		return err
	})
	return total, err
}

// ListCreditHistory implements Ledger.
func (b *Breaker) ListCreditHistory(ctx context.Context, userID string, limit, offset int) ([]models.DurableCreditRecord, error) {
	var out []models.DurableCreditRecord
	err := b.run(func() (err error) {
		out, err = b.next.ListCreditHistory(ctx, userID, limit, offset)
		return err
	})
	return out, err
}

// ArchiveMessages implements Ledger.
func (b *Breaker) ArchiveMessages(ctx context.Context, msgs []models.ChatMessage) error {
	return b.run(func() error { return b.next.ArchiveMessages(ctx, msgs) })
}

// CountArchivedMessages implements Ledger.
func (b *Breaker) CountArchivedMessages(ctx context.Context, roomID string) (int64, error) {
	var n int64
	err := b.run(func() (err error) {
		n, err = b.next.CountArchivedMessages(ctx, roomID)
		return err
	})
	return n, err
}

// Ping bypasses the breaker so readiness reflects the ledger itself.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

// Close implements Ledger.
func (b *Breaker) Close() error {
	return b.next.Close()
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
