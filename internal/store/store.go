// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package store is the ephemeral key/value layer under presence, receipts,
// message streams and the credit fast path.
//
// Three backends implement Store:
//
//   - managed: Redis via go-redis (RedisStore)
//   - local:   embedded Badger (BadgerStore)
//   - mock:    in-process maps (MemoryStore), refused in production
//
// The backend is always chosen explicitly. A backend that cannot be reached
// returns errors wrapping ErrUnavailable; a missing key or field is never an
// error.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/roomsync/internal/config"
)

var (
	// ErrUnavailable wraps every failure to reach the backing store.
	ErrUnavailable = errors.New("store unavailable")

	// ErrWrongType is returned when a key holds a different data type.
	ErrWrongType = errors.New("key holds the wrong type")

	// ErrClosed is returned after Close. It also matches ErrUnavailable.
	ErrClosed = fmt.Errorf("%w: store closed", ErrUnavailable)
)

// Store is the ephemeral state contract. Every method is a single atomic
// round trip.
type Store interface {
	// SetHash writes one hash field.
	SetHash(ctx context.Context, key, field, value string) error
	// SetHashNX writes a field only if it does not exist and reports whether it wrote.
	SetHashNX(ctx context.Context, key, field, value string) (bool, error)
	// GetHash reads one field; found is false when the key or field is absent.
	GetHash(ctx context.Context, key, field string) (value string, found bool, err error)
	// GetAllHash returns every field of key, empty when absent.
	GetAllHash(ctx context.Context, key string) (map[string]string, error)
	// DelHash removes fields from key.
	DelHash(ctx context.Context, key string, fields ...string) error
	// AdvanceHash writes field=value in key only when order is greater than
	// the order recorded for field in orderKey, and records the new order.
	AdvanceHash(ctx context.Context, key, orderKey, field, value string, order int64) (bool, error)

	// Expire sets a TTL on key. A ttl <= 0 clears any TTL. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Persist clears the TTL on key.
	Persist(ctx context.Context, key string) error
	// Del removes keys of any type.
	Del(ctx context.Context, keys ...string) error
	// ScanKeys returns keys matching a Redis-style glob.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// AppendList appends values and returns the new length.
	AppendList(ctx context.Context, key string, values ...string) (int64, error)
	// RangeList returns items start..end inclusive; negative indexes count from the tail.
	RangeList(ctx context.Context, key string, start, end int64) ([]string, error)
	// ListLen returns the list length, 0 when absent.
	ListLen(ctx context.Context, key string) (int64, error)
	// RemoveListValue removes the first item equal to value and reports whether one was removed.
	RemoveListValue(ctx context.Context, key, value string) (bool, error)

	// IncrBy adds delta to a counter, creating it at zero.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// GetCounter reads a counter, 0 when absent.
	GetCounter(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the configured backend. clock drives logical expiry in the
// mock and local backends; pass quartz.NewReal() outside tests.
func Open(ctx context.Context, cfg config.StoreConfig, environment string, clock quartz.Clock) (Store, error) {
	switch cfg.Backend {
	case config.BackendManaged:
		return NewRedisStore(ctx, cfg.Redis)
	case config.BackendLocal:
		return NewBadgerStore(cfg.Badger, clock)
	case config.BackendMock:
		if environment == "production" {
			return nil, fmt.Errorf("mock store backend is not allowed in production")
		}
		return NewMemoryStore(clock), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// unavailable wraps a backend failure so errors.Is(err, ErrUnavailable) holds
// and the cause is still reachable.
func unavailable(backend, op string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", backend, op, ErrUnavailable, err)
}

// rangeBounds resolves LRANGE-style indexes against a list of length n.
// ok is false when the range is empty.
func rangeBounds(n, start, end int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if start > end || start >= n {
		return 0, 0, false
	}
	return start, end + 1, true
}
