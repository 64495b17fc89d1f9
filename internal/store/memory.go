// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gobwas/glob"

	"github.com/tomtom215/roomsync/internal/metrics"
)

const backendMock = "mock"

type entryKind int

const (
	kindHash entryKind = iota + 1
	kindList
	kindCounter
)

type memEntry struct {
	kind     entryKind
	hash     map[string]string
	list     []string
	counter  int64
	expireAt time.Time // zero = no expiry
}

// MemoryStore is the mock backend. Expiry is evaluated against the injected
// clock so tests can move time forward with quartz.Mock.
type MemoryStore struct {
	mu      sync.Mutex
	clock   quartz.Clock
	entries map[string]*memEntry
	fault   error
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock quartz.Clock) *MemoryStore {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &MemoryStore{
		clock:   clock,
		entries: make(map[string]*memEntry),
	}
}

// SetFault makes every subsequent call fail with ErrUnavailable wrapping err,
// until SetFault(nil). Used to simulate a store outage.
func (m *MemoryStore) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

// begin locks the store and checks for closure or an injected fault.
// When err is nil the caller must call the returned func to unlock.
func (m *MemoryStore) begin(op string) (func(), error) {
	start := time.Now()
	m.mu.Lock()
	var err error
	switch {
	case m.closed:
		err = fmt.Errorf("%s %s: %w", backendMock, op, ErrClosed)
	case m.fault != nil:
		err = unavailable(backendMock, op, m.fault)
	}
	if err != nil {
		m.mu.Unlock()
		metrics.RecordStoreOp(backendMock, op, time.Since(start), err)
		return nil, err
	}
	return func() {
		m.mu.Unlock()
		metrics.RecordStoreOp(backendMock, op, time.Since(start), nil)
	}, nil
}

// get returns the live entry for key, dropping it if expired. Caller holds mu.
func (m *MemoryStore) get(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !m.clock.Now().Before(e.expireAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// getOrCreate returns the live entry for key, creating one of kind if absent.
func (m *MemoryStore) getOrCreate(key string, kind entryKind) (*memEntry, error) {
	e := m.get(key)
	if e == nil {
		e = &memEntry{kind: kind}
		if kind == kindHash {
			e.hash = make(map[string]string)
		}
		m.entries[key] = e
		return e, nil
	}
	if e.kind != kind {
		return nil, ErrWrongType
	}
	return e, nil
}

func (m *MemoryStore) getTyped(key string, kind entryKind) (*memEntry, error) {
	e := m.get(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kind {
		return nil, ErrWrongType
	}
	return e, nil
}

func (m *MemoryStore) SetHash(_ context.Context, key, field, value string) (err error) {
	done, err := m.begin("hset")
	if err != nil {
		return err
	}
	defer done()

	e, err := m.getOrCreate(key, kindHash)
	if err != nil {
		return err
	}
	e.hash[field] = value
	return nil
}

func (m *MemoryStore) SetHashNX(_ context.Context, key, field, value string) (ok bool, err error) {
	done, err := m.begin("hsetnx")
	if err != nil {
		return false, err
	}
	defer done()

	e, err := m.getOrCreate(key, kindHash)
	if err != nil {
		return false, err
	}
	if _, exists := e.hash[field]; exists {
		return false, nil
	}
	e.hash[field] = value
	return true, nil
}

func (m *MemoryStore) GetHash(_ context.Context, key, field string) (v string, found bool, err error) {
	done, err := m.begin("hget")
	if err != nil {
		return "", false, err
	}
	defer done()

	e, err := m.getTyped(key, kindHash)
	if err != nil || e == nil {
		return "", false, err
	}
	v, found = e.hash[field]
	return v, found, nil
}

func (m *MemoryStore) GetAllHash(_ context.Context, key string) (out map[string]string, err error) {
	done, err := m.begin("hgetall")
	if err != nil {
		return nil, err
	}
	defer done()

	out = make(map[string]string)
	e, err := m.getTyped(key, kindHash)
	if err != nil || e == nil {
		return out, err
	}
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

func (m *MemoryStore) DelHash(_ context.Context, key string, fields ...string) (err error) {
	done, err := m.begin("hdel")
	if err != nil {
		return err
	}
	defer done()

	e, err := m.getTyped(key, kindHash)
	if err != nil || e == nil {
		return err
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryStore) AdvanceHash(_ context.Context, key, orderKey, field, value string, order int64) (ok bool, err error) {
	done, err := m.begin("hadvance")
	if err != nil {
		return false, err
	}
	defer done()

	e, err := m.getOrCreate(key, kindHash)
	if err != nil {
		return false, err
	}
	oe, err := m.getOrCreate(orderKey, kindHash)
	if err != nil {
		return false, err
	}
	if cur, exists := oe.hash[field]; exists {
		if n, perr := strconv.ParseInt(cur, 10, 64); perr == nil && n >= order {
			return false, nil
		}
	}
	e.hash[field] = value
	oe.hash[field] = strconv.FormatInt(order, 10)
	return true, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (err error) {
	done, err := m.begin("expire")
	if err != nil {
		return err
	}
	defer done()

	e := m.get(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		e.expireAt = time.Time{}
		return nil
	}
	e.expireAt = m.clock.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) Persist(ctx context.Context, key string) error {
	return m.Expire(ctx, key, 0)
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) (err error) {
	done, err := m.begin("del")
	if err != nil {
		return err
	}
	defer done()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryStore) ScanKeys(_ context.Context, pattern string) (keys []string, err error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid scan pattern %q: %w", pattern, err)
	}

	done, err := m.begin("scan")
	if err != nil {
		return nil, err
	}
	defer done()

	for k := range m.entries {
		if m.get(k) != nil && g.Match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) AppendList(_ context.Context, key string, values ...string) (n int64, err error) {
	done, err := m.begin("rpush")
	if err != nil {
		return 0, err
	}
	defer done()

	e, err := m.getOrCreate(key, kindList)
	if err != nil {
		return 0, err
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

func (m *MemoryStore) RangeList(_ context.Context, key string, start, end int64) (out []string, err error) {
	done, err := m.begin("lrange")
	if err != nil {
		return nil, err
	}
	defer done()

	e, err := m.getTyped(key, kindList)
	if err != nil || e == nil {
		return nil, err
	}
	lo, hi, ok := rangeBounds(int64(len(e.list)), start, end)
	if !ok {
		return nil, nil
	}
	out = make([]string, hi-lo)
	copy(out, e.list[lo:hi])
	return out, nil
}

func (m *MemoryStore) ListLen(_ context.Context, key string) (n int64, err error) {
	done, err := m.begin("llen")
	if err != nil {
		return 0, err
	}
	defer done()

	e, err := m.getTyped(key, kindList)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.list)), nil
}

func (m *MemoryStore) RemoveListValue(_ context.Context, key, value string) (removed bool, err error) {
	done, err := m.begin("lrem")
	if err != nil {
		return false, err
	}
	defer done()

	e, err := m.getTyped(key, kindList)
	if err != nil || e == nil {
		return false, err
	}
	for i, v := range e.list {
		if v == value {
			e.list = append(e.list[:i], e.list[i+1:]...)
			if len(e.list) == 0 {
				delete(m.entries, key)
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (n int64, err error) {
	done, err := m.begin("incrby")
	if err != nil {
		return 0, err
	}
	defer done()

	e, err := m.getOrCreate(key, kindCounter)
	if err != nil {
		return 0, err
	}
	e.counter += delta
	return e.counter, nil
}

func (m *MemoryStore) GetCounter(_ context.Context, key string) (n int64, err error) {
	done, err := m.begin("get")
	if err != nil {
		return 0, err
	}
	defer done()

	e, err := m.getTyped(key, kindCounter)
	if err != nil || e == nil {
		return 0, err
	}
	return e.counter, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	done, err := m.begin("ping")
	if err != nil {
		return err
	}
	done()
	return nil
}

// Close discards all state.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}

// TTL returns the remaining TTL of key, or -1 when it has none and -2 when
// it does not exist, mirroring Redis PTTL.
func (m *MemoryStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(key)
	if e == nil {
		return -2
	}
	if e.expireAt.IsZero() {
		return -1
	}
	return e.expireAt.Sub(m.clock.Now())
}
