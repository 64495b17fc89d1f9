// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dgraph-io/badger/v4"
	"github.com/gobwas/glob"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

const backendLocal = "badger"

// Key layout. Logical keys never contain NUL (ids are validated), so NUL is
// a safe separator.
//
//	m\x00<key>                 meta: kind, expireAt, n, count
//	h\x00<key>\x00<field>      hash field value
//	l\x00<key>\x00<seq:8 BE>   list item
const (
	metaPrefix = "m\x00"
	hashPrefix = "h\x00"
	listPrefix = "l\x00"
	metaSize   = 1 + 8 + 8 + 8
	maxRetries = 8
)

// meta is the per-key header. n is the counter value for counters and the
// next item sequence for lists; count is the list length.
type meta struct {
	kind     entryKind
	expireAt int64 // unix nanos, 0 = no expiry
	n        int64
	count    int64
}

func (m meta) encode() []byte {
	b := make([]byte, metaSize)
	b[0] = byte(m.kind)
	binary.BigEndian.PutUint64(b[1:9], uint64(m.expireAt))
	binary.BigEndian.PutUint64(b[9:17], uint64(m.n))
	binary.BigEndian.PutUint64(b[17:25], uint64(m.count))
	return b
}

func decodeMeta(b []byte) (meta, error) {
	if len(b) != metaSize {
		return meta{}, fmt.Errorf("corrupt meta entry (%d bytes)", len(b))
	}
	return meta{
		kind:     entryKind(b[0]),
		expireAt: int64(binary.BigEndian.Uint64(b[1:9])),
		n:        int64(binary.BigEndian.Uint64(b[9:17])),
		count:    int64(binary.BigEndian.Uint64(b[17:25])),
	}, nil
}

func metaKey(key string) []byte { return []byte(metaPrefix + key) }

func fieldPrefix(key string) []byte { return []byte(hashPrefix + key + "\x00") }

func fieldKey(key, field string) []byte { return []byte(hashPrefix + key + "\x00" + field) }

func itemPrefix(key string) []byte { return []byte(listPrefix + key + "\x00") }

func itemKey(key string, seq int64) []byte {
	p := itemPrefix(key)
	b := make([]byte, len(p)+8)
	copy(b, p)
	binary.BigEndian.PutUint64(b[len(p):], uint64(seq))
	return b
}

// BadgerStore is the local backend: an embedded Badger database holding
// hashes, lists and counters as flat keys. Expiry is logical and evaluated
// against the injected clock; Serve sweeps expired keys in the background.
type BadgerStore struct {
	db         *badger.DB
	clock      quartz.Clock
	gcInterval time.Duration

	// writeMu serializes read-write transactions so they never conflict
	// within this process.
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens (or creates) the database at cfg.Path.
func NewBadgerStore(cfg config.BadgerConfig, clock quartz.Clock) (*BadgerStore, error) {
	if clock == nil {
		clock = quartz.NewReal()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Badger store opened")

	return &BadgerStore{db: db, clock: clock, gcInterval: gcInterval}, nil
}

func (s *BadgerStore) checkNotClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *BadgerStore) finish(op string, start time.Time, err error) error {
	switch {
	case err == nil:
		metrics.RecordStoreOp(backendLocal, op, time.Since(start), nil)
		return nil
	case errors.Is(err, ErrWrongType):
		metrics.RecordStoreOp(backendLocal, op, time.Since(start), nil)
		return fmt.Errorf("%s %s: %w", backendLocal, op, err)
	default:
		metrics.RecordStoreOp(backendLocal, op, time.Since(start), err)
		return unavailable(backendLocal, op, err)
	}
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(op string, fn func(txn *badger.Txn) error) error {
	start := time.Now()
	if err := s.checkNotClosed(); err != nil {
		return s.finish(op, start, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return s.finish(op, start, err)
}

func (s *BadgerStore) view(op string, fn func(txn *badger.Txn) error) error {
	start := time.Now()
	if err := s.checkNotClosed(); err != nil {
		return s.finish(op, start, err)
	}
	return s.finish(op, start, s.db.View(fn))
}

func (s *BadgerStore) expired(m meta) bool {
	return m.expireAt != 0 && s.clock.Now().UnixNano() >= m.expireAt
}

// readMeta returns the live meta for key. stale reports an expired header
// whose data has not been swept yet.
func (s *BadgerStore) readMeta(txn *badger.Txn, key string) (m meta, found, stale bool, err error) {
	item, err := txn.Get(metaKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta{}, false, false, nil
	}
	if err != nil {
		return meta{}, false, false, err
	}
	err = item.Value(func(val []byte) error {
		m, err = decodeMeta(val)
		return err
	})
	if err != nil {
		return meta{}, false, false, err
	}
	if s.expired(m) {
		return meta{}, false, true, nil
	}
	return m, true, false, nil
}

func (s *BadgerStore) readTyped(txn *badger.Txn, key string, kind entryKind) (meta, bool, error) {
	m, found, _, err := s.readMeta(txn, key)
	if err != nil || !found {
		return meta{}, false, err
	}
	if m.kind != kind {
		return meta{}, false, ErrWrongType
	}
	return m, true, nil
}

// ensure returns the meta for key, creating it as kind when absent and
// clearing leftovers of an expired predecessor.
func (s *BadgerStore) ensure(txn *badger.Txn, key string, kind entryKind) (meta, error) {
	m, found, stale, err := s.readMeta(txn, key)
	if err != nil {
		return meta{}, err
	}
	if found {
		if m.kind != kind {
			return meta{}, ErrWrongType
		}
		return m, nil
	}
	if stale {
		if err := s.purge(txn, key); err != nil {
			return meta{}, err
		}
	}
	m = meta{kind: kind}
	return m, txn.Set(metaKey(key), m.encode())
}

func (s *BadgerStore) writeMeta(txn *badger.Txn, key string, m meta) error {
	return txn.Set(metaKey(key), m.encode())
}

// collectKeys returns copies of every key under prefix.
func collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// purge deletes key's header and all of its data.
func (s *BadgerStore) purge(txn *badger.Txn, key string) error {
	for _, prefix := range [][]byte{fieldPrefix(key), itemPrefix(key)} {
		for _, k := range collectKeys(txn, prefix) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
	}
	return txn.Delete(metaKey(key))
}

func (s *BadgerStore) SetHash(_ context.Context, key, field, value string) error {
	return s.update("hset", func(txn *badger.Txn) error {
		if _, err := s.ensure(txn, key, kindHash); err != nil {
			return err
		}
		return txn.Set(fieldKey(key, field), []byte(value))
	})
}

func (s *BadgerStore) SetHashNX(_ context.Context, key, field, value string) (bool, error) {
	var wrote bool
	err := s.update("hsetnx", func(txn *badger.Txn) error {
		wrote = false
		if _, err := s.ensure(txn, key, kindHash); err != nil {
			return err
		}
		_, err := txn.Get(fieldKey(key, field))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		wrote = true
		return txn.Set(fieldKey(key, field), []byte(value))
	})
	return wrote, err
}

func (s *BadgerStore) GetHash(_ context.Context, key, field string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.view("hget", func(txn *badger.Txn) error {
		_, ok, err := s.readTyped(txn, key, kindHash)
		if err != nil || !ok {
			return err
		}
		item, err := txn.Get(fieldKey(key, field))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value, found = string(v), true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *BadgerStore) GetAllHash(_ context.Context, key string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.view("hgetall", func(txn *badger.Txn) error {
		_, ok, err := s.readTyped(txn, key, kindHash)
		if err != nil || !ok {
			return err
		}
		prefix := fieldPrefix(key)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.Key()[len(prefix):])] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) DelHash(_ context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.update("hdel", func(txn *badger.Txn) error {
		_, ok, err := s.readTyped(txn, key, kindHash)
		if err != nil || !ok {
			return err
		}
		for _, f := range fields {
			if err := txn.Delete(fieldKey(key, f)); err != nil {
				return err
			}
		}
		if len(collectKeys(txn, fieldPrefix(key))) == 0 {
			return txn.Delete(metaKey(key))
		}
		return nil
	})
}

func (s *BadgerStore) AdvanceHash(_ context.Context, key, orderKey, field, value string, order int64) (bool, error) {
	var advanced bool
	err := s.update("hadvance", func(txn *badger.Txn) error {
		advanced = false
		if _, err := s.ensure(txn, key, kindHash); err != nil {
			return err
		}
		if _, err := s.ensure(txn, orderKey, kindHash); err != nil {
			return err
		}
		item, err := txn.Get(fieldKey(orderKey, field))
		switch {
		case err == nil:
			cur, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if n, perr := strconv.ParseInt(string(cur), 10, 64); perr == nil && n >= order {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(fieldKey(key, field), []byte(value)); err != nil {
			return err
		}
		advanced = true
		return txn.Set(fieldKey(orderKey, field), []byte(strconv.FormatInt(order, 10)))
	})
	return advanced, err
}

func (s *BadgerStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	return s.update("expire", func(txn *badger.Txn) error {
		m, found, _, err := s.readMeta(txn, key)
		if err != nil || !found {
			return err
		}
		if ttl <= 0 {
			m.expireAt = 0
		} else {
			m.expireAt = s.clock.Now().Add(ttl).UnixNano()
		}
		return s.writeMeta(txn, key, m)
	})
}

func (s *BadgerStore) Persist(ctx context.Context, key string) error {
	return s.Expire(ctx, key, 0)
}

func (s *BadgerStore) Del(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.update("del", func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := s.purge(txn, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid scan pattern %q: %w", pattern, err)
	}

	var keys []string
	err = s.view("scan", func(txn *badger.Txn) error {
		prefix := []byte(metaPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			if !g.Match(key) {
				continue
			}
			var m meta
			if err := item.Value(func(val []byte) error {
				var derr error
				m, derr = decodeMeta(val)
				return derr
			}); err != nil {
				return err
			}
			if !s.expired(m) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *BadgerStore) AppendList(_ context.Context, key string, values ...string) (int64, error) {
	var length int64
	err := s.update("rpush", func(txn *badger.Txn) error {
		m, err := s.ensure(txn, key, kindList)
		if err != nil {
			return err
		}
		for _, v := range values {
			if err := txn.Set(itemKey(key, m.n), []byte(v)); err != nil {
				return err
			}
			m.n++
			m.count++
		}
		length = m.count
		return s.writeMeta(txn, key, m)
	})
	if err != nil {
		return 0, err
	}
	return length, nil
}

// listItems returns the list items of key in order, with their raw keys.
func listItems(txn *badger.Txn, key string) (keys [][]byte, values []string, err error) {
	prefix := itemPrefix(key)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, item.KeyCopy(nil))
		values = append(values, string(v))
	}
	return keys, values, nil
}

func (s *BadgerStore) RangeList(_ context.Context, key string, start, end int64) ([]string, error) {
	var out []string
	err := s.view("lrange", func(txn *badger.Txn) error {
		_, ok, err := s.readTyped(txn, key, kindList)
		if err != nil || !ok {
			return err
		}
		_, values, err := listItems(txn, key)
		if err != nil {
			return err
		}
		lo, hi, ok := rangeBounds(int64(len(values)), start, end)
		if ok {
			out = values[lo:hi]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ListLen(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.view("llen", func(txn *badger.Txn) error {
		m, ok, err := s.readTyped(txn, key, kindList)
		if err != nil || !ok {
			return err
		}
		n = m.count
		return nil
	})
	return n, err
}

func (s *BadgerStore) RemoveListValue(_ context.Context, key, value string) (bool, error) {
	var removed bool
	err := s.update("lrem", func(txn *badger.Txn) error {
		removed = false
		m, ok, err := s.readTyped(txn, key, kindList)
		if err != nil || !ok {
			return err
		}
		keys, values, err := listItems(txn, key)
		if err != nil {
			return err
		}
		for i, v := range values {
			if v != value {
				continue
			}
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
			removed = true
			m.count--
			if m.count <= 0 {
				return txn.Delete(metaKey(key))
			}
			return s.writeMeta(txn, key, m)
		}
		return nil
	})
	return removed, err
}

func (s *BadgerStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	var n int64
	err := s.update("incrby", func(txn *badger.Txn) error {
		m, err := s.ensure(txn, key, kindCounter)
		if err != nil {
			return err
		}
		m.n += delta
		n = m.n
		return s.writeMeta(txn, key, m)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BadgerStore) GetCounter(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.view("get", func(txn *badger.Txn) error {
		m, ok, err := s.readTyped(txn, key, kindCounter)
		if err != nil || !ok {
			return err
		}
		n = m.n
		return nil
	})
	return n, err
}

func (s *BadgerStore) Ping(_ context.Context) error {
	return s.view("ping", func(*badger.Txn) error { return nil })
}

// Sweep deletes every logically expired key and returns how many it removed.
func (s *BadgerStore) Sweep() (int, error) {
	var expiredKeys []string
	err := s.view("sweep", func(txn *badger.Txn) error {
		prefix := []byte(metaPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			m, err := decodeMeta(v)
			if err != nil {
				return err
			}
			if s.expired(m) {
				expiredKeys = append(expiredKeys, string(bytes.TrimPrefix(item.Key(), prefix)))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range expiredKeys {
		err := s.update("sweep", func(txn *badger.Txn) error {
			// Re-check: the key may have been rewritten since the scan.
			_, found, stale, err := s.readMeta(txn, key)
			if err != nil || found || !stale {
				return err
			}
			return s.purge(txn, key)
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RunGC sweeps expired keys and reclaims value log space.
func (s *BadgerStore) RunGC() error {
	if _, err := s.Sweep(); err != nil {
		return err
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Serve runs the periodic sweep until ctx is done. It implements
// suture.Service so the supervisor can restart it.
func (s *BadgerStore) Serve(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.gcInterval, "badger", "gc")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Badger store GC failed")
			}
		}
	}
}

func (s *BadgerStore) String() string {
	return "badger-store-gc"
}

// Close closes the database. Further calls fail with ErrClosed.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Badger store closed")
	return nil
}
