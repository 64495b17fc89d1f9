// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

const backendManaged = "redis"

// luaAdvance: KEYS[1]=hash, KEYS[2]=order hash; ARGV[1]=field, ARGV[2]=value, ARGV[3]=order
// Returns 1 when written, 0 when the stored order is equal or newer.
var luaAdvance = redis.NewScript(`
  local cur = redis.call('HGET', KEYS[2], ARGV[1])
  if cur and tonumber(cur) >= tonumber(ARGV[3]) then
    return 0
  end
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
  return 1
`)

// RedisStore is the managed backend.
type RedisStore struct {
	client    redis.UniversalClient
	scanCount int64
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	s := NewRedisStoreFromClient(client, cfg.ScanCount)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logging.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("Redis store connected")
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, scanCount int64) *RedisStore {
	if scanCount <= 0 {
		scanCount = 200
	}
	return &RedisStore{client: client, scanCount: scanCount}
}

// finish records the op and maps the error. redis.Nil is not an error here;
// callers that care about absence check for it before calling finish.
func (s *RedisStore) finish(op string, start time.Time, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		metrics.RecordStoreOp(backendManaged, op, time.Since(start), nil)
		return nil
	}
	if strings.Contains(err.Error(), "WRONGTYPE") {
		metrics.RecordStoreOp(backendManaged, op, time.Since(start), nil)
		return fmt.Errorf("%s %s: %w", backendManaged, op, ErrWrongType)
	}
	metrics.RecordStoreOp(backendManaged, op, time.Since(start), err)
	return unavailable(backendManaged, op, err)
}

func (s *RedisStore) SetHash(ctx context.Context, key, field, value string) error {
	start := time.Now()
	return s.finish("hset", start, s.client.HSet(ctx, key, field, value).Err())
}

func (s *RedisStore) SetHashNX(ctx context.Context, key, field, value string) (bool, error) {
	start := time.Now()
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err = s.finish("hsetnx", start, err); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) GetHash(ctx context.Context, key, field string) (string, bool, error) {
	start := time.Now()
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		_ = s.finish("hget", start, nil)
		return "", false, nil
	}
	if err = s.finish("hget", start, err); err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) GetAllHash(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	m, err := s.client.HGetAll(ctx, key).Result()
	if err = s.finish("hgetall", start, err); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]string)
	}
	return m, nil
}

func (s *RedisStore) DelHash(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	start := time.Now()
	return s.finish("hdel", start, s.client.HDel(ctx, key, fields...).Err())
}

func (s *RedisStore) AdvanceHash(ctx context.Context, key, orderKey, field, value string, order int64) (bool, error) {
	start := time.Now()
	n, err := luaAdvance.Run(ctx, s.client, []string{key, orderKey}, field, value, order).Int64()
	if err = s.finish("hadvance", start, err); err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Persist(ctx, key)
	}
	start := time.Now()
	return s.finish("expire", start, s.client.PExpire(ctx, key, ttl).Err())
}

func (s *RedisStore) Persist(ctx context.Context, key string) error {
	start := time.Now()
	return s.finish("persist", start, s.client.Persist(ctx, key).Err())
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	return s.finish("del", start, s.client.Del(ctx, keys...).Err())
}

// ScanKeys walks the keyspace with SCAN, never KEYS, and de-duplicates
// since SCAN may return a key more than once. Keys are returned sorted.
func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	seen := make(map[string]struct{})
	var keys []string

	iter := s.client.Scan(ctx, 0, pattern, s.scanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := s.finish("scan", start, iter.Err()); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) AppendList(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		return s.ListLen(ctx, key)
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	start := time.Now()
	n, err := s.client.RPush(ctx, key, args...).Result()
	if err = s.finish("rpush", start, err); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) RangeList(ctx context.Context, key string, startIdx, end int64) ([]string, error) {
	start := time.Now()
	out, err := s.client.LRange(ctx, key, startIdx, end).Result()
	if err = s.finish("lrange", start, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.client.LLen(ctx, key).Result()
	if err = s.finish("llen", start, err); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) RemoveListValue(ctx context.Context, key, value string) (bool, error) {
	start := time.Now()
	n, err := s.client.LRem(ctx, key, 1, value).Result()
	if err = s.finish("lrem", start, err); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil && strings.Contains(err.Error(), "not an integer") {
		err = fmt.Errorf("WRONGTYPE %w", err)
	}
	if err = s.finish("incrby", start, err); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		_ = s.finish("get", start, nil)
		return 0, nil
	}
	if err = s.finish("get", start, err); err != nil {
		return 0, err
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("%s get %s: %w", backendManaged, key, ErrWrongType)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	return s.finish("ping", start, s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
