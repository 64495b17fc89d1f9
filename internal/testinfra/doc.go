// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package testinfra starts real backing services in Docker for integration
// tests, using testcontainers-go.
//
// # Redis
//
// StartRedis runs the managed store backend for one test:
//
//	func TestRedisStore(t *testing.T) {
//	    redis := testinfra.StartRedis(t)
//	    st, err := store.NewRedisStore(context.Background(), config.RedisConfig{Addr: redis.Addr})
//	    // ...
//	}
//
// # PostgreSQL
//
// StartPostgres runs the PostgreSQL ledger driver; DSN is ready for
// config.PostgresConfig. NewRedisContainer and NewPostgresContainer leave
// the container's lifetime to the caller.
//
// # CI Considerations
//
// These helpers are built only with the integration tag:
//
//	go test -tags integration ./...
//
// Tests are skipped gracefully if Docker is unavailable. The first run may
// need to download container images.
package testinfra
