// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

//go:build integration

package testinfra

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// StartRedis runs a Redis container for the store backend tests and
// terminates it when t ends. t is skipped when no container provider is
// reachable.
func StartRedis(t *testing.T, opts ...RedisOption) *RedisContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	c, err := NewRedisContainer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	testcontainers.CleanupContainer(t, c)
	return c
}

// StartPostgres runs a PostgreSQL container for the ledger tests, like
// StartRedis.
func StartPostgres(t *testing.T, opts ...PostgresOption) *PostgresContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	c, err := NewPostgresContainer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	testcontainers.CleanupContainer(t, c)
	return c
}
