// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package ledger is the durable relational sink for committed credit usage
// and archived room messages.
//
// Two drivers implement Ledger:
//
//   - duckdb:   embedded DuckDB through database/sql (default)
//   - postgres: PostgreSQL through a pgx connection pool
//
// Credit records are unique on (user_id, message_id). Inserting a record that
// already exists is a no-op, which is what makes the credit sync job safe to
// retry. Every failure to reach or write the ledger wraps ErrDurableWrite.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

var (
	// ErrDurableWrite wraps every ledger failure.
	ErrDurableWrite = errors.New("durable ledger unavailable")

	// ErrUnknownDriver is returned by Open for an unsupported ledger.driver.
	ErrUnknownDriver = errors.New("unknown ledger driver")
)

// Ledger is the durable store contract.
type Ledger interface {
	// InsertCreditRecords commits records in one transaction. Records whose
	// (user_id, message_id) already exists are skipped.
	InsertCreditRecords(ctx context.Context, records []models.DurableCreditRecord) error
	// SumCreditsForUser returns the committed credit total, 0 for unknown users.
	SumCreditsForUser(ctx context.Context, userID string) (int64, error)
	// ListCreditHistory pages through a user's records, newest first.
	ListCreditHistory(ctx context.Context, userID string, limit, offset int) ([]models.DurableCreditRecord, error)

	// ArchiveMessages stores messages, skipping ids already archived.
	ArchiveMessages(ctx context.Context, msgs []models.ChatMessage) error
	// CountArchivedMessages returns how many messages of a room are archived.
	CountArchivedMessages(ctx context.Context, roomID string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects the driver named by cfg.Driver and applies the schema.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Driver {
	case config.LedgerDuckDB:
		return NewDuckDB(ctx, cfg.DuckDB)
	case config.LedgerPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// durable wraps err with ErrDurableWrite unless it already matches.
func durable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDurableWrite) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDurableWrite, op, err)
}

// observe times one ledger query.
func observe(driver, op string, start time.Time, err error) {
	metrics.RecordLedgerQuery(driver, op, time.Since(start), err)
}

func encodeMetadata(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// normalizePage clamps paging arguments.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
