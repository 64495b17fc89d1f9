// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
)

const postgresDriver = "postgres"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_records (
		id UUID NOT NULL,
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		metadata JSONB,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_records_history ON credit_records (user_id, created_at DESC, message_id)`,
	`CREATE TABLE IF NOT EXISTS archived_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		seq BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_archived_messages_room ON archived_messages (room_id, seq)`,
}

// Postgres is the networked ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to cfg.DSN and applies the schema.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, durable("connect", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, durable("ping", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, durable("schema", err)
		}
	}

	logging.Info().Str("host", poolCfg.ConnConfig.Host).Int32("max_conns", poolCfg.MaxConns).Msg("PostgreSQL ledger ready")
	return &Postgres{pool: pool}, nil
}

// InsertCreditRecords implements Ledger.
func (p *Postgres) InsertCreditRecords(ctx context.Context, records []models.DurableCreditRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe(postgresDriver, "insert_credits", start, err) }()

	batch := &pgx.Batch{}
	for i := range records {
		r := &records[i]
		meta, mErr := encodeMetadata(r.Metadata)
		if mErr != nil {
			return durable("insert_credits", mErr)
		}
		batch.Queue(`
			INSERT INTO credit_records (id, user_id, message_id, amount, created_at, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, message_id) DO NOTHING`,
			r.ID, r.UserID, r.MessageID, r.Amount, r.Timestamp.UTC(), meta)
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	return durable("insert_credits", err)
}

// SumCreditsForUser implements Ledger.
func (p *Postgres) SumCreditsForUser(ctx context.Context, userID string) (total int64, err error) {
	start := time.Now()
	defer func() { observe(postgresDriver, "sum_credits", start, err) }()

	err = p.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM credit_records WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return 0, durable("sum_credits", err)
	}
	return total, nil
}

// ListCreditHistory implements Ledger.
func (p *Postgres) ListCreditHistory(ctx context.Context, userID string, limit, offset int) (out []models.DurableCreditRecord, err error) {
	start := time.Now()
	defer func() { observe(postgresDriver, "list_credits", start, err) }()

	limit, offset = normalizePage(limit, offset)
	rows, err := p.pool.Query(ctx, `
		SELECT id::TEXT, user_id, message_id, amount, created_at, metadata
		FROM credit_records
		WHERE user_id = $1
		ORDER BY created_at DESC, message_id ASC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, durable("list_credits", err)
	}
	defer rows.Close()

	out = make([]models.DurableCreditRecord, 0, limit)
	for rows.Next() {
		var (
			r    models.DurableCreditRecord
			meta []byte
		)
		if err = rows.Scan(&r.ID, &r.UserID, &r.MessageID, &r.Amount, &r.Timestamp, &meta); err != nil {
			return nil, durable("list_credits", err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, durable("list_credits", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err = rows.Err(); err != nil {
		return nil, durable("list_credits", err)
	}
	return out, nil
}

// ArchiveMessages implements Ledger.
func (p *Postgres) ArchiveMessages(ctx context.Context, msgs []models.ChatMessage) (err error) {
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe(postgresDriver, "archive_messages", start, err) }()

	batch := &pgx.Batch{}
	for i := range msgs {
		m := &msgs[i]
		batch.Queue(`
			INSERT INTO archived_messages (id, room_id, user_id, content, seq, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.RoomID, m.UserID, m.Content, m.Seq, m.CreatedAt.UTC())
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	return durable("archive_messages", err)
}

// CountArchivedMessages implements Ledger.
func (p *Postgres) CountArchivedMessages(ctx context.Context, roomID string) (n int64, err error) {
	start := time.Now()
	defer func() { observe(postgresDriver, "count_archived", start, err) }()

	if err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM archived_messages WHERE room_id = $1`, roomID).Scan(&n); err != nil {
		return 0, durable("count_archived", err)
	}
	return n, nil
}

// Ping implements Ledger.
func (p *Postgres) Ping(ctx context.Context) error {
	return durable("ping", p.pool.Ping(ctx))
}

// Close implements Ledger.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
