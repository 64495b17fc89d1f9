// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb database/sql driver

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
)

const duckdbDriver = "duckdb"

var duckdbSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_records (
		id VARCHAR NOT NULL,
		user_id VARCHAR NOT NULL,
		message_id VARCHAR NOT NULL,
		amount BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		metadata VARCHAR,
		synced_at TIMESTAMP DEFAULT current_timestamp,
		PRIMARY KEY (user_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS archived_messages (
		id VARCHAR PRIMARY KEY,
		room_id VARCHAR NOT NULL,
		user_id VARCHAR NOT NULL,
		content VARCHAR NOT NULL,
		seq BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		archived_at TIMESTAMP DEFAULT current_timestamp
	)`,
}

// DuckDB is the embedded ledger.
type DuckDB struct {
	conn *sql.DB
}

// NewDuckDB opens (or creates) the database at cfg.Path. ":memory:" gives a
// throwaway in-process database.
func NewDuckDB(ctx context.Context, cfg config.DuckDBConfig) (*DuckDB, error) {
	if cfg.Path != ":memory:" && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	conn, err := sql.Open(duckdbDriver, connStr)
	if err != nil {
		return nil, durable("open", err)
	}

	// One connection serializes writers, so concurrent sync workers never
	// race on the same primary key.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		closeQuietly(conn)
		return nil, durable("ping", err)
	}

	for _, stmt := range duckdbSchema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			closeQuietly(conn)
			return nil, durable("schema", err)
		}
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Str("max_memory", maxMemory).Msg("DuckDB ledger ready")
	return &DuckDB{conn: conn}, nil
}

// InsertCreditRecords implements Ledger.
func (d *DuckDB) InsertCreditRecords(ctx context.Context, records []models.DurableCreditRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe(duckdbDriver, "insert_credits", start, err) }()

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return durable("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO credit_records (id, user_id, message_id, amount, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return durable("prepare", err)
	}
	defer closeQuietly(stmt)

	for i := range records {
		r := &records[i]
		meta, mErr := encodeMetadata(r.Metadata)
		if mErr != nil {
			return durable("insert_credits", mErr)
		}
		if _, err = stmt.ExecContext(ctx, r.ID, r.UserID, r.MessageID, r.Amount, r.Timestamp.UTC(), nullString(meta)); err != nil {
			return durable("insert_credits", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return durable("commit", err)
	}
	return nil
}

// SumCreditsForUser implements Ledger.
func (d *DuckDB) SumCreditsForUser(ctx context.Context, userID string) (total int64, err error) {
	start := time.Now()
	defer func() { observe(duckdbDriver, "sum_credits", start, err) }()

	// SUM over BIGINT is HUGEINT in DuckDB.
	row := d.conn.QueryRowContext(ctx,
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM credit_records WHERE user_id = ?`, userID)
	if err = row.Scan(&total); err != nil {
		return 0, durable("sum_credits", err)
	}
	return total, nil
}

// ListCreditHistory implements Ledger.
func (d *DuckDB) ListCreditHistory(ctx context.Context, userID string, limit, offset int) (out []models.DurableCreditRecord, err error) {
	start := time.Now()
	defer func() { observe(duckdbDriver, "list_credits", start, err) }()

	limit, offset = normalizePage(limit, offset)
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, user_id, message_id, amount, created_at, metadata
		FROM credit_records
		WHERE user_id = ?
		ORDER BY created_at DESC, message_id ASC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, durable("list_credits", err)
	}
	defer closeQuietly(rows)

	out = make([]models.DurableCreditRecord, 0, limit)
	for rows.Next() {
		var (
			r    models.DurableCreditRecord
			meta sql.NullString
		)
		if err = rows.Scan(&r.ID, &r.UserID, &r.MessageID, &r.Amount, &r.Timestamp, &meta); err != nil {
			return nil, durable("list_credits", err)
		}
		if r.Metadata, err = decodeMetadata([]byte(meta.String)); err != nil {
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
func (d *DuckDB) ArchiveMessages(ctx context.Context, msgs []models.ChatMessage) (err error) {
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe(duckdbDriver, "archive_messages", start, err) }()

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return durable("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO archived_messages (id, room_id, user_id, content, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return durable("prepare", err)
	}
	defer closeQuietly(stmt)

	for i := range msgs {
		m := &msgs[i]
		if _, err = stmt.ExecContext(ctx, m.ID, m.RoomID, m.UserID, m.Content, m.Seq, m.CreatedAt.UTC()); err != nil {
			return durable("archive_messages", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return durable("commit", err)
	}
	return nil
}

// CountArchivedMessages implements Ledger.
func (d *DuckDB) CountArchivedMessages(ctx context.Context, roomID string) (n int64, err error) {
	start := time.Now()
	defer func() { observe(duckdbDriver, "count_archived", start, err) }()

	if err = d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_messages WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return 0, durable("count_archived", err)
	}
	return n, nil
}

// Ping implements Ledger.
func (d *DuckDB) Ping(ctx context.Context) error {
	return durable("ping", d.conn.PingContext(ctx))
}

// Close implements Ledger.
func (d *DuckDB) Close() error {
	return d.conn.Close()
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// closeQuietly closes a resource, ignoring the error.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
