// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// testLedgerSemaphore serializes DuckDB tests; concurrent CGO connections can
// hang under CI resource pressure.
var testLedgerSemaphore = make(chan struct{}, 1)

func setupTestLedger(t *testing.T) *DuckDB {
	t.Helper()

	testLedgerSemaphore <- struct{}{}
	t.Cleanup(func() { <-testLedgerSemaphore })

	l, err := NewDuckDB(context.Background(), config.DuckDBConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 1})
	if err != nil {
		t.Fatalf("NewDuckDB: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func record(user, msg string, amount int64, ts time.Time) models.DurableCreditRecord {
	return models.CreditUsageEvent{
		UserID:    user,
		MessageID: msg,
		Credits:   amount,
		Timestamp: ts,
	}.ToDurable()
}

func TestInsertCreditRecordsIsIdempotent(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := []models.DurableCreditRecord{
		record("alice", "r1:1", 24, base),
		record("alice", "r1:2", 6, base.Add(time.Second)),
		record("bob", "r1:3", 36, base.Add(2*time.Second)),
	}

	for i := 0; i < 3; i++ {
		if err := l.InsertCreditRecords(ctx, batch); err != nil {
			t.Fatalf("insert pass %d: %v", i, err)
		}
	}

	tests := []struct {
		user string
		want int64
	}{
		{"alice", 30},
		{"bob", 36},
		{"nobody", 0},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := l.SumCreditsForUser(ctx, tt.user)
			if err != nil {
				t.Fatalf("SumCreditsForUser: %v", err)
			}
			if got != tt.want {
				t.Errorf("SumCreditsForUser(%q) = %d, want %d", tt.user, got, tt.want)
			}
		})
	}
}

func TestInsertCreditRecordsPartialOverlap(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := l.InsertCreditRecords(ctx, []models.DurableCreditRecord{record("alice", "r:1", 10, now)}); err != nil {
		t.Fatal(err)
	}
	// A retried batch that also carries a new record commits only the new one.
	err := l.InsertCreditRecords(ctx, []models.DurableCreditRecord{
		record("alice", "r:1", 10, now),
		record("alice", "r:2", 5, now),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := l.SumCreditsForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got != 15 {
		t.Errorf("sum = %d, want 15", got)
	}
}

func TestListCreditHistory(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []models.DurableCreditRecord{
		record("alice", "r:1", 1, base),
		record("alice", "r:2", 2, base.Add(time.Minute)),
		record("alice", "r:4", 4, base.Add(2*time.Minute)),
		record("alice", "r:3", 3, base.Add(2*time.Minute)),
		record("bob", "r:9", 9, base),
	}
	recs[0].Metadata = map[string]interface{}{"plan": "pro"}
	if err := l.InsertCreditRecords(ctx, recs); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		limit, offset int
		want          []string
	}{
		{"first page", 2, 0, []string{"r:3", "r:4"}},
		{"second page", 2, 2, []string{"r:2", "r:1"}},
		{"past end", 10, 10, []string{}},
		{"default limit", 0, 0, []string{"r:3", "r:4", "r:2", "r:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.ListCreditHistory(ctx, "alice", tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("ListCreditHistory: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.MessageID != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, r.MessageID, tt.want[i])
				}
				if r.UserID != "alice" {
					t.Errorf("record %d user = %s", i, r.UserID)
				}
			}
		})
	}

	all, err := l.ListCreditHistory(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	oldest := all[len(all)-1]
	if oldest.ID != models.CreditRecordID("alice", "r:1") {
		t.Errorf("id = %s, want derived record id", oldest.ID)
	}
	if !oldest.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", oldest.Timestamp, base)
	}
	if oldest.Metadata["plan"] != "pro" {
		t.Errorf("metadata = %v, want plan=pro", oldest.Metadata)
	}
	if all[0].Metadata != nil {
		t.Errorf("metadata = %v, want nil", all[0].Metadata)
	}
}

func TestArchiveMessages(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	msgs := make([]models.ChatMessage, 0, 5)
	for i := int64(1); i <= 5; i++ {
		msgs = append(msgs, models.ChatMessage{
			ID:        models.MessageID("room-a", i),
			RoomID:    "room-a",
			UserID:    "alice",
			Content:   fmt.Sprintf("hello %d", i),
			Seq:       i,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	if err := l.ArchiveMessages(ctx, msgs[:3]); err != nil {
		t.Fatal(err)
	}
	if err := l.ArchiveMessages(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	if err := l.ArchiveMessages(ctx, nil); err != nil {
		t.Fatal(err)
	}

	n, err := l.CountArchivedMessages(ctx, "room-a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("archived = %d, want 5", n)
	}
	if n, _ := l.CountArchivedMessages(ctx, "room-b"); n != 0 {
		t.Errorf("room-b archived = %d, want 0", n)
	}
}

func TestConcurrentInsertsOfSameBatch(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	batch := []models.DurableCreditRecord{
		record("alice", "r:1", 7, now),
		record("alice", "r:2", 8, now),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.InsertCreditRecords(ctx, batch)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if got, _ := l.SumCreditsForUser(ctx, "alice"); got != 15 {
		t.Errorf("sum = %d, want 15", got)
	}
}

func TestClosedLedgerWrapsErrDurableWrite(t *testing.T) {
	l := setupTestLedger(t)
	_ = l.Close()

	err := l.InsertCreditRecords(context.Background(), []models.DurableCreditRecord{record("a", "r:1", 1, time.Now())})
	if !errors.Is(err, ErrDurableWrite) {
		t.Errorf("err = %v, want ErrDurableWrite", err)
	}
	if _, err := l.SumCreditsForUser(context.Background(), "a"); !errors.Is(err, ErrDurableWrite) {
		t.Errorf("sum err = %v, want ErrDurableWrite", err)
	}
}

func TestDuckDBFileSurvivesReopen(t *testing.T) {
	testLedgerSemaphore <- struct{}{}
	defer func() { <-testLedgerSemaphore }()

	ctx := context.Background()
	cfg := config.DuckDBConfig{Path: filepath.Join(t.TempDir(), "nested", "ledger.duckdb"), Threads: 1}

	l, err := NewDuckDB(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.InsertCreditRecords(ctx, []models.DurableCreditRecord{record("alice", "r:1", 42, time.Now())}); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	l, err = NewDuckDB(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if got, _ := l.SumCreditsForUser(ctx, "alice"); got != 42 {
		t.Errorf("sum after reopen = %d, want 42", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.LedgerConfig{Driver: "sqlite"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("err = %v, want ErrUnknownDriver", err)
	}
}

// flakyLedger fails every write while down is set.
type flakyLedger struct {
	mu    sync.Mutex
	down  bool
	calls int
	sums  map[string]int64
}

func (f *flakyLedger) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return fmt.Errorf("%w: connection refused", ErrDurableWrite)
	}
	return nil
}

func (f *flakyLedger) InsertCreditRecords(_ context.Context, records []models.DurableCreditRecord) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.sums[r.UserID] += r.Amount
	}
	return nil
}

func (f *flakyLedger) SumCreditsForUser(_ context.Context, userID string) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sums[userID], nil
}

func (f *flakyLedger) ListCreditHistory(context.Context, string, int, int) ([]models.DurableCreditRecord, error) {
	return nil, f.fail()
}

func (f *flakyLedger) ArchiveMessages(context.Context, []models.ChatMessage) error { return f.fail() }

func (f *flakyLedger) CountArchivedMessages(context.Context, string) (int64, error) {
	return 0, f.fail()
}

func (f *flakyLedger) Ping(context.Context) error { return f.fail() }
func (f *flakyLedger) Close() error { return nil }

func TestBreakerOpensAndFailsFast(t *testing.T) {
	inner := &flakyLedger{down: true, sums: map[string]int64{}}
	s := DefaultBreakerSettings()
	s.Name = "ledger-test-open"
	b := NewBreaker(inner, s)
	ctx := context.Background()
	recs := []models.DurableCreditRecord{record("alice", "r:1", 1, time.Now())}

	for i := 0; i < int(s.MinRequests); i++ {
		if err := b.InsertCreditRecords(ctx, recs); !errors.Is(err, ErrDurableWrite) {
			t.Fatalf("call %d: err = %v, want ErrDurableWrite", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	callsBefore := inner.calls
	err := b.InsertCreditRecords(ctx, recs)
	if !errors.Is(err, gobreaker.ErrOpenState) || !errors.Is(err, ErrDurableWrite) {
		t.Errorf("err = %v, want ErrOpenState wrapped in ErrDurableWrite", err)
	}
	if inner.calls != callsBefore {
		t.Error("open breaker must not reach the ledger")
	}
}

func TestBreakerStaysClosedBelowMinimum(t *testing.T) {
	inner := &flakyLedger{down: true, sums: map[string]int64{}}
	s := DefaultBreakerSettings()
	s.Name = "ledger-test-closed"
	b := NewBreaker(inner, s)
	ctx := context.Background()

	for i := 0; i < int(s.MinRequests)-1; i++ {
		_, _ = b.SumCreditsForUser(ctx, "alice")
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}

	inner.mu.Lock()
	inner.down = false
	inner.mu.Unlock()
	if err := b.InsertCreditRecords(ctx, []models.DurableCreditRecord{record("alice", "r:1", 9, time.Now())}); err != nil {
		t.Fatal(err)
	}
	if got, err := b.SumCreditsForUser(ctx, "alice"); err != nil || got != 9 {
		t.Errorf("sum = %d, %v; want 9", got, err)
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	s := DefaultBreakerSettings()
	s.Name = "ledger-test-cancel"
	b := NewBreaker(&cancelledLedger{}, s)
	for i := 0; i < 10; i++ {
		_ = b.ArchiveMessages(context.Background(), nil)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

// cancelledLedger reports caller cancellation on every call.
type cancelledLedger struct{ flakyLedger }

func (c *cancelledLedger) ArchiveMessages(context.Context, []models.ChatMessage) error {
	return context.Canceled
}
