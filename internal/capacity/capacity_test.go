// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package capacity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/keyspace"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/messages"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// recordingFlusher remembers which rooms were flushed.
type recordingFlusher struct {
	mu    sync.Mutex
	rooms []string
	err   error
}

func (r *recordingFlusher) FlushRoom(_ context.Context, roomID string) (FlushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, roomID)
	return FlushResult{}, r.err
}

func (r *recordingFlusher) flushed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.rooms...)
	sort.Strings(out)
	return out
}

// memArchive keeps archived messages keyed by id.
type memArchive struct {
	mu   sync.Mutex
	msgs map[string]models.ChatMessage
	err  error
}

func (a *memArchive) ArchiveMessages(_ context.Context, msgs []models.ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	for _, m := range msgs {
		a.msgs[m.ID] = m
	}
	return nil
}

func (a *memArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

// memSyncer records SyncUser calls.
type memSyncer struct {
	mu    sync.Mutex
	users []string
	fail  map[string]bool
}

func (s *memSyncer) SyncUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	if s.fail[userID] {
		return 0, fmt.Errorf("sync %s: ledger down", userID)
	}
	return 1, nil
}

func newMessages(t *testing.T) (*messages.Service, *store.MemoryStore) {
	t.Helper()
	clock := quartz.NewMock(t)
	st := store.NewMemoryStore(clock)
	return messages.NewService(st, keyspace.Default(), nil, clock, nil), st
}

func seed(t *testing.T, svc *messages.Service, room string, n int, authors ...string) {
	t.Helper()
	if len(authors) == 0 {
		authors = []string{"alice"}
	}
	for i := 0; i < n; i++ {
		if _, err := svc.Send(context.Background(), room, authors[i%len(authors)], fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
}

func TestCapacityTrigger(t *testing.T) {
	tests := []struct {
		name      string
		seeded    int
		wantFlush bool
	}{
		{"0.81 of max flushes", 405, true},
		{"exactly threshold flushes", 400, true},
		{"just below threshold waits", 399, false},
		{"0.5 of max waits", 250, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newMessages(t)
			seed(t, svc, "room-a", tt.seeded)
			flusher := &recordingFlusher{}
			m := NewMonitor(config.CapacityConfig{MaxMessagesPerSession: 500, Threshold: 0.8}, svc, flusher, quartz.NewMock(t))

			states, flushed, err := m.CheckOnce(context.Background())
			if err != nil {
				t.Fatalf("CheckOnce: %v", err)
			}
			if len(states) != 1 || states[0].MessageCount != int64(tt.seeded) {
				t.Fatalf("states = %+v", states)
			}
			if got := len(flushed) == 1; got != tt.wantFlush {
				t.Errorf("flushed = %v, want flush %v", flushed, tt.wantFlush)
			}
			if got := len(flusher.flushed()) == 1; got != tt.wantFlush {
				t.Errorf("flusher calls = %v, want flush %v", flusher.flushed(), tt.wantFlush)
			}
		})
	}
}

func TestCheckOnceOnlyFlushesHotRooms(t *testing.T) {
	svc, _ := newMessages(t)
	seed(t, svc, "hot", 9)
	seed(t, svc, "cold", 2)
	flusher := &recordingFlusher{}
	m := NewMonitor(config.CapacityConfig{MaxMessagesPerSession: 10, Threshold: 0.8}, svc, flusher, quartz.NewMock(t))

	states, _, err := m.CheckOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}
	if got := flusher.flushed(); !reflect.DeepEqual(got, []string{"hot"}) {
		t.Errorf("flushed = %v, want [hot]", got)
	}
}

func TestSyncAllFlushesEveryRoom(t *testing.T) {
	svc, _ := newMessages(t)
	seed(t, svc, "a", 1)
	seed(t, svc, "b", 1)
	flusher := &recordingFlusher{}
	m := NewMonitor(config.CapacityConfig{}, svc, flusher, quartz.NewMock(t))

	if err := m.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := flusher.flushed(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("flushed = %v, want [a b]", got)
	}
}

func TestCheckOnceStoreOutage(t *testing.T) {
	svc, st := newMessages(t)
	seed(t, svc, "a", 1)
	st.SetFault(errors.New("connection refused"))
	m := NewMonitor(config.CapacityConfig{}, svc, &recordingFlusher{}, quartz.NewMock(t))

	if _, _, err := m.CheckOnce(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestFlushRoom(t *testing.T) {
	svc, _ := newMessages(t)
	seed(t, svc, "room", 10, "alice", "bob")
	archive := &memArchive{msgs: map[string]models.ChatMessage{}}
	syncer := &memSyncer{}
	f := NewRoomFlusher(svc, archive, syncer, 3, time.Second)
	ctx := context.Background()

	res, err := f.FlushRoom(ctx, "room")
	if err != nil {
		t.Fatalf("FlushRoom: %v", err)
	}
	if res != (FlushResult{Archived: 10, Evicted: 7, UsersSynced: 2}) {
		t.Errorf("result = %+v", res)
	}
	if archive.count() != 10 {
		t.Errorf("archived = %d, want 10", archive.count())
	}
	if !reflect.DeepEqual(syncer.users, []string{"alice", "bob"}) {
		t.Errorf("synced users = %v, want [alice bob]", syncer.users)
	}

	// The newest messages stay in the stream.
	left, err := svc.Stream(ctx, "room")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 3 || left[0].Message.Seq != 8 || left[2].Message.Seq != 10 {
		t.Errorf("remaining stream = %+v, want seqs 8..10", left)
	}

	// A second flush re-archives the survivors and evicts nothing more.
	res, err = f.FlushRoom(ctx, "room")
	if err != nil {
		t.Fatal(err)
	}
	if res.Evicted != 0 || res.Archived != 3 || archive.count() != 10 {
		t.Errorf("second flush = %+v, archived total %d", res, archive.count())
	}
}

func TestFlushRoomArchiveFailureKeepsStream(t *testing.T) {
	svc, _ := newMessages(t)
	seed(t, svc, "room", 5)
	archive := &memArchive{msgs: map[string]models.ChatMessage{}, err: errors.New("ledger down")}
	syncer := &memSyncer{}
	f := NewRoomFlusher(svc, archive, syncer, 0, time.Second)

	if _, err := f.FlushRoom(context.Background(), "room"); err == nil {
		t.Fatal("expected archive error")
	}
	if n, _ := svc.Count(context.Background(), "room"); n != 5 {
		t.Errorf("stream length = %d, want 5", n)
	}
	if len(syncer.users) != 0 {
		t.Errorf("sync should not run after a failed archive, ran for %v", syncer.users)
	}
}

func TestFlushRoomReportsSyncFailures(t *testing.T) {
	svc, _ := newMessages(t)
	seed(t, svc, "room", 4, "alice", "bob")
	syncer := &memSyncer{fail: map[string]bool{"bob": true}}
	f := NewRoomFlusher(svc, &memArchive{msgs: map[string]models.ChatMessage{}}, syncer, 0, time.Second)

	res, err := f.FlushRoom(context.Background(), "room")
	if err == nil {
		t.Fatal("expected sync error")
	}
	if res.Evicted != 4 || res.UsersSynced != 1 {
		t.Errorf("result = %+v, want 4 evicted and 1 user synced", res)
	}
}

func TestConcurrentFlushesAreSafe(t *testing.T) {
	svc, _ := newMessages(t)
	seed(t, svc, "room", 20)
	archive := &memArchive{msgs: map[string]models.ChatMessage{}}
	f := NewRoomFlusher(svc, archive, &memSyncer{}, 5, time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		evicted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.FlushRoom(context.Background(), "room")
			if err != nil {
				t.Errorf("FlushRoom: %v", err)
			}
			mu.Lock()
			evicted += res.Evicted
			mu.Unlock()
		}()
	}
	wg.Wait()

	if evicted != 15 {
		t.Errorf("evicted across flushes = %d, want 15", evicted)
	}
	if n, _ := svc.Count(context.Background(), "room"); n != 5 {
		t.Errorf("stream length = %d, want 5", n)
	}
	if archive.count() != 20 {
		t.Errorf("archived = %d, want 20", archive.count())
	}
}

func TestMonitorLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	st := store.NewMemoryStore(clock)
	svc := messages.NewService(st, keyspace.Default(), nil, clock, nil)
	seed(t, svc, "hot", 9)
	seed(t, svc, "cold", 1)

	flusher := &recordingFlusher{}
	m := NewMonitor(config.CapacityConfig{
		MaxMessagesPerSession: 10,
		Threshold:             0.8,
		CheckInterval:         time.Minute,
		SyncInterval:          5 * time.Minute,
	}, svc, flusher, clock)

	checkTrap := clock.Trap().NewTicker("capacity", "check")
	defer checkTrap.Close()
	syncTrap := clock.Trap().NewTicker("capacity", "sync")
	defer syncTrap.Close()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	checkTrap.MustWait(ctx).MustRelease(ctx)
	syncTrap.MustWait(ctx).MustRelease(ctx)
	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	clock.Advance(time.Minute).MustWait(ctx)
	waitFor(ctx, t, func() bool { return len(flusher.flushed()) >= 1 })
	if got := flusher.flushed(); !reflect.DeepEqual(got, []string{"hot"}) {
		t.Errorf("after check tick flushed = %v, want [hot]", got)
	}

	// Each check tick flushes the hot room again. The fifth minute is also
	// the sync tick, which flushes the cold room too.
	for want := 2; want <= 4; want++ {
		clock.Advance(time.Minute).MustWait(ctx)
		waitFor(ctx, t, func() bool { return len(flusher.flushed()) >= want })
	}
	clock.Advance(time.Minute).MustWait(ctx)
	waitFor(ctx, t, func() bool {
		for _, r := range flusher.flushed() {
			if r == "cold" {
				return true
			}
		}
		return false
	})

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func waitFor(ctx context.Context, t *testing.T, cond func() bool) {
	t.Helper()
	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for condition")
		case <-time.After(time.Millisecond):
		}
	}
}
