// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package messages

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/coder/quartz"

	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/keyspace"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/validation"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

type touchRecorder struct {
	mu      sync.Mutex
	touched []string
}

func (r *touchRecorder) Touch(_ context.Context, roomID, userID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, roomID+"/"+userID+"/"+messageID)
	return nil
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *events.Recorder, *touchRecorder) {
	t.Helper()
	clock := quartz.NewMock(t)
	st := store.NewMemoryStore(clock)
	rec := &events.Recorder{}
	touch := &touchRecorder{}
	return NewService(st, keyspace.Default(), rec, clock, touch), st, rec, touch
}

func TestSendAssignsSequentialIDs(t *testing.T) {
	svc, _, rec, touch := newTestService(t)
	ctx := context.Background()

	for i, want := range []string{"room-1:1", "room-1:2", "room-1:3"} {
		msg, err := svc.Send(ctx, "room-1", "alice", "hello")
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		if msg.ID != want || msg.Seq != int64(i+1) {
			t.Errorf("Send #%d id = %s seq = %d, want %s", i, msg.ID, msg.Seq, want)
		}
	}
	other, _ := svc.Send(ctx, "room-2", "bob", "hi")
	if other.ID != "room-2:1" {
		t.Errorf("rooms share a sequence: %s", other.ID)
	}

	if n, _ := svc.Count(ctx, "room-1"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	if got := len(rec.Events()); got != 4 {
		t.Errorf("published %d message-new events, want 4", got)
	}
	if touch.touched[0] != "room-1/alice/room-1:1" {
		t.Errorf("activity = %v", touch.touched)
	}
}

func TestSendConcurrentUniqueIDs(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]bool)
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := svc.Send(ctx, "room-1", "alice", "x")
			if err != nil {
				t.Errorf("Send: %v", err)
				return
			}
			mu.Lock()
			ids[msg.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 40 {
		t.Errorf("got %d unique ids, want 40", len(ids))
	}
}

func TestStreamRecentAndEvict(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	for _, c := range []string{"one", "two", "three"} {
		if _, err := svc.Send(ctx, "room-1", "alice", c); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	recent, err := svc.Recent(ctx, "room-1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var contents []string
	for _, m := range recent {
		contents = append(contents, m.Content)
	}
	if !reflect.DeepEqual(contents, []string{"two", "three"}) {
		t.Errorf("Recent = %v", contents)
	}

	stream, err := svc.Stream(ctx, "room-1")
	if err != nil || len(stream) != 3 {
		t.Fatalf("Stream = %d items, %v", len(stream), err)
	}
	removed, err := svc.Evict(ctx, "room-1", stream[0].Raw)
	if err != nil || !removed {
		t.Fatalf("Evict = %v, %v", removed, err)
	}
	removed, _ = svc.Evict(ctx, "room-1", stream[0].Raw)
	if removed {
		t.Error("second eviction should be a no-op")
	}

	rooms, err := svc.Rooms(ctx)
	if err != nil || !reflect.DeepEqual(rooms, []string{"room-1"}) {
		t.Errorf("Rooms = %v, %v", rooms, err)
	}
}

func TestSendValidation(t *testing.T) {
	svc, _, rec, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		room    string
		user    string
		content string
	}{
		{"empty content", "room-1", "alice", "   "},
		{"oversized content", "room-1", "alice", strings.Repeat("a", MaxContentLength+1)},
		{"invalid utf8", "room-1", "alice", "\xff\xfe"},
		{"missing room", "", "alice", "hi"},
		{"missing user", "room-1", "", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Send(ctx, tt.room, tt.user, tt.content); !errors.Is(err, validation.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
	if len(rec.Events()) != 0 {
		t.Error("rejected sends published events")
	}
}

func TestSendStoreOutage(t *testing.T) {
	svc, st, rec, _ := newTestService(t)
	st.SetFault(errors.New("refused"))

	_, err := svc.Send(context.Background(), "room-1", "alice", "hi")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if len(rec.Events()) != 0 {
		t.Error("failed send published an event")
	}
}
