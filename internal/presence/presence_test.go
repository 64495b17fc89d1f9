// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package presence

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

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

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	clock *quartz.Mock
	rec   *events.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := quartz.NewMock(t)
	st := store.NewMemoryStore(clock)
	rec := &events.Recorder{}
	return fixture{
		svc:   NewService(st, keyspace.Default(), rec, clock),
		store: st,
		clock: clock,
		rec:   rec,
	}
}

func TestHeartbeatAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Heartbeat(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	users, err := f.svc.ListPresence(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	rec, ok := users["alice"]
	if !ok || len(users) != 1 {
		t.Fatalf("ListPresence = %v, want only alice", users)
	}
	if !rec.IsActive || !rec.LastActiveAt.Equal(f.clock.Now()) {
		t.Errorf("record = %+v", rec)
	}

	evs := f.rec.Events()
	if len(evs) != 1 {
		t.Fatalf("published %d events, want 1", len(evs))
	}
	upd, ok := evs[0].(events.PresenceUpdate)
	if !ok || upd.RoomID != "room-1" || !upd.Record.IsActive || upd.Record.UserID != "alice" {
		t.Errorf("event = %#v", evs[0])
	}

	other, err := f.svc.ListPresence(ctx, "room-2")
	if err != nil || len(other) != 0 {
		t.Errorf("other room = %v, %v; want empty", other, err)
	}
}

func TestPresenceExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.svc.Heartbeat(ctx, "room-1", "alice")
	f.clock.Advance(2*time.Minute + time.Second)

	users, err := f.svc.ListPresence(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expired presence still listed: %v", users)
	}
}

func TestStaleRecordFilteredBeforeEviction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.svc.Heartbeat(ctx, "room-1", "alice")
	f.clock.Advance(90 * time.Second)
	// Bob's heartbeat refreshes the hash TTL, keeping alice's field alive.
	_ = f.svc.Heartbeat(ctx, "room-1", "bob")
	f.clock.Advance(40 * time.Second)

	users, err := f.svc.ListPresence(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListPresence: %v", err)
	}
	if _, ok := users["alice"]; ok {
		t.Error("alice's stale record should be treated as absent")
	}
	if _, ok := users["bob"]; !ok {
		t.Error("bob should still be present")
	}
}

func TestMarkInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.svc.Heartbeat(ctx, "room-1", "alice")
	_ = f.svc.SetTyping(ctx, "room-1", "alice", true)
	f.rec.Reset()

	if err := f.svc.MarkInactive(ctx, "room-1", "alice"); err != nil {
		t.Fatalf("MarkInactive: %v", err)
	}
	users, _ := f.svc.ListPresence(ctx, "room-1")
	if len(users) != 0 {
		t.Errorf("users after leave = %v", users)
	}
	if typing, _ := f.svc.IsTyping(ctx, "room-1", "alice"); typing {
		t.Error("leaving should clear typing")
	}

	evs := f.rec.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %v", f.rec.Kinds())
	}
	if upd := evs[0].(events.PresenceUpdate); upd.Record.IsActive {
		t.Error("leave event should carry IsActive=false")
	}
}

func TestTouchRecordsLastSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Touch(ctx, "room-1", "alice", "room-1:7"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	_ = f.svc.Heartbeat(ctx, "room-1", "alice")

	users, _ := f.svc.ListPresence(ctx, "room-1")
	if got := users["alice"].LastSeenMessageID; got != "room-1:7" {
		t.Errorf("LastSeenMessageID = %q, want room-1:7", got)
	}
	if len(users) != 1 {
		t.Errorf("companion field leaked into listing: %v", users)
	}
}

func TestTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.svc.SetTyping(ctx, "room-1", "bob", true)
	_ = f.svc.SetTyping(ctx, "room-1", "alice", true)

	got, err := f.svc.ListTyping(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListTyping: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("ListTyping = %v", got)
	}

	_ = f.svc.SetTyping(ctx, "room-1", "bob", false)
	got, _ = f.svc.ListTyping(ctx, "room-1")
	if !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("after stop = %v", got)
	}

	want := []events.Kind{events.KindTypingStart, events.KindTypingStart, events.KindTypingStop}
	if kinds := f.rec.Kinds(); !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestTypingTimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.svc.SetTyping(ctx, "room-1", "bob", true)
	f.clock.Advance(20 * time.Second)
	_ = f.svc.SetTyping(ctx, "room-1", "alice", true)
	f.clock.Advance(11 * time.Second)

	// Bob's marker is 31s old: stale even though alice refreshed the hash.
	if typing, _ := f.svc.IsTyping(ctx, "room-1", "bob"); typing {
		t.Error("bob should no longer be typing")
	}
	if typing, _ := f.svc.IsTyping(ctx, "room-1", "alice"); !typing {
		t.Error("alice should still be typing")
	}

	f.clock.Advance(20 * time.Second)
	got, err := f.svc.ListTyping(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListTyping: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListTyping after timeout = %v", got)
	}
}

func TestStoreOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetFault(errors.New("connection reset"))

	if err := f.svc.Heartbeat(ctx, "room-1", "alice"); err != nil {
		t.Errorf("Heartbeat should swallow store errors, got %v", err)
	}
	if err := f.svc.SetTyping(ctx, "room-1", "alice", true); err != nil {
		t.Errorf("SetTyping should swallow store errors, got %v", err)
	}
	if n := len(f.rec.Events()); n != 0 {
		t.Errorf("failed writes published %d events", n)
	}

	_, err := f.svc.ListPresence(ctx, "room-1")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("ListPresence err = %v, want ErrUnavailable", err)
	}
	if _, err := f.svc.ListTyping(ctx, "room-1"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("ListTyping err = %v, want ErrUnavailable", err)
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		room string
		user string
	}{
		{"empty room", "", "alice"},
		{"empty user", "room-1", ""},
		{"glob in room", "room-*", "alice"},
		{"space in user", "room-1", "al ice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.svc.Heartbeat(ctx, tt.room, tt.user); !errors.Is(err, validation.ErrValidation) {
				t.Errorf("Heartbeat err = %v, want ErrValidation", err)
			}
			if err := f.svc.SetTyping(ctx, tt.room, tt.user, true); !errors.Is(err, validation.ErrValidation) {
				t.Errorf("SetTyping err = %v, want ErrValidation", err)
			}
		})
	}
	if n := len(f.rec.Events()); n != 0 {
		t.Errorf("rejected input published %d events", n)
	}
}
