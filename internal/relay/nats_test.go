// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/events"
)

// startNATS runs an embedded server on a free port for the test.
func startNATS(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer("127.0.0.1", -1, 10*time.Second)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func newNATSRelay(t *testing.T, url string) *NATS {
	t.Helper()
	n, err := NewNATS(config.NATSConfig{
		URL:            url,
		Name:           t.Name(),
		ReconnectWait:  100 * time.Millisecond,
		MaxReconnects:  -1,
		PublishTimeout: 2 * time.Second,
	}, "roomsync")
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// inbox collects delivered envelopes.
type inbox struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (i *inbox) deliver(env events.Envelope) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.envs = append(i.envs, env)
	return true
}

func (i *inbox) rooms(kind events.Kind) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for _, e := range i.envs {
		if e.Type == kind {
			out = append(out, e.RoomID)
		}
	}
	return out
}

// runRelay runs r until the test ends and waits until its subscription is
// live by publishing a marker envelope.
func runRelay(t *testing.T, r Relay, in *inbox) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, in.deliver)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	marker := events.Envelope{Type: events.KindPresenceList, RoomID: "ready", Data: []byte(`{}`), Origin: "ready"}
	deadline := time.Now().Add(5 * time.Second)
	for len(in.rooms(events.KindPresenceList)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay subscription never became live")
		}
		_ = r.Publish(context.Background(), marker)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNATS_Subject(t *testing.T) {
	srv := startNATS(t)
	n := newNATSRelay(t, srv.ClientURL())
	if got := n.Subject("r1"); got != "roomsync.room.r1" {
		t.Errorf("Subject(r1) = %q", got)
	}
	if n.Backend() != config.RelayNATS {
		t.Errorf("Backend() = %q", n.Backend())
	}
	if err := n.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNATS_EveryNodeReceivesEveryEnvelope(t *testing.T) {
	srv := startNATS(t)
	a := newNATSRelay(t, srv.ClientURL())
	b := newNATSRelay(t, srv.ClientURL())
	inA, inB := &inbox{}, &inbox{}
	runRelay(t, a, inA)
	runRelay(t, b, inB)

	env := events.Envelope{
		Type:   events.KindTypingStop,
		RoomID: "r1",
		Data:   []byte(`{"room_id":"r1","user_id":"alice"}`),
		Origin: "node-a",
	}
	if err := a.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(inA.rooms(events.KindTypingStop)) == 0 || len(inB.rooms(events.KindTypingStop)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("envelope not received: a=%v b=%v",
				inA.rooms(events.KindTypingStop), inB.rooms(events.KindTypingStop))
		}
		time.Sleep(10 * time.Millisecond)
	}

	inB.mu.Lock()
	var got events.Envelope
	for _, e := range inB.envs {
		if e.Type == events.KindTypingStop {
			got = e
		}
	}
	inB.mu.Unlock()
	if got.Origin != "node-a" || got.RoomID != "r1" {
		t.Errorf("received %+v", got)
	}
}

func TestNATS_PublishKeepsRoomOrder(t *testing.T) {
	srv := startNATS(t)
	a := newNATSRelay(t, srv.ClientURL())
	b := newNATSRelay(t, srv.ClientURL())
	in := &inbox{}
	runRelay(t, b, in)

	rooms := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, room := range rooms {
		env := events.Envelope{Type: events.KindTypingStop, RoomID: room, Data: []byte(`{}`), Origin: "node-a"}
		if err := a.Publish(context.Background(), env); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(in.rooms(events.KindTypingStop)) < len(rooms) {
		if time.Now().After(deadline) {
			t.Fatalf("received %v", in.rooms(events.KindTypingStop))
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := in.rooms(events.KindTypingStop)
	for i, room := range rooms {
		if got[i] != room {
			t.Fatalf("order = %v, want %v", got, rooms)
		}
	}
}

func TestNATS_PublishWithoutOriginFails(t *testing.T) {
	srv := startNATS(t)
	n := newNATSRelay(t, srv.ClientURL())
	if err := n.Publish(context.Background(), events.Envelope{Type: events.KindTypingStop, RoomID: "r1"}); err == nil {
		t.Error("Publish() accepted an envelope without origin")
	}
}

func TestNATS_ConnectFailure(t *testing.T) {
	_, err := NewNATS(config.NATSConfig{URL: "nats://127.0.0.1:1", PublishTimeout: 200 * time.Millisecond}, "roomsync")
	if err == nil {
		t.Fatal("NewNATS() error = nil for an unreachable server")
	}
}
