// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// DefaultQueueSize is the hub's inbound operation buffer.
const DefaultQueueSize = 1024

// ErrHubStopped is returned when an operation is submitted after shutdown.
var ErrHubStopped = errors.New("websocket hub stopped")

// Forwarder carries locally published envelopes to other nodes.
// relay.Relay implements it.
type Forwarder interface {
	Publish(ctx context.Context, env events.Envelope) error
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opSend
	opBroadcast
)

// op is one unit of hub work. All ops share a single channel so that the
// order a goroutine submits them in is the order they are applied.
type op struct {
	kind    opKind
	client  *Client
	room    string
	payload []byte
	event   events.Kind
}

// Hub maintains room membership and fans room events out to subscribers.
//
// Every mutation happens on the hub goroutine. A subscriber whose queue is
// full is dropped rather than allowed to stall the room.
type Hub struct {
	nodeID string
	relay  Forwarder

	// clients maps each registered client to the rooms it joined.
	clients map[*Client]map[string]struct{}
	rooms   map[string]map[*Client]struct{}

	Register   chan *Client
	Unregister chan *Client
	ops        chan op

	done     chan struct{}
	doneOnce sync.Once

	mu sync.RWMutex
}

// NewHub creates a hub for node nodeID. relay may be nil for a single-node
// deployment.
func NewHub(nodeID string, relay Forwarder) *Hub {
	return &Hub{
		nodeID:     nodeID,
		relay:      relay,
		clients:    make(map[*Client]map[string]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		ops:        make(chan op, DefaultQueueSize),
		done:       make(chan struct{}),
	}
}

// NodeID returns the origin id stamped on relayed envelopes.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// RunWithContext runs the hub loop until ctx is canceled. It is designed for
// use with suture supervision.
//
// DETERMINISM: Uses priority-based selection to ensure predictable behavior:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Room operations, in submission order
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client, "disconnected")
			continue
		default:
		}

		// Priority 3: Handle room operations or wait for any event (blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client, "disconnected")
		case o := <-h.ops:
			h.apply(o)
		}
	}
}

// String names the hub for supervisor logs.
func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = make(map[string]struct{})
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Debug().Uint64("client_id", c.id).Str("user_id", c.userID).Int("total_clients", total).
		Msg("websocket client connected")
}

// removeClient forgets c and closes its queue. It returns false if c was
// not registered.
func (h *Hub) removeClient(c *Client, reason string) bool {
	h.mu.Lock()
	joined, ok := h.clients[c]
	if ok {
		for room := range joined {
			h.leaveLocked(room, c)
		}
		delete(h.clients, c)
		close(c.send)
	}
	total, rooms := len(h.clients), len(h.rooms)
	h.mu.Unlock()

	if !ok {
		return false
	}
	metrics.WSConnections.Set(float64(total))
	metrics.WSRooms.Set(float64(rooms))
	logging.Debug().Uint64("client_id", c.id).Str("user_id", c.userID).Str("reason", reason).
		Int("total_clients", total).Msg("websocket client removed")
	return true
}

func (h *Hub) leaveLocked(room string, c *Client) {
	subs, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opJoin:
		h.mu.Lock()
		joined, ok := h.clients[o.client]
		if ok {
			joined[o.room] = struct{}{}
			subs, exists := h.rooms[o.room]
			if !exists {
				subs = make(map[*Client]struct{})
				h.rooms[o.room] = subs
			}
			subs[o.client] = struct{}{}
		}
		rooms := len(h.rooms)
		h.mu.Unlock()
		metrics.WSRooms.Set(float64(rooms))

	case opLeave:
		h.mu.Lock()
		if joined, ok := h.clients[o.client]; ok {
			delete(joined, o.room)
			h.leaveLocked(o.room, o.client)
		}
		rooms := len(h.rooms)
		h.mu.Unlock()
		metrics.WSRooms.Set(float64(rooms))

	case opSend:
		h.mu.RLock()
		_, ok := h.clients[o.client]
		h.mu.RUnlock()
		if ok && !h.deliver(o.client, o.payload) {
			h.drop(o.client)
		}

	case opBroadcast:
		h.broadcastToRoom(o.room, o.event, o.payload)
	}
}

// deliver performs the non-blocking enqueue onto c's queue.
func (h *Hub) deliver(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	if h.removeClient(c, "queue_full") {
		metrics.WSSubscribersDropped.Inc()
		logging.Warn().Uint64("client_id", c.id).Str("user_id", c.userID).Int("queue", cap(c.send)).
			Msg("websocket subscriber queue full, dropping subscriber")
	}
}

// broadcastToRoom delivers payload to every subscriber of room.
// DETERMINISM: Subscribers are visited in client ID order.
func (h *Hub) broadcastToRoom(room string, kind events.Kind, payload []byte) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].id < subs[j].id
	})

	var toDrop []*Client
	for _, c := range subs {
		if !h.deliver(c, payload) {
			toDrop = append(toDrop, c)
		}
	}
	for _, c := range toDrop {
		h.drop(c)
	}
	metrics.RecordWSEvent(string(kind))
}

// logGracefulShutdown closes every client and logs the shutdown without an
// error field; cancellation is expected here.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()
	h.doneOnce.Do(func() { close(h.done) })

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients closes every client queue in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.rooms = make(map[string]map[*Client]struct{})
	metrics.WSConnections.Set(0)
	metrics.WSRooms.Set(0)
}

// submit blocks until the hub accepts o, ctx ends or the hub stops.
func (h *Hub) submit(ctx context.Context, o op) error {
	select {
	case h.ops <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// Join subscribes c to room. Events published after the hub applies the
// join are delivered to c.
func (h *Hub) Join(ctx context.Context, room string, c *Client) error {
	c.trackRoom(room, true)
	return h.submit(ctx, op{kind: opJoin, client: c, room: room})
}

// Leave unsubscribes c from room.
func (h *Hub) Leave(ctx context.Context, room string, c *Client) error {
	c.trackRoom(room, false)
	return h.submit(ctx, op{kind: opLeave, client: c, room: room})
}

// Send queues raw bytes for c alone, in order with room events.
func (h *Hub) Send(ctx context.Context, c *Client, payload []byte) error {
	return h.submit(ctx, op{kind: opSend, client: c, payload: payload})
}

// SendEvent queues e for c alone. It is used for join snapshots.
func (h *Hub) SendEvent(ctx context.Context, c *Client, e events.Event) error {
	payload, err := events.Marshal(e)
	if err != nil {
		return err
	}
	return h.Send(ctx, c, payload)
}

// SendJSON marshals v and queues it for c alone.
func (h *Hub) SendJSON(ctx context.Context, c *Client, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Send(ctx, c, payload)
}

// Publish implements events.Publisher. The event is queued for local
// subscribers first and then handed to the relay, if any. It never blocks
// on subscribers; when the hub queue itself is full the event is dropped.
func (h *Hub) Publish(ctx context.Context, e events.Event) {
	env, err := events.Encode(e)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("type", string(e.Kind())).Msg("failed to encode room event")
		return
	}
	h.broadcastEnvelope(env)

	if h.relay == nil {
		return
	}
	env.Origin = h.nodeID
	if err := h.relay.Publish(ctx, env); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room_id", env.RoomID).Str("type", string(env.Type)).
			Msg("failed to relay room event")
	}
}

// DeliverRemote delivers an envelope received from the relay to local
// subscribers only. Envelopes this node originated are ignored; the return
// value reports whether env was delivered.
func (h *Hub) DeliverRemote(env events.Envelope) bool {
	if env.Origin == h.nodeID {
		return false
	}
	env.Origin = ""
	return h.broadcastEnvelope(env)
}

func (h *Hub) broadcastEnvelope(env events.Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Error().Err(err).Str("type", string(env.Type)).Msg("failed to marshal room envelope")
		return false
	}

	select {
	case h.ops <- op{kind: opBroadcast, room: env.RoomID, payload: payload, event: env.Type}:
		return true
	default:
		logging.Warn().Str("room_id", env.RoomID).Str("type", string(env.Type)).
			Msg("hub queue full, dropping room event")
		return false
	}
}

// GetClientCount returns the number of registered clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomCount returns the number of rooms with at least one subscriber.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomSubscribers returns the number of subscribers in room.
func (h *Hub) RoomSubscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// UserConnections returns how many subscribers of room other than except
// belong to userID. except may be nil.
func (h *Hub) UserConnections(room, userID string, except *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[room] {
		if c != except && c.userID == userID {
			n++
		}
	}
	return n
}

// unregister hands c back to the hub unless the hub already stopped.
func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
