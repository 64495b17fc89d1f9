// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultSendBuffer is the per-subscriber queue length.
	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 64 * 1024
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
// DETERMINISM: Clients are sorted by this ID for every fan-out.
var clientIDCounter atomic.Uint64

// Handler processes client frames. The api package implements it.
type Handler interface {
	// HandleCommand is called once per inbound frame, on the read goroutine.
	HandleCommand(ctx context.Context, c *Client, raw []byte)

	// Disconnected is called once after the read loop ends, with the rooms
	// the client had joined.
	Disconnected(ctx context.Context, c *Client, rooms []string)
}

// ClientOptions tunes a single connection.
type ClientOptions struct {
	SendBuffer     int
	MaxMessageSize int64

	// CommandRate is commands per second; zero disables limiting.
	CommandRate  float64
	CommandBurst int
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	// DETERMINISM: Assigned from an atomic counter.
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	handler Handler
	limiter *rate.Limiter
	readMax int64

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewClient creates a client for an authenticated user.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, handler Handler, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	c := &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		userID:  userID,
		handler: handler,
		readMax: opts.MaxMessageSize,
		rooms:   make(map[string]struct{}),
	}
	if opts.CommandRate > 0 {
		burst := opts.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.CommandRate), burst)
	}
	return c
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	return c.userID
}

// Rooms returns the joined rooms, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// InRoom reports whether the client joined room.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) trackRoom(room string, joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if joined {
		c.rooms[room] = struct{}{}
	} else {
		delete(c.rooms, room)
	}
}

// allow applies the per-connection command rate.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// readPump reads frames until the connection fails, then runs the
// disconnect hook and unregisters.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		if c.handler != nil {
			c.handler.Disconnected(ctx, c, c.Rooms())
		}
		c.hub.unregister(c)
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(c.readMax)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Ctx(ctx).Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		// Any client frame proves liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.allow() {
			metrics.RecordWSCommand("any", "rate_limited")
			_ = c.hub.SendJSON(ctx, c, NewErrorReply("", ErrCodeRateLimited, "too many commands"))
			continue
		}
		if c.handler != nil {
			c.handler.HandleCommand(ctx, c, raw)
		}
	}
}

// writePump drains the queue onto the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// The hub closed the queue: dropped or shutting down.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("failed to write websocket frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start registers the client and begins reading and writing. ctx must
// outlive the HTTP request that upgraded the connection.
func (c *Client) Start(ctx context.Context) error {
	select {
	case c.hub.Register <- c:
	case <-c.hub.done:
		_ = c.conn.Close()
		return ErrHubStopped
	}
	go c.writePump()
	go c.readPump(logging.ContextWithUserID(ctx, c.userID))
	return nil
}
