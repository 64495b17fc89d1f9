// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

const natsInboxSize = 1024

// NATS relays envelopes over core NATS subjects of the form
// <prefix>.room.<roomId>. Core pub/sub is fire-and-forget, which matches the
// hub's at-most-once delivery.
type NATS struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
}

// NewNATS connects to cfg.URL.
func NewNATS(cfg config.NATSConfig, prefix string) (*NATS, error) {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	log := logging.WithComponent("relay-nats")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.PublishTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS relay disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrlRedacted()).Msg("NATS relay reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info().Str("url", conn.ConnectedUrlRedacted()).Str("prefix", prefix).Msg("NATS relay connected")
	return &NATS{conn: conn, prefix: prefix, timeout: cfg.PublishTimeout}, nil
}

// Subject returns the subject for roomID.
func (n *NATS) Subject(roomID string) string {
	return n.prefix + ".room." + roomID
}

func (n *NATS) Backend() string {
	return config.RelayNATS
}

// Publish sends env on its room subject.
func (n *NATS) Publish(_ context.Context, env events.Envelope) error {
	data, err := encode(env)
	if err == nil {
		err = n.conn.Publish(n.Subject(env.RoomID), data)
	}
	metrics.RecordRelay(config.RelayNATS, "out", err)
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", env.RoomID, err)
	}
	return nil
}

// Run subscribes to every room subject and delivers until ctx ends.
func (n *NATS) Run(ctx context.Context, deliver Deliver) error {
	inbox := make(chan *nats.Msg, natsInboxSize)
	sub, err := n.conn.ChanSubscribe(n.prefix+".room.>", inbox)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	if err := n.conn.FlushTimeout(n.timeout); err != nil {
		return fmt.Errorf("nats flush subscription: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-inbox:
			receive(config.RelayNATS, msg.Data, deliver)
		}
	}
}

// Ping round-trips to the server.
func (n *NATS) Ping(_ context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats relay %s", n.conn.Status())
	}
	return n.conn.FlushTimeout(n.timeout)
}

// Close drains pending publishes and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
