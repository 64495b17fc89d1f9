// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package relay carries room event envelopes between nodes.
//
// A node publishes every locally originated envelope stamped with its node
// id, and every node receives every envelope. The receiving hub drops the
// ones it originated, so an event reaches each subscriber exactly once per
// node that holds them.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown relay backend")

// Deliver hands a received envelope to the local hub. It reports whether
// the envelope was delivered; *websocket.Hub.DeliverRemote matches it.
type Deliver func(env events.Envelope) bool

// Relay publishes envelopes to peers and receives theirs.
type Relay interface {
	// Publish sends env to every node, including this one.
	Publish(ctx context.Context, env events.Envelope) error

	// Run receives envelopes until ctx ends, calling deliver for each.
	Run(ctx context.Context, deliver Deliver) error

	// Close releases the connection.
	Close() error

	// Backend names the transport for logs and metrics.
	Backend() string
}

// New builds the relay selected by cfg.Backend.
func New(cfg config.RelayConfig, nodeID string) (Relay, error) {
	switch cfg.Backend {
	case config.RelayNone, "":
		return Noop{}, nil
	case config.RelayNATS:
		return NewNATS(cfg.NATS, cfg.SubjectPrefix)
	case config.RelayWatermill:
		return NewWatermill(cfg.NATS, cfg.SubjectPrefix)
	case config.RelayKafka:
		return NewKafka(cfg.Kafka, nodeID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Noop is the single-node relay: nothing leaves and nothing arrives.
type Noop struct{}

func (Noop) Publish(context.Context, events.Envelope) error { return nil }
func (Noop) Close() error { return nil }
func (Noop) Backend() string { return config.RelayNone }

// Run blocks until ctx ends.
func (Noop) Run(ctx context.Context, _ Deliver) error {
	<-ctx.Done()
	return ctx.Err()
}

func encode(env events.Envelope) ([]byte, error) {
	if env.Origin == "" {
		return nil, errors.New("relay envelope has no origin")
	}
	return json.Marshal(env)
}

// receive decodes one payload and delivers it. Malformed payloads are
// logged and skipped.
func receive(backend string, data []byte, deliver Deliver) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.RecordRelay(backend, "in", err)
		logging.Warn().Err(err).Str("backend", backend).Msg("failed to decode relayed envelope")
		return
	}
	if env.RoomID == "" || env.Type == "" {
		err := errors.New("envelope missing room or type")
		metrics.RecordRelay(backend, "in", err)
		logging.Warn().Err(err).Str("backend", backend).Msg("discarding relayed envelope")
		return
	}
	metrics.RecordRelay(backend, "in", nil)
	deliver(env)
}
