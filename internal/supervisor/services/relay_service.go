// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/roomsync/internal/relay"
)

// RelayReceiver is the receive side of relay.Relay.
type RelayReceiver interface {
	Run(ctx context.Context, deliver relay.Deliver) error
	Backend() string
}

// RelayService feeds envelopes from other nodes into the local hub. The
// relay connection is owned by the caller and closed after the tree stops,
// so a restarted Serve reuses it.
type RelayService struct {
	relay   RelayReceiver
	deliver relay.Deliver
	name    string
}

// NewRelayService wraps r. deliver is usually hub.DeliverRemote.
func NewRelayService(r RelayReceiver, deliver relay.Deliver) *RelayService {
	return &RelayService{
		relay:   r,
		deliver: deliver,
		name:    "relay-" + r.Backend(),
	}
}

// Serve implements suture.Service.
func (s *RelayService) Serve(ctx context.Context) error {
	err := s.relay.Run(ctx, s.deliver)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		err = errors.New("receiver returned")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *RelayService) String() string {
	return s.name
}
