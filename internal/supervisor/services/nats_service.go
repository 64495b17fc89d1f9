// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/roomsync/internal/logging"
)

// ErrEmbeddedNATSStopped reports that the in-process server went away
// outside of a shutdown.
var ErrEmbeddedNATSStopped = errors.New("embedded NATS server stopped")

// EmbeddedServer is satisfied by *relay.EmbeddedServer.
type EmbeddedServer interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// EmbeddedNATSService owns an embedded NATS server started before the tree
// (the relay connects to it at construction). Serve watches the server and
// shuts it down when the tree stops.
type EmbeddedNATSService struct {
	server          EmbeddedServer
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewEmbeddedNATSService wraps server.
func NewEmbeddedNATSService(server EmbeddedServer) *EmbeddedNATSService {
	return &EmbeddedNATSService{
		server:          server,
		checkInterval:   5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		name:            "embedded-nats",
	}
}

// Serve implements suture.Service. A server found stopped cannot be
// revived by a restart, so Serve then returns suture.ErrDoNotRestart and
// the relay keeps retrying its reconnects on its own.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		if !s.server.IsRunning() {
			logging.Error().Str("service", s.name).Msg("Embedded NATS server is not running")
			return fmt.Errorf("%w: %w", ErrEmbeddedNATSStopped, suture.ErrDoNotRestart)
		}

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("embedded NATS shutdown failed: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *EmbeddedNATSService) String() string {
	return s.name
}
