// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tomtom215/roomsync/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

// HTTPServerService binds addr and serves the REST and websocket router on
// it. Each Serve call binds again, so a supervisor restart after a bind
// failure retries the port.
//
//	server := &http.Server{Handler: router.SetupChi()}
//	tree.AddAPIService(services.NewHTTPServerService(server, ":8080", cfg.Server.ShutdownTimeout))
type HTTPServerService struct {
	server HTTPServer
	addr   string
	drain  time.Duration
	bound  atomic.Value // string
}

// NewHTTPServerService serves server on addr. drain bounds how long open
// requests get on shutdown; zero means 10s.
func NewHTTPServerService(server HTTPServer, addr string, drain time.Duration) *HTTPServerService {
	if drain <= 0 {
		drain = 10 * time.Second
	}
	return &HTTPServerService{server: server, addr: addr, drain: drain}
}

// Addr returns the bound listener address, or "" before the first bind.
func (h *HTTPServerService) Addr() string {
	addr, _ := h.bound.Load().(string)
	return addr
}

// Serve implements suture.Service. Bind and serve errors are returned so
// the supervisor restarts the service. On cancellation open requests drain
// and ctx.Err() is returned.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.bound.Store(ln.Addr().String())
	log := logging.WithComponent("http")
	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	served := make(chan error, 1)
	go func() { served <- h.server.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", h.addr, err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.drain)
	defer cancel()
	if err := h.server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain %s: %w", h.addr, err)
	}
	<-served
	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server stopped")
	return ctx.Err()
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
