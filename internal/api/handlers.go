// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/credits"
	"github.com/tomtom215/roomsync/internal/creditsync"
	"github.com/tomtom215/roomsync/internal/identity"
	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/messages"
	"github.com/tomtom215/roomsync/internal/presence"
	"github.com/tomtom215/roomsync/internal/receipts"
	"github.com/tomtom215/roomsync/internal/store"
	ws "github.com/tomtom215/roomsync/internal/websocket"
)

// Dependencies are the services the handlers serve. Ledger and Sync may be
// nil on nodes that only serve realtime traffic.
type Dependencies struct {
	Config   *config.Config
	Store    store.Store
	Presence *presence.Service
	Receipts *receipts.Service
	Messages *messages.Service
	Credits  *credits.FastPath
	Ledger   ledger.Ledger
	Sync     *creditsync.Job
	Hub      *ws.Hub
	Version  string
}

// Handler contains dependencies for API handlers
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor and the websocket upgrade
//   - handlers_health.go: health and readiness probes
//   - handlers_rooms.go: presence, receipt and message snapshots
//   - handlers_credits.go: credit totals, history and usage tracking
//   - ws_commands.go: websocket command dispatch
type Handler struct {
	config    *config.Config
	store     store.Store
	presence  *presence.Service
	receipts  *receipts.Service
	messages  *messages.Service
	credits   *credits.FastPath
	ledger    ledger.Ledger
	sync      *creditsync.Job
	wsHub     *ws.Hub
	commands  *CommandDispatcher
	startTime time.Time
	version   string
}

// NewHandler creates the API handler and its websocket command dispatcher.
func NewHandler(deps Dependencies) *Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		config:    cfg,
		store:     deps.Store,
		presence:  deps.Presence,
		receipts:  deps.Receipts,
		messages:  deps.Messages,
		credits:   deps.Credits,
		ledger:    deps.Ledger,
		sync:      deps.Sync,
		wsHub:     deps.Hub,
		commands:  NewCommandDispatcher(deps.Hub, deps.Presence, deps.Receipts, deps.Messages),
		startTime: time.Now(),
		version:   deps.Version,
	}
}

// Commands returns the websocket command dispatcher.
func (h *Handler) Commands() *CommandDispatcher {
	return h.commands
}

// getUpgrader returns a WebSocket upgrader with origin validation
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against the configured
// allowed origins. Requests without an Origin header are rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: no Origin header")
		return false
	}

	for _, allowed := range h.config.WebSocket.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

func (h *Handler) clientOptions() ws.ClientOptions {
	c := h.config.WebSocket
	return ws.ClientOptions{
		SendBuffer:     c.SendBuffer,
		MaxMessageSize: c.MaxMessageSize,
		CommandRate:    c.CommandRate,
		CommandBurst:   c.CommandBurst,
	}
}

// WebSocket upgrades an identified request and attaches the connection to
// the hub. The client joins rooms with room:join commands.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Identity required", nil)
		return
	}
	if h.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Realtime hub not available", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.wsHub, conn, userID, h.commands, h.clientOptions())
	// The connection outlives the upgrade request.
	if err := client.Start(context.WithoutCancel(r.Context())); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket client not started")
		return
	}
	logging.Ctx(r.Context()).Debug().Uint64("client_id", client.ID()).Msg("WebSocket client connected")
}
