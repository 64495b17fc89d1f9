// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/api"
	"github.com/tomtom215/roomsync/internal/capacity"
	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/credits"
	"github.com/tomtom215/roomsync/internal/creditsync"
	"github.com/tomtom215/roomsync/internal/identity"
	"github.com/tomtom215/roomsync/internal/keyspace"
	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/messages"
	"github.com/tomtom215/roomsync/internal/presence"
	"github.com/tomtom215/roomsync/internal/receipts"
	"github.com/tomtom215/roomsync/internal/relay"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/supervisor"
	"github.com/tomtom215/roomsync/internal/supervisor/services"
	ws "github.com/tomtom215/roomsync/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Roomsync stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

// components holds everything that must be closed after the supervisor
// tree has stopped.
type components struct {
	store    store.Store
	ledger   ledger.Ledger
	relay    relay.Relay
	embedded *relay.EmbeddedServer
}

func (c *components) close() {
	if c.relay != nil {
		if err := c.relay.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing relay")
		}
	}
	if c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ledger")
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}
}

//nolint:gocyclo // Sequential wiring of every component
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nodeID := cfg.Relay.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	logging.Info().
		Str("version", version).
		Str("node_id", nodeID).
		Str("environment", cfg.Server.Environment).
		Str("store", cfg.Store.Backend).
		Str("ledger", cfg.Ledger.Driver).
		Str("relay", cfg.Relay.Backend).
		Str("identity", cfg.Identity.Mode).
		Msg("Starting Roomsync with supervisor tree")

	clock := quartz.NewReal()
	comps := &components{}
	defer comps.close()

	// === EPHEMERAL STATE ===
	st, err := store.Open(ctx, cfg.Store, cfg.Server.Environment, clock)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	comps.store = st
	logging.Info().Str("backend", cfg.Store.Backend).Msg("State store initialized")
	if cfg.Store.Backend == config.BackendMock {
		logging.Warn().Msg("Mock store backend in use: state is lost on restart")
	}

	// === DURABLE LEDGER ===
	l, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	durable := ledger.NewBreaker(l, ledger.DefaultBreakerSettings())
	comps.ledger = durable
	logging.Info().Str("driver", cfg.Ledger.Driver).Msg("Ledger initialized")

	// === RELAY ===
	if cfg.Relay.UsesNATS() && cfg.Relay.NATS.Embedded {
		srv, err := relay.NewEmbeddedServer(cfg.Relay.NATS.EmbeddedHost, cfg.Relay.NATS.EmbeddedPort, 10*time.Second)
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		comps.embedded = srv
		cfg.Relay.NATS.URL = srv.ClientURL()
		logging.Info().Str("url", srv.ClientURL()).Msg("Embedded NATS server started")
	}
	rl, err := relay.New(cfg.Relay, nodeID)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}
	comps.relay = rl

	var forwarder ws.Forwarder
	if rl.Backend() != config.RelayNone {
		forwarder = rl
	}
	hub := ws.NewHub(nodeID, forwarder)

	// === ROOM SERVICES ===
	keys := keyspace.New(cfg.Keyspace)
	presenceSvc := presence.NewService(st, keys, hub, clock)
	receiptSvc := receipts.NewService(st, keys, hub, clock)
	messageSvc := messages.NewService(st, keys, hub, clock, presenceSvc)
	fastPath := credits.NewFastPath(st, keys, credits.NewPlanCatalog(cfg.Credits), clock)

	syncJob := creditsync.NewJob(cfg.Credits.Sync, fastPath, durable, clock)
	flusher := capacity.NewRoomFlusher(messageSvc, durable, syncJob, cfg.Capacity.RetainMessages, cfg.Capacity.FlushTimeout)
	monitor := capacity.NewMonitor(cfg.Capacity, messageSvc, flusher, clock)

	// === HTTP ===
	resolver, err := identity.New(cfg.Identity)
	if err != nil {
		return fmt.Errorf("create identity resolver: %w", err)
	}
	if cfg.Identity.Mode == config.IdentityHeader {
		logging.Warn().Str("header", cfg.Identity.Header).Msg("Identity is taken from a trusted header; run behind an authenticating proxy")
	}

	handler := api.NewHandler(api.Dependencies{
		Config:   cfg,
		Store:    st,
		Presence: presenceSvc,
		Receipts: receiptSvc,
		Messages: messageSvc,
		Credits:  fastPath,
		Ledger:   durable,
		Sync:     syncJob,
		Hub:      hub,
		Version:  version,
	})
	if cfg.API.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED")
	}
	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(cfg.API), resolver)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	// === SUPERVISOR TREE ===
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	// Data layer
	if badger, ok := st.(*store.BadgerStore); ok {
		tree.AddDataService(badger)
	}
	tree.AddDataService(services.NewCreditSyncService(syncJob))
	tree.AddDataService(services.NewCapacityMonitorService(monitor))

	// Messaging layer
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	if comps.embedded != nil {
		tree.AddMessagingService(services.NewEmbeddedNATSService(comps.embedded))
	}
	if forwarder != nil {
		tree.AddMessagingService(services.NewRelayService(rl, hub.DeliverRemote))
	}

	// API layer
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, shutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			treeErr = err
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if comps.embedded != nil && comps.embedded.IsRunning() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := comps.embedded.Shutdown(sctx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS")
		}
	}
	return treeErr
}
