// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package supervisor runs the long-lived parts of a Roomsync node under a
suture v4 tree.

# Layout

	RootSupervisor ("roomsync")
	├── DataSupervisor ("data-layer")
	│   ├── StoreMaintenanceService (local store backend only)
	│   ├── CreditSyncService
	│   └── CapacityMonitorService
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocketHubService
	│   ├── RelayService (relay.backend != none)
	│   └── EmbeddedNATSService (relay.nats.embedded)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Each layer counts failures on its own. A relay that cannot reach its broker
is restarted with backoff inside the messaging layer and never takes the
HTTP server down with it.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(),
	    supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewCreditSyncService(job))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)

Services wrapped in the services subpackage return ctx.Err() on a clean
shutdown, and suture does not restart them after the tree context ends.
Services that fail to stop within TreeConfig.ShutdownTimeout are listed by
UnstoppedServiceReport.

# Logging

Supervisor events (service panics, restarts, backoff) go through sutureslog
into the zerolog logger via logging.NewSlogLogger.
*/
package supervisor
