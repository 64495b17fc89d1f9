// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package main is the entry point for the Roomsync server.

Roomsync keeps the ephemeral state of collaborative chat rooms (presence,
typing indicators, read receipts, recent messages) in a TTL-bound store,
fans room events out to WebSocket subscribers, and moves credit usage and
overflowing message streams into a durable ledger.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("roomsync")
	├── DataSupervisor ("data-layer")
	│   ├── Badger store GC (STORE_BACKEND=local)
	│   ├── Credit sync job
	│   └── Capacity monitor
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket hub
	│   ├── Embedded NATS server (NATS_EMBEDDED=true)
	│   └── Relay receiver (RELAY_BACKEND=nats|kafka)
	└── APISupervisor ("api-layer")
	    └── HTTP server

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. State store: Redis (managed), Badger (local) or in-memory (mock)
 4. Ledger: DuckDB or PostgreSQL behind a circuit breaker
 5. Relay: none, NATS (external or embedded) or Kafka
 6. Room services: presence, receipts, messages and the credit fast path
 7. Credit sync job and capacity monitor
 8. Identity resolver and Chi router
 9. Supervisor tree

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	HTTP_PORT=8420
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	STORE_BACKEND=managed        # managed, local, mock
	REDIS_ADDR=127.0.0.1:6379
	BADGER_PATH=/data/roomsync/state

	LEDGER_DRIVER=duckdb         # duckdb or postgres
	DUCKDB_PATH=/data/roomsync/ledger.duckdb
	POSTGRES_DSN=postgres://...

	RELAY_BACKEND=none           # none, nats, watermill, kafka
	NATS_URL=nats://127.0.0.1:4222
	NATS_EMBEDDED=false
	KAFKA_BROKERS=127.0.0.1:9092

	AUTH_MODE=jwt                # jwt or header
	JWT_SECRET=<32+ chars>
	IDENTITY_HEADER=X-User-ID

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Cancels the supervisor tree context
 2. Stops the HTTP server and closes WebSocket clients
 3. Stops the credit sync job and capacity monitor
 4. Closes the relay, ledger and store

# Usage Examples

Single node for development:

	export STORE_BACKEND=mock AUTH_MODE=header
	go run ./cmd/server

Two nodes on one host, the first hosting an embedded NATS server:

	RELAY_BACKEND=nats NATS_EMBEDDED=true NATS_EMBEDDED_PORT=4222 HTTP_PORT=8420 ./roomsync
	RELAY_BACKEND=nats NATS_URL=nats://127.0.0.1:4222 HTTP_PORT=8421 ./roomsync
*/
package main
