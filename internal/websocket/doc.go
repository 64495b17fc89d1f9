// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package websocket fans room events out to connected clients.

Key Components:

  - Hub: owns room membership and serializes every join, leave, private send
    and room publish through one goroutine
  - Client: one gorilla/websocket connection with read and write goroutines
  - Reply: acknowledgement and error frames answering client commands

Architecture:

	           Publish(room, event)
	                  │
	┌─────────────────▼─────────────────┐
	│ Hub (single goroutine, ops queue) │──► Forwarder (relay to peers)
	└───────┬──────────────┬────────────┘
	        │ room r1      │ room r2
	   ┌────▼───┐     ┌────▼───┐
	   │Client 1│     │Client 2│   send queue: 256 frames
	   └────────┘     └────────┘

Delivery is best-effort and at-most-once. Each subscriber has a bounded
queue; when it is full the subscriber is dropped and its connection closed,
so one slow reader never delays a room. Because all hub work flows through a
single channel, every subscriber sees a room's events in publish order.

Cross-node delivery:

Publish encodes the event once, queues it locally, then hands the envelope to
the Forwarder stamped with this node's id. Envelopes arriving from peers go
through DeliverRemote, which ignores this node's own envelopes and never
forwards again.

Connection lifecycle:

 1. The api package upgrades the request and calls NewClient and Start
 2. Start registers the client with the hub
 3. Each inbound frame is rate-limited, then passed to the Handler
 4. On read failure the Handler's Disconnected hook runs with the joined rooms
 5. The client unregisters, which removes it from every room

Timeouts:

  - writeWait: 10 seconds per frame
  - pongWait: 60 seconds without a frame or pong closes the connection
  - pingPeriod: 54 seconds
*/
package websocket
