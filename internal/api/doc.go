// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package api exposes Roomsync over HTTP and WebSocket.

# Routes

Health and metrics are unauthenticated:

	GET /api/v1/health          overall status, sync job and store state
	GET /api/v1/health/live     liveness probe
	GET /api/v1/health/ready    readiness probe (503 when not ready)
	GET /metrics                Prometheus exposition

Everything else under /api/v1 requires a resolved identity:

	GET  /api/v1/presence/{roomId}          presence and typing snapshot
	GET  /api/v1/receipts/{roomId}          read receipt snapshot
	GET  /api/v1/messages/{roomId}?limit=   newest messages, oldest first
	GET  /api/v1/credits/{userId}/total     running credit total
	GET  /api/v1/credits/{userId}/history   committed credit records
	POST /api/v1/credits/usage              record credit usage
	GET  /api/v1/ws                         WebSocket upgrade

# Responses

REST responses use the models.APIResponse envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
	{"status": "error", "data": null, "metadata": {...}, "error": {"code": "...", "message": "..."}}

# WebSocket commands

Clients send commands as JSON frames:

	{"type": "room:join", "request_id": "1", "data": {"room_id": "r1"}}

The command types are room:join, room:leave, typing:start, typing:stop,
receipt:update, message:send, heartbeat and ping. Each command is answered
with an ack or error reply carrying the same request_id. Room events arrive
as events.Envelope frames.

A room:join is answered with presence-list and read-receipt-list snapshots
before the ack. Clients that reconnect must join again; events published
while disconnected are not replayed.
*/
package api
