// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package services adapts Roomsync components to suture.Service.

Components keep their own lifecycle shapes (Start/Stop, Run, Serve)
and the wrappers here translate them into Serve(ctx) error:

	HTTPServerService        binds addr per Serve, *http.Server.Serve; drains on cancel
	WebSocketHubService      websocket.Hub.RunWithContext
	ManagerService           Start(ctx)/Stop() managers: credit sync job, capacity monitor
	RelayService             relay.Relay.Run feeding Hub.DeliverRemote
	EmbeddedNATSService      owns an in-process NATS server until shutdown

Every wrapper returns ctx.Err() on a requested shutdown and a wrapped error
on failure, which suture answers with a restart under backoff. Wrappers
implement fmt.Stringer so supervisor events name the service.

The local Badger store is a suture.Service itself (its Serve runs TTL
sweeps and value-log GC) and is added to the tree without a wrapper.
*/
package services
