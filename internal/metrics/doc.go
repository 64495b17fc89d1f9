// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package metrics provides Prometheus collectors for Roomsync.

All collectors are package-level and registered with the default registry
through promauto. Callers use the Record* helpers rather than touching the
vectors directly, so label sets stay consistent.

Metrics are exposed at /metrics in Prometheus text format:

	curl http://localhost:8420/metrics

# Alerting

roomsync_credit_sync_failures_total increments when a user's credit sync
exhausts its retries. Unsynced events stay in the ephemeral store and are
picked up on the next tick, so a rising counter means the ledger is down,
not that credits were lost.

roomsync_credit_sync_last_success_timestamp going stale means no full sync
run has completed recently.
*/
package metrics
