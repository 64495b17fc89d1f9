// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ephemeral store metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomsync_store_op_duration_seconds",
			Help:    "Duration of ephemeral store operations in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_store_errors_total",
			Help: "Total number of ephemeral store failures (store unavailable)",
		},
		[]string{"backend", "op"},
	)

	// Presence, typing and receipt writes
	PresenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_presence_writes_total",
			Help: "Total number of presence and typing writes",
		},
		[]string{"op", "result"}, // op: heartbeat, inactive, typing; result: ok, error
	)

	ReceiptUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_receipt_updates_total",
			Help: "Total number of read receipt update attempts",
		},
		[]string{"result"}, // advanced, stale, invalid, error
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_messages_sent_total",
			Help: "Total number of chat messages appended to room streams",
		},
		[]string{"result"},
	)

	// Credit fast path
	CreditEventsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_credit_events_tracked_total",
			Help: "Total number of credit usage events by outcome",
		},
		[]string{"result"}, // created, duplicate, invalid, error
	)

	CreditsTracked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_credits_tracked_total",
			Help: "Sum of credits recorded on the fast path",
		},
	)

	// Credit sync job
	CreditSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomsync_credit_sync_duration_seconds",
			Help:    "Duration of a full credit sync run in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		},
	)

	CreditEventsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_credit_events_synced_total",
			Help: "Total number of credit usage events committed to the durable ledger",
		},
	)

	CreditSyncFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_credit_sync_failures_total",
			Help: "Total number of per-user syncs that exhausted their retries",
		},
	)

	CreditSyncRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_credit_sync_retries_total",
			Help: "Total number of durable write retries during credit sync",
		},
	)

	CreditSyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_credit_sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful credit sync run",
		},
	)

	CreditSyncRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_credit_sync_running",
			Help: "Whether the credit sync job is running (1) or stopped (0)",
		},
	)

	// Session capacity
	CapacityFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_capacity_flushes_total",
			Help: "Total number of room flushes",
		},
		[]string{"reason", "result"}, // reason: threshold, scheduled
	)

	MessagesArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_messages_archived_total",
			Help: "Total number of messages archived to the durable ledger",
		},
	)

	MessagesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_messages_evicted_total",
			Help: "Total number of archived messages evicted from room streams",
		},
	)

	SessionCapacityMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_session_capacity_max_fraction",
			Help: "Highest capacity fraction seen across rooms in the last check",
		},
	)

	// Durable ledger
	LedgerQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomsync_ledger_query_duration_seconds",
			Help:    "Duration of durable ledger queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "op"},
	)

	LedgerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_ledger_errors_total",
			Help: "Total number of durable ledger failures",
		},
		[]string{"driver", "op"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roomsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// WebSocket hub
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_ws_connections",
			Help: "Current number of connected websocket clients",
		},
	)

	WSRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_ws_rooms",
			Help: "Current number of rooms with at least one subscriber",
		},
	)

	WSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_ws_events_published_total",
			Help: "Total number of room events published by type",
		},
		[]string{"type"},
	)

	WSSubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_ws_subscribers_dropped_total",
			Help: "Total number of subscribers dropped because their queue was full",
		},
	)

	WSCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_ws_commands_total",
			Help: "Total number of client commands by type and outcome",
		},
		[]string{"type", "result"},
	)

	// Cross-node relay
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_relay_messages_total",
			Help: "Total number of relay envelopes by direction and outcome",
		},
		[]string{"backend", "direction", "result"}, // direction: out, in
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomsync_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)
)

// RecordStoreOp records an ephemeral store round trip. Only failures that
// surface as store unavailability should be passed as err.
func RecordStoreOp(backend, op string, duration time.Duration, err error) {
	StoreOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordPresenceWrite records a heartbeat, inactive or typing write.
func RecordPresenceWrite(op string, err error) {
	PresenceWrites.WithLabelValues(op, resultLabel(err)).Inc()
}

// RecordReceiptUpdate records the outcome of a receipt update.
func RecordReceiptUpdate(result string) {
	ReceiptUpdates.WithLabelValues(result).Inc()
}

// RecordMessageSent records a message append.
func RecordMessageSent(err error) {
	MessagesSent.WithLabelValues(resultLabel(err)).Inc()
}

// RecordCreditTracked records a fast-path usage event.
func RecordCreditTracked(result string, credits int64) {
	CreditEventsTracked.WithLabelValues(result).Inc()
	if result == "created" && credits > 0 {
		CreditsTracked.Add(float64(credits))
	}
}

// RecordCreditSyncRun records one pass over all users.
func RecordCreditSyncRun(duration time.Duration, synced int, err error) {
	CreditSyncDuration.Observe(duration.Seconds())
	CreditEventsSynced.Add(float64(synced))
	if err == nil {
		CreditSyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordCreditSyncFailure records a per-user sync that exhausted its retries.
func RecordCreditSyncFailure() {
	CreditSyncFailures.Inc()
}

// RecordCreditSyncRetry records one retry of a durable write.
func RecordCreditSyncRetry() {
	CreditSyncRetries.Inc()
}

// SetCreditSyncRunning flips the running gauge.
func SetCreditSyncRunning(running bool) {
	if running {
		CreditSyncRunning.Set(1)
	} else {
		CreditSyncRunning.Set(0)
	}
}

// RecordCapacityFlush records a room flush and how many messages it moved.
func RecordCapacityFlush(reason string, archived, evicted int, err error) {
	CapacityFlushes.WithLabelValues(reason, resultLabel(err)).Inc()
	MessagesArchived.Add(float64(archived))
	MessagesEvicted.Add(float64(evicted))
}

// RecordLedgerQuery records a durable ledger query.
func RecordLedgerQuery(driver, op string, duration time.Duration, err error) {
	LedgerQueryDuration.WithLabelValues(driver, op).Observe(duration.Seconds())
	if err != nil {
		LedgerErrors.WithLabelValues(driver, op).Inc()
	}
}

// RecordWSEvent records an event published to a room.
func RecordWSEvent(eventType string) {
	WSEventsPublished.WithLabelValues(eventType).Inc()
}

// RecordWSCommand records a client command.
func RecordWSCommand(cmdType, result string) {
	WSCommands.WithLabelValues(cmdType, result).Inc()
}

// RecordRelay records a relay publish (out) or delivery (in).
func RecordRelay(backend, direction string, err error) {
	RelayMessages.WithLabelValues(backend, direction, resultLabel(err)).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
