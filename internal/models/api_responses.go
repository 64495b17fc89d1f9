// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import (
	"time"
)

// APIResponse is the envelope for every REST response.
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"room_id": "r1", "users": {...}},
//	  "metadata": {"timestamp": "2026-03-01T12:00:00Z"}
//	}
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "STORE_UNAVAILABLE",
//	    "message": "presence is temporarily unavailable"
//	  },
//	  "metadata": {"timestamp": "2026-03-01T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError represents an error response with structured error details.
//
// Error codes:
//   - VALIDATION_ERROR: invalid input parameters
//   - STORE_UNAVAILABLE: the ephemeral store could not be reached
//   - LEDGER_UNAVAILABLE: the durable ledger could not be reached
//   - UNAUTHORIZED: no caller identity could be resolved
//   - RATE_LIMIT_EXCEEDED: too many requests
//   - INTERNAL_ERROR: anything else
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PaginationInfo describes an offset page.
type PaginationInfo struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// PresenceSnapshot is the body of GET /presence/{roomId}.
type PresenceSnapshot struct {
	RoomID string                    `json:"room_id"`
	Users  map[string]PresenceRecord `json:"users"`
	Typing []string                  `json:"typing"`
}

// ReceiptSnapshot is the body of GET /receipts/{roomId}.
type ReceiptSnapshot struct {
	RoomID   string                 `json:"room_id"`
	Receipts map[string]ReadReceipt `json:"receipts"`
}

// CreditTotal is the body of GET /credits/{userId}/total.
// Total is the fast-path running total; Durable is the ledger sum and is
// nil when the ledger could not be read.
type CreditTotal struct {
	UserID  string `json:"user_id"`
	Total   int64  `json:"total"`
	Durable *int64 `json:"durable,omitempty"`
}

// CreditHistory is the body of GET /credits/{userId}/history.
type CreditHistory struct {
	UserID     string                `json:"user_id"`
	Records    []DurableCreditRecord `json:"records"`
	Pagination PaginationInfo        `json:"pagination"`
}

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status     string            `json:"status"` // ok, degraded
	Version    string            `json:"version,omitempty"`
	Uptime     float64           `json:"uptime_seconds"`
	Store      string            `json:"store"`  // ok, unavailable
	Ledger     string            `json:"ledger"` // ok, unavailable
	CreditSync CreditSyncHealth  `json:"credit_sync"`
	Hub        map[string]int    `json:"hub,omitempty"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// CreditSyncHealth is the health view of the credit sync job.
type CreditSyncHealth struct {
	Running             bool       `json:"running"`
	LastSuccessfulTick  *time.Time `json:"last_successful_tick,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}
