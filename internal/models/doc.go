// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package models defines the data structures shared by Roomsync packages.

Key Components:

  - PresenceRecord, TypingRecord, ReadReceipt: per-user room state held in
    the ephemeral store
  - ChatMessage: an element of a room's recent-message stream; its id is
    "<room_id>:<seq>" (see MessageID and ParseMessageID)
  - CreditUsageEvent: a fast-path credit event, pending until synced
  - DurableCreditRecord: the ledger row an event becomes; its id is derived
    from (user_id, message_id) so re-syncing is idempotent
  - APIResponse: the envelope every REST handler writes

Usage Example - API Response:

	// Success response
	response := models.APIResponse{
	    Status: "success",
	    Data:   models.CreditTotal{UserID: "alice", Total: 12},
	    Metadata: models.Metadata{
	        Timestamp: time.Now(),
	    },
	}

	// Error response
	errorResponse := models.APIResponse{
	    Status: "error",
	    Error: &models.APIError{
	        Code:    "VALIDATION_ERROR",
	        Message: "room_id is invalid",
	    },
	}

Thread Safety:

All models are plain values with no internal locking. Share them read-only
or copy them.

JSON Marshaling:

Field names are snake_case. Timestamps marshal as RFC3339.
*/
package models
