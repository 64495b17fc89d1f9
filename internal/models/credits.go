// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditUsageEvent is a per-message credit charge held on the fast path
// until the sync job commits it. Only SyncedToDB ever changes, and only
// from false to true.
type CreditUsageEvent struct {
	UserID     string                 `json:"user_id"`
	MessageID  string                 `json:"message_id"`
	Credits    int64                  `json:"credits"`
	Timestamp  time.Time              `json:"timestamp"`
	SyncedToDB bool                   `json:"synced_to_db"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DurableCreditRecord is a committed credit charge. There is at most one
// record per (UserID, MessageID).
type DurableCreditRecord struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	MessageID string                 `json:"message_id"`
	Amount    int64                  `json:"amount"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// creditRecordNamespace scopes the UUIDv5 record ids.
var creditRecordNamespace = uuid.MustParse("6f1c8a52-3d0e-5b7a-9c44-2b8e7f9d1a60")

// CreditRecordID derives the durable record id. The same (userID, messageID)
// pair always yields the same id, so a retried insert is a no-op.
func CreditRecordID(userID, messageID string) string {
	return uuid.NewSHA1(creditRecordNamespace, []byte(userID+"\x00"+messageID)).String()
}

// ToDurable maps a fast-path event to its ledger record.
func (e CreditUsageEvent) ToDurable() DurableCreditRecord {
	return DurableCreditRecord{
		ID:        CreditRecordID(e.UserID, e.MessageID),
		UserID:    e.UserID,
		MessageID: e.MessageID,
		Amount:    e.Credits,
		Timestamp: e.Timestamp,
		Metadata:  e.Metadata,
	}
}
