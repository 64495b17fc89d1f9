// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import (
	"strconv"
	"strings"
	"time"
)

// PresenceRecord is one user's presence in one room. The record is removed
// when the user leaves or the presence TTL lapses, so IsActive is false only
// on the update event announcing the departure.
type PresenceRecord struct {
	UserID            string    `json:"user_id"`
	LastActiveAt      time.Time `json:"last_active_at"`
	IsActive          bool      `json:"is_active"`
	LastSeenMessageID string    `json:"last_seen_message_id,omitempty"`
}

// TypingRecord marks a user as typing. Readers treat records older than the
// typing TTL as not typing regardless of store expiry.
type TypingRecord struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadReceipt is the furthest message a user has read in a room.
type ReadReceipt struct {
	UserID            string    `json:"user_id"`
	LastReadMessageID string    `json:"last_read_message_id"`
	Timestamp         time.Time `json:"timestamp"`
	RoomID            string    `json:"room_id,omitempty"`
}

// ChatMessage is an element of a room's message stream.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionState is the capacity view of a room computed on each monitor tick.
type SessionState struct {
	RoomID           string  `json:"room_id"`
	MessageCount     int64   `json:"message_count"`
	CapacityFraction float64 `json:"capacity_fraction"`
}

// MessageID formats the id of the seq-th message of roomID.
func MessageID(roomID string, seq int64) string {
	return roomID + ":" + strconv.FormatInt(seq, 10)
}

// ParseMessageID splits a message id into its room and sequence number.
// The sequence is the positive integer after the last ':'. ok is false for
// ids without one; such ids carry no ordering information.
func ParseMessageID(id string) (roomID string, seq int64, ok bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return id[:i], n, true
}
