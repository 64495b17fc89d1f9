// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"github.com/tomtom215/roomsync/internal/credits"
)

// RoomRequest identifies a room in a path.
type RoomRequest struct {
	RoomID string `json:"room_id" validate:"required,roomid"`
}

// MessagesRequest pages the newest messages of a room.
type MessagesRequest struct {
	RoomID string `json:"room_id" validate:"required,roomid"`
	Limit  int    `json:"limit" validate:"min=1,max=1000"`
}

// CreditUserRequest identifies a user in a path.
type CreditUserRequest struct {
	UserID string `json:"user_id" validate:"required,userid"`
}

// CreditHistoryRequest pages a user's committed credit records.
// The limit ceiling is enforced against api.max_page_size by the handler.
type CreditHistoryRequest struct {
	UserID string `json:"user_id" validate:"required,userid"`
	Limit  int    `json:"limit" validate:"min=1"`
	Offset int    `json:"offset" validate:"min=0"`
}

// CreditUsageRequest records one usage event. Exactly one of Credits or
// Usage is given; Usage is priced with Plan (or the default plan).
type CreditUsageRequest struct {
	UserID    string                 `json:"user_id" validate:"required,userid"`
	MessageID string                 `json:"message_id" validate:"required,max=256"`
	Credits   *int64                 `json:"credits,omitempty" validate:"omitempty,gte=0"`
	Usage     *credits.TokenUsage    `json:"usage,omitempty"`
	Plan      string                 `json:"plan,omitempty" validate:"omitempty,max=64"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// CreditUsageResponse reports what was recorded.
type CreditUsageResponse struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Credits   int64  `json:"credits"`
}

// WebSocket command payloads.

// RoomCommand is the payload of room:join, room:leave, typing:start,
// typing:stop and heartbeat.
type RoomCommand struct {
	RoomID string `json:"room_id" validate:"required,roomid"`
}

// ReceiptCommand is the payload of receipt:update.
type ReceiptCommand struct {
	RoomID            string `json:"room_id" validate:"required,roomid"`
	LastReadMessageID string `json:"last_read_message_id" validate:"required,messageid"`
}

// MessageCommand is the payload of message:send.
type MessageCommand struct {
	RoomID  string `json:"room_id" validate:"required,roomid"`
	Content string `json:"content" validate:"required"`
}

