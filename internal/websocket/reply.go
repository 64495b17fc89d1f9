// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package websocket

// Reply frame types. Room events use the events.Kind values instead.
const (
	ReplyTypeAck   = "ack"
	ReplyTypeError = "error"
	ReplyTypePong  = "pong"
)

// Error codes carried in error replies.
const (
	ErrCodeInvalidCommand   = "INVALID_COMMAND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotInRoom        = "NOT_IN_ROOM"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// Reply answers a single client command.
type Reply struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Command   string      `json:"command,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ReplyError `json:"error,omitempty"`
}

// ReplyError describes a rejected command.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckReply acknowledges command with optional data.
func NewAckReply(requestID, command string, data interface{}) Reply {
	return Reply{Type: ReplyTypeAck, RequestID: requestID, Command: command, Data: data}
}

// NewErrorReply rejects a command.
func NewErrorReply(requestID, code, message string) Reply {
	return Reply{Type: ReplyTypeError, RequestID: requestID, Error: &ReplyError{Code: code, Message: message}}
}
