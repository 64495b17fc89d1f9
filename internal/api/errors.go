// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/roomsync/internal/identity"
	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/validation"
)

// Error codes for API responses
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeLedgerUnavailable  = "LEDGER_UNAVAILABLE"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

var (
	// ErrNotInRoom rejects a room-scoped command from a client that has not joined the room.
	ErrNotInRoom = errors.New("not joined to room")

	// ErrUnknownCommand rejects a command type the dispatcher does not know.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMalformedCommand rejects a frame that is not a command object.
	ErrMalformedCommand = errors.New("malformed command")
)

// apiFailure is the HTTP form of an error.
type apiFailure struct {
	status  int
	code    string
	message string
	details map[string]interface{}
}

// classifyError maps service errors to status codes. Store outages are 503
// STORE_UNAVAILABLE and ledger outages 503 LEDGER_UNAVAILABLE so clients can
// tell a degraded dependency from a bad request.
func classifyError(err error) apiFailure {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		apiErr := verr.ToAPIError()
		return apiFailure{http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details}
	case errors.Is(err, identity.ErrNoCredentials),
		errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrExpiredCredentials):
		return apiFailure{http.StatusUnauthorized, ErrCodeUnauthorized, err.Error(), nil}
	case errors.Is(err, store.ErrUnavailable):
		return apiFailure{http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "State store unavailable", nil}
	case errors.Is(err, ledger.ErrDurableWrite):
		return apiFailure{http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, "Durable ledger unavailable", nil}
	case errors.Is(err, context.DeadlineExceeded):
		return apiFailure{http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Request timed out", nil}
	default:
		return apiFailure{http.StatusInternalServerError, ErrCodeInternal, "Internal server error", nil}
	}
}
