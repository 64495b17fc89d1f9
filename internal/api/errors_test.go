// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/tomtom215/roomsync/internal/identity"
	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/validation"
	ws "github.com/tomtom215/roomsync/internal/websocket"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", validation.NewFieldError("room_id", "required", "", "room_id is required"), http.StatusBadRequest, ErrCodeValidation},
		{"wrapped validation", fmt.Errorf("join: %w", validation.NewFieldError("room_id", "roomid", "a b", "bad")), http.StatusBadRequest, ErrCodeValidation},
		{"no credentials", identity.ErrNoCredentials, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"expired credentials", fmt.Errorf("token: %w", identity.ErrExpiredCredentials), http.StatusUnauthorized, ErrCodeUnauthorized},
		{"store closed", store.ErrClosed, http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{"store wrapped", fmt.Errorf("list presence: %w", store.ErrUnavailable), http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{"ledger", errors.Join(ledger.ErrDurableWrite, errors.New("eof")), http.StatusServiceUnavailable, ErrCodeLedgerUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := classifyError(tt.err)
			if f.status != tt.status || f.code != tt.code {
				t.Errorf("classifyError() = %d/%s, want %d/%s", f.status, f.code, tt.status, tt.code)
			}
		})
	}
}

func TestClassifyError_ValidationDetails(t *testing.T) {
	f := classifyError(validation.NewFieldError("limit", "max", 9, "limit must be at most 5"))
	if f.details == nil {
		t.Fatal("details = nil, want field details")
	}
}

func TestCommandErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not in room", ErrNotInRoom, ws.ErrCodeNotInRoom},
		{"unknown", ErrUnknownCommand, ws.ErrCodeInvalidCommand},
		{"malformed", fmt.Errorf("%w: eof", ErrMalformedCommand), ws.ErrCodeInvalidCommand},
		{"validation", validation.NewFieldError("content", "required", "", "content is required"), ws.ErrCodeValidation},
		{"store", store.ErrClosed, ws.ErrCodeStoreUnavailable},
		{"other", errors.New("boom"), ws.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := commandErrorCode(tt.err)
			if code != tt.want {
				t.Errorf("commandErrorCode() code = %s, want %s", code, tt.want)
			}
			if msg == "" {
				t.Error("commandErrorCode() message is empty")
			}
		})
	}
}
