// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/roomsync/internal/models"
)

// defaultMessageLimit is used when /messages is called without a limit.
const defaultMessageLimit = 50

// Presence returns the active users and typists of a room. It is the
// polling fallback for clients that cannot hold a websocket.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := RoomRequest{RoomID: chi.URLParam(r, "roomId")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, apiErr)
		return
	}

	users, err := h.presence.ListPresence(r.Context(), req.RoomID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	typing, err := h.presence.ListTyping(r.Context(), req.RoomID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, models.PresenceSnapshot{
		RoomID: req.RoomID,
		Users:  users,
		Typing: typing,
	}, start)
}

// Receipts returns every read receipt of a room.
func (h *Handler) Receipts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := RoomRequest{RoomID: chi.URLParam(r, "roomId")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, apiErr)
		return
	}

	list, err := h.receipts.ListReceipts(r.Context(), req.RoomID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, models.ReceiptSnapshot{
		RoomID:   req.RoomID,
		Receipts: list,
	}, start)
}

// Messages returns the newest messages of a room still held in the
// ephemeral stream, oldest first. Archived messages are not included.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, ok := getIntParam(r, "limit", defaultMessageLimit)
	if !ok {
		limit = 0
	}
	req := MessagesRequest{RoomID: chi.URLParam(r, "roomId"), Limit: limit}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, apiErr)
		return
	}

	msgs, err := h.messages.Recent(r.Context(), req.RoomID, req.Limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, msgs, start)
}
