// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/validation"
)

// CreditTotal returns the user's running total from the fast path, which
// counts synced and unsynced usage. When the ledger answers, the committed
// total is included as durable.
func (h *Handler) CreditTotal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := CreditUserRequest{UserID: chi.URLParam(r, "userId")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, apiErr)
		return
	}

	total, err := h.credits.GetRunningTotal(r.Context(), req.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	out := models.CreditTotal{UserID: req.UserID, Total: total}
	if h.ledger != nil {
		durable, err := h.ledger.SumCreditsForUser(r.Context(), req.UserID)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("user_id", req.UserID).
				Msg("Durable credit total unavailable, serving running total only")
		} else {
			out.Durable = &durable
		}
	}

	respondSuccess(w, http.StatusOK, out, start)
}

// CreditHistory pages through the user's committed credit records, newest
// first.
func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	defaultLimit := h.config.API.DefaultPageSize
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	maxLimit := h.config.API.MaxPageSize
	if maxLimit <= 0 {
		maxLimit = 100
	}

	limit, limitOK := getIntParam(r, "limit", defaultLimit)
	offset, offsetOK := getIntParam(r, "offset", 0)
	if !limitOK {
		limit = 0
	}
	if !offsetOK {
		offset = -1
	}
	req := CreditHistoryRequest{UserID: chi.URLParam(r, "userId"), Limit: limit, Offset: offset}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, apiErr)
		return
	}
	if req.Limit > maxLimit {
		respondServiceError(w, r, validation.NewFieldError("limit", "max", req.Limit,
			fmt.Sprintf("limit must be at most %d", maxLimit)))
		return
	}

	if h.ledger == nil {
		respondServiceError(w, r, fmt.Errorf("%w: no ledger configured", ledger.ErrDurableWrite))
		return
	}

	// Fetch one extra record to learn whether another page exists.
	records, err := h.ledger.ListCreditHistory(r.Context(), req.UserID, req.Limit+1, req.Offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	hasMore := len(records) > req.Limit
	if hasMore {
		records = records[:req.Limit]
	}
	if records == nil {
		records = []models.DurableCreditRecord{}
	}

	respondSuccess(w, http.StatusOK, models.CreditHistory{
		UserID:  req.UserID,
		Records: records,
		Pagination: models.PaginationInfo{
			Limit:   req.Limit,
			Offset:  req.Offset,
			HasMore: hasMore,
		},
	}, start)
}

// TrackCreditUsage records a usage event on the fast path. It answers 202:
// the event is recorded ephemerally and reaches the ledger on the next
// sync pass. Repeating a message id is accepted and changes nothing.
func (h *Handler) TrackCreditUsage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req CreditUsageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, apiErr)
		return
	}
	if (req.Credits == nil) == (req.Usage == nil) {
		respondServiceError(w, r, validation.NewFieldError("credits", "required_without", nil,
			"exactly one of credits or usage is required"))
		return
	}

	var charged int64
	if req.Credits != nil {
		charged = *req.Credits
		if err := h.credits.TrackUsage(r.Context(), req.UserID, req.MessageID, charged, req.Metadata); err != nil {
			respondServiceError(w, r, err)
			return
		}
	} else {
		plan := req.Plan
		if plan == "" {
			plan = h.config.Credits.DefaultPlan
		}
		n, err := h.credits.TrackModelUsage(r.Context(), plan, req.UserID, req.MessageID, *req.Usage, req.Metadata)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		charged = n
	}

	respondSuccess(w, http.StatusAccepted, CreditUsageResponse{
		UserID:    req.UserID,
		MessageID: req.MessageID,
		Credits:   charged,
	}, start)
}
