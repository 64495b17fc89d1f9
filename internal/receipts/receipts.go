// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package receipts keeps each user's read position per room.
//
// Positions are ordered by the sequence number embedded in message ids
// ("<roomId>:<seq>"), never by wall-clock time. A receipt only ever moves
// forward: the store compares and writes in one atomic step, so racing
// updates from several tabs cannot regress it.
package receipts

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/keyspace"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/validation"
)

// Service owns read receipts.
type Service struct {
	store store.Store
	keys  *keyspace.Policy
	pub   events.Publisher
	clock quartz.Clock
}

// NewService creates a receipt service. pub may be events.Discard.
func NewService(st store.Store, keys *keyspace.Policy, pub events.Publisher, clock quartz.Clock) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Service{store: st, keys: keys, pub: pub, clock: clock}
}

// UpdateReceipt moves userID's receipt in roomID to messageID if messageID
// is later than the stored position. It reports whether the receipt
// advanced; only then is a read-receipt-update published.
//
// Malformed input returns a validation error. Store failures are logged
// and reported as not advanced.
func (s *Service) UpdateReceipt(ctx context.Context, roomID, userID, messageID string) (bool, error) {
	if !validation.IsIdentifier(roomID) {
		return false, validation.NewFieldError("room_id", "roomid", roomID, "room_id must be a room id without whitespace or glob characters")
	}
	if !validation.IsIdentifier(userID) {
		return false, validation.NewFieldError("user_id", "userid", userID, "user_id must be a user id without whitespace or glob characters")
	}
	msgRoom, seq, ok := models.ParseMessageID(messageID)
	if !ok || msgRoom != roomID {
		return false, validation.NewFieldError("last_read_message_id", "messageid", messageID,
			"last_read_message_id must be a message id of the form <roomId>:<sequence> in this room")
	}

	receipt := models.ReadReceipt{
		UserID:            userID,
		LastReadMessageID: messageID,
		Timestamp:         s.clock.Now().UTC(),
		RoomID:            roomID,
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return false, fmt.Errorf("encode receipt: %w", err)
	}

	key := s.keys.BuildKey(keyspace.ReadReceipts, roomID)
	orderKey := s.keys.BuildKey(keyspace.ReceiptOrder, roomID)

	advanced, err := s.store.AdvanceHash(ctx, key, orderKey, userID, string(raw), seq)
	if err != nil {
		metrics.RecordReceiptUpdate("error")
		logging.Ctx(ctx).Warn().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Str("message_id", messageID).
			Msg("Receipt update dropped")
		return false, nil
	}
	if !advanced {
		metrics.RecordReceiptUpdate("stale")
		return false, nil
	}
	metrics.RecordReceiptUpdate("advanced")

	ttl := s.keys.TTLFor(keyspace.ReadReceipts)
	for _, k := range []string{key, orderKey} {
		if err := s.store.Expire(ctx, k, ttl); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("Failed to refresh receipt TTL")
		}
	}

	s.pub.Publish(ctx, events.ReceiptUpdate{RoomID: roomID, Receipt: receipt})
	return true, nil
}

// ListReceipts returns every receipt in roomID keyed by user id.
func (s *Service) ListReceipts(ctx context.Context, roomID string) (map[string]models.ReadReceipt, error) {
	key := s.keys.BuildKey(keyspace.ReadReceipts, roomID)
	fields, err := s.store.GetAllHash(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list receipts for room %s: %w", roomID, err)
	}

	out := make(map[string]models.ReadReceipt, len(fields))
	for userID, raw := range fields {
		var r models.ReadReceipt
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("room_id", roomID).
				Str("user_id", userID).
				Msg("Skipping malformed receipt")
			continue
		}
		out[userID] = r
	}
	return out, nil
}

// IsMessageRead reports whether userID has read messageID or any later
// message in the same room. It fails closed: ids without an ordering token
// and store errors yield false.
func (s *Service) IsMessageRead(ctx context.Context, messageID, userID string) bool {
	roomID, seq, ok := models.ParseMessageID(messageID)
	if !ok {
		return false
	}
	orderKey := s.keys.BuildKey(keyspace.ReceiptOrder, roomID)
	raw, found, err := s.store.GetHash(ctx, orderKey, userID)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("message_id", messageID).Msg("Read check failed closed")
		return false
	}
	if !found {
		return false
	}
	readSeq, err := strconv.ParseInt(raw, 10, 64)
	return err == nil && readSeq >= seq
}

// GetReaders returns the sorted ids of users whose receipt is at or past
// messageID. It fails closed with an empty list.
func (s *Service) GetReaders(ctx context.Context, messageID string) []string {
	roomID, seq, ok := models.ParseMessageID(messageID)
	if !ok {
		return []string{}
	}
	orderKey := s.keys.BuildKey(keyspace.ReceiptOrder, roomID)
	orders, err := s.store.GetAllHash(ctx, orderKey)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("message_id", messageID).Msg("Reader lookup failed closed")
		return []string{}
	}

	readers := make([]string, 0, len(orders))
	for userID, raw := range orders {
		readSeq, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && readSeq >= seq {
			readers = append(readers, userID)
		}
	}
	sort.Strings(readers)
	return readers
}
