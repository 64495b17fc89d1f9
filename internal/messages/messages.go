// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package messages appends chat messages to a room's ephemeral stream.
//
// Each room has a sequence counter (never expires) and a stream list
// (message TTL, refreshed on every append). Message ids are
// "<roomId>:<seq>"; the sequence is the ordering token read receipts rely on.
package messages

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

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

// MaxContentLength bounds a message body in bytes.
const MaxContentLength = 16 * 1024

// Activity is notified after a successful send. The presence service
// implements it to record the sender's last seen message.
type Activity interface {
	Touch(ctx context.Context, roomID, userID, messageID string) error
}

// Stored is a stream element together with its raw stored form, which is
// what eviction must match.
type Stored struct {
	Message models.ChatMessage
	Raw     string
}

// Service owns room message streams.
type Service struct {
	store    store.Store
	keys     *keyspace.Policy
	pub      events.Publisher
	clock    quartz.Clock
	activity Activity
}

// NewService creates a message service. activity may be nil.
func NewService(st store.Store, keys *keyspace.Policy, pub events.Publisher, clock quartz.Clock, activity Activity) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Service{store: st, keys: keys, pub: pub, clock: clock, activity: activity}
}

// Send allocates the next sequence number for roomID, appends the message
// to the stream and publishes message-new. Unlike presence writes, a store
// failure is returned: the sender must know the message was not accepted.
func (s *Service) Send(ctx context.Context, roomID, userID, content string) (models.ChatMessage, error) {
	if err := validateSend(roomID, userID, content); err != nil {
		return models.ChatMessage{}, err
	}

	seq, err := s.store.IncrBy(ctx, s.keys.BuildKey(keyspace.MessageSeq, roomID), 1)
	if err != nil {
		metrics.RecordMessageSent(err)
		return models.ChatMessage{}, fmt.Errorf("allocate message sequence: %w", err)
	}

	msg := models.ChatMessage{
		ID:        models.MessageID(roomID, seq),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		Seq:       seq,
		CreatedAt: s.clock.Now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("encode message: %w", err)
	}

	streamKey := s.keys.BuildKey(keyspace.MessageStream, roomID)
	if _, err := s.store.AppendList(ctx, streamKey, string(raw)); err != nil {
		metrics.RecordMessageSent(err)
		return models.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	if err := s.store.Expire(ctx, streamKey, s.keys.TTLFor(keyspace.MessageStream)); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room_id", roomID).Msg("Failed to refresh message stream TTL")
	}
	metrics.RecordMessageSent(nil)

	if s.activity != nil {
		_ = s.activity.Touch(ctx, roomID, userID, msg.ID)
	}
	s.pub.Publish(ctx, events.MessageNew{RoomID: roomID, Message: msg})
	return msg, nil
}

func validateSend(roomID, userID, content string) error {
	if !validation.IsIdentifier(roomID) {
		return validation.NewFieldError("room_id", "roomid", roomID, "room_id must be a room id without whitespace or glob characters")
	}
	if !validation.IsIdentifier(userID) {
		return validation.NewFieldError("user_id", "userid", userID, "user_id must be a user id without whitespace or glob characters")
	}
	if strings.TrimSpace(content) == "" {
		return validation.NewFieldError("content", "required", content, "content is required")
	}
	if len(content) > MaxContentLength || !utf8.ValidString(content) {
		return validation.NewFieldError("content", "max", len(content),
			fmt.Sprintf("content must be valid UTF-8 of at most %d bytes", MaxContentLength))
	}
	return nil
}

// Stream returns the whole stream of roomID in append order. Elements that
// fail to decode are returned with a zero Message so they can still be evicted.
func (s *Service) Stream(ctx context.Context, roomID string) ([]Stored, error) {
	raws, err := s.store.RangeList(ctx, s.keys.BuildKey(keyspace.MessageStream, roomID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read stream for room %s: %w", roomID, err)
	}
	out := make([]Stored, 0, len(raws))
	for _, raw := range raws {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("room_id", roomID).Msg("Malformed stream element")
		}
		out = append(out, Stored{Message: m, Raw: raw})
	}
	return out, nil
}

// Recent returns up to limit of the newest messages of roomID, oldest first.
func (s *Service) Recent(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return []models.ChatMessage{}, nil
	}
	raws, err := s.store.RangeList(ctx, s.keys.BuildKey(keyspace.MessageStream, roomID), -int64(limit), -1)
	if err != nil {
		return nil, fmt.Errorf("read recent messages for room %s: %w", roomID, err)
	}
	out := make([]models.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// Count returns the current stream length of roomID.
func (s *Service) Count(ctx context.Context, roomID string) (int64, error) {
	n, err := s.store.ListLen(ctx, s.keys.BuildKey(keyspace.MessageStream, roomID))
	if err != nil {
		return 0, fmt.Errorf("count messages for room %s: %w", roomID, err)
	}
	return n, nil
}

// Evict removes one stream element by its raw form. Evicting an element
// that is already gone is not an error, so racing flushes are harmless.
func (s *Service) Evict(ctx context.Context, roomID, raw string) (bool, error) {
	removed, err := s.store.RemoveListValue(ctx, s.keys.BuildKey(keyspace.MessageStream, roomID), raw)
	if err != nil {
		return false, fmt.Errorf("evict message from room %s: %w", roomID, err)
	}
	return removed, nil
}

// Rooms lists the rooms that currently hold a message stream.
func (s *Service) Rooms(ctx context.Context) ([]string, error) {
	keys, err := s.store.ScanKeys(ctx, s.keys.Pattern(keyspace.MessageStream))
	if err != nil {
		return nil, fmt.Errorf("scan message streams: %w", err)
	}
	rooms := make([]string, 0, len(keys))
	for _, k := range keys {
		if room, ok := s.keys.ScopeFromKey(keyspace.MessageStream, k); ok {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}
