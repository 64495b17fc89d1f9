// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package presence tracks who is in a room and who is typing.
//
// Each room has one presence hash and one typing hash (field = user id,
// value = JSON record). Every write re-applies the kind's TTL so idle rooms
// clean themselves up. Expiry is passive: there is no "left" event for a
// user whose heartbeat lapsed, so readers drop records older than the TTL
// even if the store has not evicted them yet.
//
// Writes are best-effort: store failures are logged and counted, never
// returned. Reads return store.ErrUnavailable so an outage is not mistaken
// for an empty room.
package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

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

// seenSuffix marks the companion field holding a user's last seen message.
// User ids never contain NUL, so the field cannot collide with a user.
const seenSuffix = "\x00seen"

// Service owns presence and typing state.
type Service struct {
	store store.Store
	keys  *keyspace.Policy
	pub   events.Publisher
	clock quartz.Clock
}

// NewService creates a presence service. pub may be events.Discard.
func NewService(st store.Store, keys *keyspace.Policy, pub events.Publisher, clock quartz.Clock) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Service{store: st, keys: keys, pub: pub, clock: clock}
}

func validateScope(roomID, userID string) error {
	if !validation.IsIdentifier(roomID) {
		return validation.NewFieldError("room_id", "roomid", roomID, "room_id must be a room id without whitespace or glob characters")
	}
	if !validation.IsIdentifier(userID) {
		return validation.NewFieldError("user_id", "userid", userID, "user_id must be a user id without whitespace or glob characters")
	}
	return nil
}

// Heartbeat marks userID active in roomID, refreshes the presence TTL and
// publishes a presence-update. Only validation errors are returned.
func (s *Service) Heartbeat(ctx context.Context, roomID, userID string) error {
	if err := validateScope(roomID, userID); err != nil {
		return err
	}
	rec := models.PresenceRecord{
		UserID:       userID,
		LastActiveAt: s.clock.Now().UTC(),
		IsActive:     true,
	}
	if err := s.writePresence(ctx, roomID, rec); err != nil {
		s.logWriteFailure(ctx, "heartbeat", roomID, userID, err)
		metrics.RecordPresenceWrite("heartbeat", err)
		return nil
	}
	metrics.RecordPresenceWrite("heartbeat", nil)
	s.pub.Publish(ctx, events.PresenceUpdate{RoomID: roomID, Record: rec})
	return nil
}

// Touch records activity from a message send: it remembers messageID as the
// user's last seen message and then heartbeats.
func (s *Service) Touch(ctx context.Context, roomID, userID, messageID string) error {
	if err := validateScope(roomID, userID); err != nil {
		return err
	}
	if messageID != "" {
		key := s.keys.BuildKey(keyspace.Presence, roomID)
		if err := s.store.SetHash(ctx, key, userID+seenSuffix, messageID); err != nil {
			s.logWriteFailure(ctx, "touch", roomID, userID, err)
		}
	}
	return s.Heartbeat(ctx, roomID, userID)
}

func (s *Service) writePresence(ctx context.Context, roomID string, rec models.PresenceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode presence record: %w", err)
	}
	key := s.keys.BuildKey(keyspace.Presence, roomID)
	if err := s.store.SetHash(ctx, key, rec.UserID, string(raw)); err != nil {
		return err
	}
	return s.store.Expire(ctx, key, s.keys.TTLFor(keyspace.Presence))
}

// MarkInactive removes userID from roomID and publishes a presence-update
// with IsActive=false. Only validation errors are returned.
func (s *Service) MarkInactive(ctx context.Context, roomID, userID string) error {
	if err := validateScope(roomID, userID); err != nil {
		return err
	}
	key := s.keys.BuildKey(keyspace.Presence, roomID)
	err := s.store.DelHash(ctx, key, userID, userID+seenSuffix)
	metrics.RecordPresenceWrite("inactive", err)
	if err != nil {
		s.logWriteFailure(ctx, "inactive", roomID, userID, err)
		return nil
	}

	// A departing user is no longer typing either.
	typingKey := s.keys.BuildKey(keyspace.Typing, roomID)
	if err := s.store.DelHash(ctx, typingKey, userID); err != nil {
		s.logWriteFailure(ctx, "typing-stop", roomID, userID, err)
	}

	s.pub.Publish(ctx, events.PresenceUpdate{RoomID: roomID, Record: models.PresenceRecord{
		UserID:       userID,
		LastActiveAt: s.clock.Now().UTC(),
		IsActive:     false,
	}})
	return nil
}

// ListPresence returns the active users of roomID. Records whose last
// activity is older than the presence TTL are treated as absent.
func (s *Service) ListPresence(ctx context.Context, roomID string) (map[string]models.PresenceRecord, error) {
	key := s.keys.BuildKey(keyspace.Presence, roomID)
	fields, err := s.store.GetAllHash(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list presence for room %s: %w", roomID, err)
	}

	ttl := s.keys.TTLFor(keyspace.Presence)
	now := s.clock.Now()
	out := make(map[string]models.PresenceRecord, len(fields))
	for field, raw := range fields {
		if strings.HasSuffix(field, seenSuffix) {
			continue
		}
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("room_id", roomID).
				Str("user_id", field).
				Msg("Skipping malformed presence record")
			continue
		}
		if !rec.IsActive || isStale(now.Sub(rec.LastActiveAt), ttl) {
			continue
		}
		rec.LastSeenMessageID = fields[field+seenSuffix]
		out[field] = rec
	}
	return out, nil
}

// SetTyping writes or clears the typing marker and publishes typing-start
// or typing-stop. Only validation errors are returned.
func (s *Service) SetTyping(ctx context.Context, roomID, userID string, isTyping bool) error {
	if err := validateScope(roomID, userID); err != nil {
		return err
	}
	key := s.keys.BuildKey(keyspace.Typing, roomID)

	if !isTyping {
		err := s.store.DelHash(ctx, key, userID)
		metrics.RecordPresenceWrite("typing-stop", err)
		if err != nil {
			s.logWriteFailure(ctx, "typing-stop", roomID, userID, err)
			return nil
		}
		s.pub.Publish(ctx, events.TypingStop{RoomID: roomID, UserID: userID})
		return nil
	}

	rec := models.TypingRecord{UserID: userID, Timestamp: s.clock.Now().UTC()}
	err := s.writeTyping(ctx, key, rec)
	metrics.RecordPresenceWrite("typing-start", err)
	if err != nil {
		s.logWriteFailure(ctx, "typing-start", roomID, userID, err)
		return nil
	}
	s.pub.Publish(ctx, events.TypingStart{RoomID: roomID, UserID: userID, Timestamp: rec.Timestamp})
	return nil
}

func (s *Service) writeTyping(ctx context.Context, key string, rec models.TypingRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode typing record: %w", err)
	}
	if err := s.store.SetHash(ctx, key, rec.UserID, string(raw)); err != nil {
		return err
	}
	return s.store.Expire(ctx, key, s.keys.TTLFor(keyspace.Typing))
}

// ListTyping returns the users currently typing in roomID, sorted. Markers
// older than the typing TTL count as not typing.
func (s *Service) ListTyping(ctx context.Context, roomID string) ([]string, error) {
	key := s.keys.BuildKey(keyspace.Typing, roomID)
	fields, err := s.store.GetAllHash(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list typing for room %s: %w", roomID, err)
	}

	ttl := s.keys.TTLFor(keyspace.Typing)
	now := s.clock.Now()
	users := make([]string, 0, len(fields))
	for userID, raw := range fields {
		var rec models.TypingRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if !isStale(now.Sub(rec.Timestamp), ttl) {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// IsTyping reports whether userID has a live typing marker in roomID.
func (s *Service) IsTyping(ctx context.Context, roomID, userID string) (bool, error) {
	key := s.keys.BuildKey(keyspace.Typing, roomID)
	raw, found, err := s.store.GetHash(ctx, key, userID)
	if err != nil {
		return false, fmt.Errorf("read typing for room %s: %w", roomID, err)
	}
	if !found {
		return false, nil
	}
	var rec models.TypingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return false, nil
	}
	return !isStale(s.clock.Now().Sub(rec.Timestamp), s.keys.TTLFor(keyspace.Typing)), nil
}

// isStale reports whether a record of the given age has outlived ttl.
// A zero ttl never goes stale.
func isStale(age, ttl time.Duration) bool {
	return ttl > 0 && age >= ttl
}

func (s *Service) logWriteFailure(ctx context.Context, op, roomID, userID string, err error) {
	logging.Ctx(ctx).Warn().Err(err).
		Str("op", op).
		Str("room_id", roomID).
		Str("user_id", userID).
		Msg("Presence write dropped")
}
