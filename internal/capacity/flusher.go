// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package capacity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/messages"
	"github.com/tomtom215/roomsync/internal/models"
)

// Messages is the room stream surface a flush needs. *messages.Service
// implements it.
type Messages interface {
	Rooms(ctx context.Context) ([]string, error)
	Count(ctx context.Context, roomID string) (int64, error)
	Stream(ctx context.Context, roomID string) ([]messages.Stored, error)
	Evict(ctx context.Context, roomID, raw string) (bool, error)
}

// Archiver stores messages durably. ledger.Ledger implements it.
type Archiver interface {
	ArchiveMessages(ctx context.Context, msgs []models.ChatMessage) error
}

// UserSyncer reconciles one user's credit events. *creditsync.Job
// implements it.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (int, error)
}

// Flusher moves a room's ephemeral state into durable storage.
type Flusher interface {
	FlushRoom(ctx context.Context, roomID string) (FlushResult, error)
}

// FlushResult reports what one flush moved.
type FlushResult struct {
	Archived    int `json:"archived"`
	Evicted     int `json:"evicted"`
	UsersSynced int `json:"users_synced"`
}

// RoomFlusher is the flush shared by the capacity and interval triggers.
// Every step is idempotent, so two flushes of the same room may overlap.
type RoomFlusher struct {
	msgs    Messages
	archive Archiver
	syncer  UserSyncer
	retain  int
	timeout time.Duration
}

// NewRoomFlusher creates a flusher that keeps the newest retain messages in
// the stream after archiving.
func NewRoomFlusher(msgs Messages, archive Archiver, syncer UserSyncer, retain int, timeout time.Duration) *RoomFlusher {
	if retain < 0 {
		retain = 0
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RoomFlusher{msgs: msgs, archive: archive, syncer: syncer, retain: retain, timeout: timeout}
}

// FlushRoom archives the room's stream, evicts everything but the newest
// messages, and syncs credit events for every author in the batch.
// Nothing is evicted unless the archive committed.
func (f *RoomFlusher) FlushRoom(ctx context.Context, roomID string) (FlushResult, error) {
	var res FlushResult
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	stream, err := f.msgs.Stream(ctx, roomID)
	if err != nil {
		return res, err
	}
	if len(stream) == 0 {
		return res, nil
	}

	batch := make([]models.ChatMessage, 0, len(stream))
	authors := make(map[string]struct{})
	for _, s := range stream {
		if s.Message.ID == "" {
			continue
		}
		batch = append(batch, s.Message)
		authors[s.Message.UserID] = struct{}{}
	}

	if err := f.archive.ArchiveMessages(ctx, batch); err != nil {
		return res, fmt.Errorf("archive room %s: %w", roomID, err)
	}
	res.Archived = len(batch)

	for i := 0; i < len(stream)-f.retain; i++ {
		removed, err := f.msgs.Evict(ctx, roomID, stream[i].Raw)
		if err != nil {
			return res, err
		}
		if removed {
			res.Evicted++
		}
	}

	users := make([]string, 0, len(authors))
	for u := range authors {
		users = append(users, u)
	}
	sort.Strings(users)

	var errs []error
	for _, u := range users {
		if _, err := f.syncer.SyncUser(ctx, u); err != nil {
			errs = append(errs, err)
			continue
		}
		res.UsersSynced++
	}

	logging.Ctx(ctx).Debug().Str("room_id", roomID).Int("archived", res.Archived).
		Int("evicted", res.Evicted).Int("users_synced", res.UsersSynced).Msg("Room flushed")
	return res, errors.Join(errs...)
}
