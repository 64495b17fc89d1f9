// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package credits records per-message credit usage on the fast path and
// prices token usage.
//
// Each user has one credit-usage hash (field = message id, value = JSON
// event) and one running-total counter. Events are created with a
// set-if-absent write, so a replayed message id neither duplicates the
// event nor double-counts the total. The hash carries no TTL while any
// event is unsynced; once the sync job has marked everything synced the
// credit TTL is applied and the durable ledger becomes authoritative.
package credits

import (
	"context"
	"fmt"
	"sort"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/keyspace"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/validation"
)

// Tracking outcomes, used as metric labels.
const (
	ResultCreated   = "created"
	ResultDuplicate = "duplicate"
	ResultDropped   = "dropped"
)

// FastPath records credit usage in the ephemeral store.
type FastPath struct {
	store   store.Store
	keys    *keyspace.Policy
	clock   quartz.Clock
	catalog *PlanCatalog
}

// NewFastPath creates the fast path. catalog may be nil if TrackModelUsage
// is not used.
func NewFastPath(st store.Store, keys *keyspace.Policy, catalog *PlanCatalog, clock quartz.Clock) *FastPath {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &FastPath{store: st, keys: keys, clock: clock, catalog: catalog}
}

func validateEvent(userID, messageID string, credits int64) error {
	if !validation.IsIdentifier(userID) {
		return validation.NewFieldError("user_id", "userid", userID, "user_id is required")
	}
	if !validation.IsIdentifier(messageID) {
		return validation.NewFieldError("message_id", "required", messageID, "message_id is required")
	}
	if credits < 0 {
		return validation.NewFieldError("credits", "gte", credits, "credits must be greater than or equal to 0")
	}
	return nil
}

// TrackUsage records one credit usage event for messageID. Recording the
// same messageID again is a no-op. Only validation errors are returned;
// store failures are logged with the user and message ids for manual
// reconciliation and never block the caller.
func (f *FastPath) TrackUsage(ctx context.Context, userID, messageID string, credits int64, metadata map[string]interface{}) error {
	if err := validateEvent(userID, messageID, credits); err != nil {
		return err
	}
	result, err := f.track(ctx, models.CreditUsageEvent{
		UserID:    userID,
		MessageID: messageID,
		Credits:   credits,
		Timestamp: f.clock.Now().UTC(),
		Metadata:  metadata,
	})
	metrics.RecordCreditTracked(result, credits)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("user_id", userID).
			Str("message_id", messageID).
			Int64("credits", credits).
			Msg("Credit usage not recorded")
	}
	return nil
}

func (f *FastPath) track(ctx context.Context, ev models.CreditUsageEvent) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return ResultDropped, fmt.Errorf("encode credit event: %w", err)
	}

	key := f.keys.BuildKey(keyspace.CreditUsage, ev.UserID)
	created, err := f.store.SetHashNX(ctx, key, ev.MessageID, string(raw))
	if err != nil {
		return ResultDropped, err
	}
	if !created {
		return ResultDuplicate, nil
	}

	// An unsynced event must outlive any TTL left by an earlier MarkSynced.
	if err := f.store.Persist(ctx, key); err != nil {
		return ResultCreated, fmt.Errorf("clear credit TTL: %w", err)
	}
	if _, err := f.store.IncrBy(ctx, f.keys.BuildKey(keyspace.CreditTotal, ev.UserID), ev.Credits); err != nil {
		return ResultCreated, fmt.Errorf("update running total: %w", err)
	}
	return ResultCreated, nil
}

// TrackModelUsage prices usage with the named plan and records the result.
// It returns the credits charged.
func (f *FastPath) TrackModelUsage(ctx context.Context, plan, userID, messageID string, usage TokenUsage, metadata map[string]interface{}) (int64, error) {
	if f.catalog == nil {
		return 0, fmt.Errorf("no plan catalog configured")
	}
	pricing, ok := f.catalog.Pricing(plan)
	if !ok {
		return 0, validation.NewFieldError("plan", "oneof", plan, fmt.Sprintf("unknown plan %q", plan))
	}
	credits := CalculateCredits(usage, pricing)

	meta := make(map[string]interface{}, len(metadata)+3)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["plan"] = plan
	meta["input_tokens"] = usage.InputTokens
	meta["output_tokens"] = usage.OutputTokens

	if err := f.TrackUsage(ctx, userID, messageID, credits, meta); err != nil {
		return 0, err
	}
	return credits, nil
}

func (f *FastPath) events(ctx context.Context, userID string) (map[string]models.CreditUsageEvent, error) {
	fields, err := f.store.GetAllHash(ctx, f.keys.BuildKey(keyspace.CreditUsage, userID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.CreditUsageEvent, len(fields))
	for messageID, raw := range fields {
		var ev models.CreditUsageEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("user_id", userID).
				Str("message_id", messageID).
				Msg("Malformed credit event")
			continue
		}
		out[messageID] = ev
	}
	return out, nil
}

// GetUnsynced returns userID's unsynced events ordered by timestamp, then
// message id.
func (f *FastPath) GetUnsynced(ctx context.Context, userID string) ([]models.CreditUsageEvent, error) {
	all, err := f.events(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read credit events for %s: %w", userID, err)
	}
	out := make([]models.CreditUsageEvent, 0, len(all))
	for _, ev := range all {
		if !ev.SyncedToDB {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out, nil
}

// MarkSynced flips SyncedToDB for exactly messageIDs. Unknown or already
// synced ids are ignored. Once nothing unsynced remains the credit TTL is
// applied; synced events older than that TTL are pruned so a busy user's
// hash stays bounded.
func (f *FastPath) MarkSynced(ctx context.Context, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	key := f.keys.BuildKey(keyspace.CreditUsage, userID)
	all, err := f.events(ctx, userID)
	if err != nil {
		return fmt.Errorf("read credit events for %s: %w", userID, err)
	}

	for _, id := range messageIDs {
		ev, ok := all[id]
		if !ok || ev.SyncedToDB {
			continue
		}
		ev.SyncedToDB = true
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode credit event: %w", err)
		}
		if err := f.store.SetHash(ctx, key, id, string(raw)); err != nil {
			return fmt.Errorf("mark %s synced: %w", id, err)
		}
		all[id] = ev
	}

	ttl := f.keys.TTLFor(keyspace.CreditUsage)
	cutoff := f.clock.Now().Add(-ttl)
	unsynced := 0
	var prune []string
	for id, ev := range all {
		switch {
		case !ev.SyncedToDB:
			unsynced++
		case ttl > 0 && ev.Timestamp.Before(cutoff):
			prune = append(prune, id)
		}
	}
	if len(prune) > 0 && unsynced > 0 {
		if err := f.store.DelHash(ctx, key, prune...); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Failed to prune synced credit events")
		}
	}

	if unsynced > 0 {
		return f.store.Persist(ctx, key)
	}
	if err := f.store.Expire(ctx, key, ttl); err != nil {
		return err
	}

	// A TrackUsage racing this call may have added an event after the read
	// above but persisted before the Expire. Any event written from here on
	// persists the key itself.
	pending, err := f.hasUnsynced(ctx, userID)
	if err != nil {
		return fmt.Errorf("recheck credit events for %s: %w", userID, err)
	}
	if pending {
		return f.store.Persist(ctx, key)
	}
	return nil
}

func (f *FastPath) hasUnsynced(ctx context.Context, userID string) (bool, error) {
	all, err := f.events(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, ev := range all {
		if !ev.SyncedToDB {
			return true, nil
		}
	}
	return false, nil
}

// GetRunningTotal returns every credit recorded for userID, synced or not.
func (f *FastPath) GetRunningTotal(ctx context.Context, userID string) (int64, error) {
	total, err := f.store.GetCounter(ctx, f.keys.BuildKey(keyspace.CreditTotal, userID))
	if err != nil {
		return 0, fmt.Errorf("read running total for %s: %w", userID, err)
	}
	return total, nil
}

// UnsyncedUsers returns the users holding credit events, sorted. Users
// whose events are all synced stay listed until their hash expires;
// syncing them is a no-op.
func (f *FastPath) UnsyncedUsers(ctx context.Context) ([]string, error) {
	keys, err := f.store.ScanKeys(ctx, f.keys.Pattern(keyspace.CreditUsage))
	if err != nil {
		return nil, fmt.Errorf("scan credit events: %w", err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		if user, ok := f.keys.ScopeFromKey(keyspace.CreditUsage, k); ok {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}
