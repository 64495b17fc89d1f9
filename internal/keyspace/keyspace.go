// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package keyspace names every ephemeral store key and owns its TTL.
//
// Keys have the form <prefix>:<kind>:<scope>. The scope is a room id or a
// user id and may itself contain colons; everything after the kind segment
// belongs to the scope.
package keyspace

import (
	"strings"
	"time"

	"github.com/tomtom215/roomsync/internal/config"
)

// Kind identifies a family of keys.
type Kind string

const (
	Presence      Kind = "presence"
	Typing        Kind = "typing"
	ReadReceipts  Kind = "read-receipts"
	ReceiptOrder  Kind = "read-receipt-order"
	CreditUsage   Kind = "credit-usage"
	CreditTotal   Kind = "credit-total"
	MessageStream Kind = "message-stream"
	MessageSeq    Kind = "message-seq"
)

// Policy builds keys and answers TTL questions.
type Policy struct {
	prefix string
	ttls   map[Kind]time.Duration
}

// New builds a policy from keyspace config.
func New(cfg config.KeyspaceConfig) *Policy {
	return &Policy{
		prefix: cfg.Prefix,
		ttls: map[Kind]time.Duration{
			Presence:      cfg.PresenceTTL,
			Typing:        cfg.TypingTTL,
			ReadReceipts:  cfg.ReceiptTTL,
			ReceiptOrder:  cfg.ReceiptTTL,
			CreditUsage:   cfg.CreditTTL,
			CreditTotal:   0,
			MessageStream: cfg.MessageTTL,
			MessageSeq:    0,
		},
	}
}

// Default returns the policy with built-in TTLs and the "roomsync" prefix.
func Default() *Policy {
	return New(config.KeyspaceConfig{
		Prefix:      "roomsync",
		PresenceTTL: 2 * time.Minute,
		TypingTTL:   30 * time.Second,
		ReceiptTTL:  24 * time.Hour,
		CreditTTL:   time.Hour,
		MessageTTL:  24 * time.Hour,
	})
}

// BuildKey returns the store key for kind and scope.
func (p *Policy) BuildKey(kind Kind, scopeID string) string {
	return p.prefix + ":" + string(kind) + ":" + scopeID
}

// TTLFor returns the TTL for kind. Zero means the key never expires.
func (p *Policy) TTLFor(kind Kind) time.Duration {
	return p.ttls[kind]
}

// Pattern returns a glob matching every key of kind.
func (p *Policy) Pattern(kind Kind) string {
	return p.prefix + ":" + string(kind) + ":*"
}

// ScopeFromKey extracts the scope id from a key of kind.
func (p *Policy) ScopeFromKey(kind Kind, key string) (string, bool) {
	scope, ok := strings.CutPrefix(key, p.prefix+":"+string(kind)+":")
	if !ok || scope == "" {
		return "", false
	}
	return scope, true
}

// Prefix returns the configured key prefix.
func (p *Policy) Prefix() string {
	return p.prefix
}
