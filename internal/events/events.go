// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package events defines the server-to-client room events and their wire
// envelope.
//
// Event is a sealed interface: only the types in this package implement it,
// and Encode/Decode switch over every kind. Adding a kind means adding a
// type, a Kind constant and a case in both switches.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/models"
)

// Kind is the wire discriminator of an event.
type Kind string

const (
	KindPresenceList   Kind = "presence-list"
	KindPresenceUpdate Kind = "presence-update"
	KindTypingStart    Kind = "typing-start"
	KindTypingStop     Kind = "typing-stop"
	KindReceiptList    Kind = "read-receipt-list"
	KindReceiptUpdate  Kind = "read-receipt-update"
	KindMessageNew     Kind = "message-new"
)

// Kinds lists every event kind in declaration order.
var Kinds = []Kind{
	KindPresenceList,
	KindPresenceUpdate,
	KindTypingStart,
	KindTypingStop,
	KindReceiptList,
	KindReceiptUpdate,
	KindMessageNew,
}

// ErrUnknownKind is returned by Decode for an unrecognized type field.
var ErrUnknownKind = errors.New("unknown event kind")

// Event is a room-scoped server-to-client event.
type Event interface {
	Kind() Kind
	Room() string
	sealed()
}

// PresenceList is the full presence snapshot sent on join.
type PresenceList struct {
	RoomID string                           `json:"room_id"`
	Users  map[string]models.PresenceRecord `json:"users"`
}

// PresenceUpdate is a single presence change. IsActive=false announces a departure.
type PresenceUpdate struct {
	RoomID string                `json:"room_id"`
	Record models.PresenceRecord `json:"record"`
}

type TypingStart struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingStop struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// ReceiptList is the full receipt snapshot sent on join.
type ReceiptList struct {
	RoomID   string                        `json:"room_id"`
	Receipts map[string]models.ReadReceipt `json:"receipts"`
}

// ReceiptUpdate is published only when a receipt advanced.
type ReceiptUpdate struct {
	RoomID  string             `json:"room_id"`
	Receipt models.ReadReceipt `json:"receipt"`
}

type MessageNew struct {
	RoomID  string             `json:"room_id"`
	Message models.ChatMessage `json:"message"`
}

func (PresenceList) Kind() Kind   { return KindPresenceList }
func (PresenceUpdate) Kind() Kind { return KindPresenceUpdate }
func (TypingStart) Kind() Kind    { return KindTypingStart }
func (TypingStop) Kind() Kind     { return KindTypingStop }
func (ReceiptList) Kind() Kind    { return KindReceiptList }
func (ReceiptUpdate) Kind() Kind  { return KindReceiptUpdate }
func (MessageNew) Kind() Kind     { return KindMessageNew }

func (e PresenceList) Room() string   { return e.RoomID }
func (e PresenceUpdate) Room() string { return e.RoomID }
func (e TypingStart) Room() string    { return e.RoomID }
func (e TypingStop) Room() string     { return e.RoomID }
func (e ReceiptList) Room() string    { return e.RoomID }
func (e ReceiptUpdate) Room() string  { return e.RoomID }
func (e MessageNew) Room() string     { return e.RoomID }

func (PresenceList) sealed()   {}
func (PresenceUpdate) sealed() {}
func (TypingStart) sealed()    {}
func (TypingStop) sealed()     {}
func (ReceiptList) sealed()    {}
func (ReceiptUpdate) sealed()  {}
func (MessageNew) sealed()     {}

// Envelope is the wire form of an event:
//
//	{"type": "presence-update", "room_id": "r1", "data": {...}, "origin": "node-a"}
//
// Origin is set for events that may cross nodes, so a node can ignore its
// own relayed events. Data is kept raw so envelopes can be forwarded
// without decoding.
type Envelope struct {
	Type   Kind            `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin,omitempty"`
}

// Encode builds the envelope for e. Data is the event struct itself, so a
// presence-list carries {"room_id":...,"users":{...}} and a message-new
// carries {"room_id":...,"message":{...}}.
func Encode(e Event) (Envelope, error) {
	var payload Event
	switch ev := e.(type) {
	case PresenceList:
		if ev.Users == nil {
			ev.Users = map[string]models.PresenceRecord{}
		}
		payload = ev
	case PresenceUpdate:
		payload = ev
	case TypingStart:
		payload = ev
	case TypingStop:
		payload = ev
	case ReceiptList:
		if ev.Receipts == nil {
			ev.Receipts = map[string]models.ReadReceipt{}
		}
		payload = ev
	case ReceiptUpdate:
		payload = ev
	case MessageNew:
		payload = ev
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownKind, e)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return Envelope{Type: e.Kind(), RoomID: e.Room(), Data: data}, nil
}

// Decode reverses Encode. The envelope room wins over any room_id in data.
func Decode(env Envelope) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case KindPresenceList:
		var v PresenceList
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	case KindPresenceUpdate:
		var v PresenceUpdate
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	case KindTypingStart:
		var v TypingStart
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	case KindTypingStop:
		var v TypingStop
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	case KindReceiptList:
		var v ReceiptList
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	case KindReceiptUpdate:
		var v ReceiptUpdate
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	case KindMessageNew:
		var v MessageNew
		err = json.Unmarshal(env.Data, &v)
		v.RoomID = env.RoomID
		ev = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// Marshal encodes e straight to wire bytes.
func Marshal(e Event) ([]byte, error) {
	env, err := Encode(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
