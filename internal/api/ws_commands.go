// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/messages"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/presence"
	"github.com/tomtom215/roomsync/internal/receipts"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/validation"
	ws "github.com/tomtom215/roomsync/internal/websocket"
)

// CommandType is the discriminator of a client command.
type CommandType string

// Client command types.
const (
	CmdRoomJoin      CommandType = "room:join"
	CmdRoomLeave     CommandType = "room:leave"
	CmdTypingStart   CommandType = "typing:start"
	CmdTypingStop    CommandType = "typing:stop"
	CmdReceiptUpdate CommandType = "receipt:update"
	CmdMessageSend   CommandType = "message:send"
	CmdHeartbeat     CommandType = "heartbeat"
	CmdPing          CommandType = "ping"
)

// Command is the wire form of a client command. Data is decoded according
// to Type.
type Command struct {
	Type      CommandType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CommandDispatcher executes client commands against the room services.
// It implements websocket.Handler.
type CommandDispatcher struct {
	hub      *ws.Hub
	presence *presence.Service
	receipts *receipts.Service
	messages *messages.Service
}

// NewCommandDispatcher creates a dispatcher.
func NewCommandDispatcher(hub *ws.Hub, p *presence.Service, r *receipts.Service, m *messages.Service) *CommandDispatcher {
	return &CommandDispatcher{hub: hub, presence: p, receipts: r, messages: m}
}

// HandleCommand decodes one frame, runs it and replies with an ack or an
// error carrying the frame's request id.
func (d *CommandDispatcher) HandleCommand(ctx context.Context, c *ws.Client, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type == "" {
		metrics.RecordWSCommand("invalid", "error")
		d.reply(ctx, c, ws.NewErrorReply(cmd.RequestID, ws.ErrCodeInvalidCommand, ErrMalformedCommand.Error()))
		return
	}

	if cmd.Type == CmdPing {
		metrics.RecordWSCommand(string(cmd.Type), "ok")
		d.reply(ctx, c, ws.Reply{Type: ws.ReplyTypePong, RequestID: cmd.RequestID})
		return
	}

	data, err := d.dispatch(ctx, c, cmd)
	if err != nil {
		code, message := commandErrorCode(err)
		label := string(cmd.Type)
		if errors.Is(err, ErrUnknownCommand) {
			label = "unknown"
		}
		metrics.RecordWSCommand(label, "error")
		logging.Ctx(ctx).Debug().Err(err).
			Str("command", sanitizeLogValue(string(cmd.Type))).
			Uint64("client_id", c.ID()).
			Msg("websocket command rejected")
		d.reply(ctx, c, ws.NewErrorReply(cmd.RequestID, code, message))
		return
	}

	metrics.RecordWSCommand(string(cmd.Type), "ok")
	d.reply(ctx, c, ws.NewAckReply(cmd.RequestID, string(cmd.Type), data))
}

// dispatch runs cmd. Every command type is handled here; adding a type
// means adding a case.
func (d *CommandDispatcher) dispatch(ctx context.Context, c *ws.Client, cmd Command) (interface{}, error) {
	switch cmd.Type {
	case CmdRoomJoin:
		var p RoomCommand
		if err := decodeCommand(cmd, &p); err != nil {
			return nil, err
		}
		return d.join(ctx, c, p.RoomID)

	case CmdRoomLeave:
		var p RoomCommand
		if err := decodeRoomCommand(cmd, c, &p); err != nil {
			return nil, err
		}
		return d.leave(ctx, c, p.RoomID)

	case CmdTypingStart, CmdTypingStop:
		var p RoomCommand
		if err := decodeRoomCommand(cmd, c, &p); err != nil {
			return nil, err
		}
		isTyping := cmd.Type == CmdTypingStart
		if err := d.presence.SetTyping(ctx, p.RoomID, c.UserID(), isTyping); err != nil {
			return nil, err
		}
		return map[string]interface{}{"room_id": p.RoomID, "typing": isTyping}, nil

	case CmdReceiptUpdate:
		var p ReceiptCommand
		if err := decodeCommand(cmd, &p); err != nil {
			return nil, err
		}
		if !c.InRoom(p.RoomID) {
			return nil, ErrNotInRoom
		}
		advanced, err := d.receipts.UpdateReceipt(ctx, p.RoomID, c.UserID(), p.LastReadMessageID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"room_id": p.RoomID, "advanced": advanced}, nil

	case CmdMessageSend:
		var p MessageCommand
		if err := decodeCommand(cmd, &p); err != nil {
			return nil, err
		}
		if !c.InRoom(p.RoomID) {
			return nil, ErrNotInRoom
		}
		msg, err := d.messages.Send(ctx, p.RoomID, c.UserID(), p.Content)
		if err != nil {
			return nil, err
		}
		return msg, nil

	case CmdHeartbeat:
		var p RoomCommand
		if err := decodeRoomCommand(cmd, c, &p); err != nil {
			return nil, err
		}
		if err := d.presence.Heartbeat(ctx, p.RoomID, c.UserID()); err != nil {
			return nil, err
		}
		return map[string]interface{}{"room_id": p.RoomID}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// join subscribes c to room, sends it the presence and receipt snapshots,
// then marks the user present. The snapshots are queued after the join so
// no delta published in between is lost.
func (d *CommandDispatcher) join(ctx context.Context, c *ws.Client, room string) (interface{}, error) {
	if err := d.hub.Join(ctx, room, c); err != nil {
		return nil, err
	}

	users, err := d.presence.ListPresence(ctx, room)
	if err != nil {
		return nil, err
	}
	if err := d.hub.SendEvent(ctx, c, events.PresenceList{RoomID: room, Users: users}); err != nil {
		return nil, err
	}

	list, err := d.receipts.ListReceipts(ctx, room)
	if err != nil {
		return nil, err
	}
	if err := d.hub.SendEvent(ctx, c, events.ReceiptList{RoomID: room, Receipts: list}); err != nil {
		return nil, err
	}

	if err := d.presence.Heartbeat(ctx, room, c.UserID()); err != nil {
		return nil, err
	}
	return map[string]interface{}{"room_id": room}, nil
}

func (d *CommandDispatcher) leave(ctx context.Context, c *ws.Client, room string) (interface{}, error) {
	if err := d.hub.Leave(ctx, room, c); err != nil {
		return nil, err
	}
	d.markGone(ctx, c, room)
	return map[string]interface{}{"room_id": room}, nil
}

// markGone marks the user inactive in room unless another of their
// connections is still subscribed to it.
func (d *CommandDispatcher) markGone(ctx context.Context, c *ws.Client, room string) {
	if d.hub.UserConnections(room, c.UserID(), c) > 0 {
		return
	}
	if err := d.presence.MarkInactive(ctx, room, c.UserID()); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room_id", room).Msg("failed to mark user inactive")
	}
}

// Disconnected marks the user inactive in every room the connection had
// joined.
func (d *CommandDispatcher) Disconnected(ctx context.Context, c *ws.Client, rooms []string) {
	for _, room := range rooms {
		d.markGone(ctx, c, room)
	}
	logging.Ctx(ctx).Debug().Uint64("client_id", c.ID()).Strs("rooms", rooms).Msg("websocket client disconnected")
}

func (d *CommandDispatcher) reply(ctx context.Context, c *ws.Client, r ws.Reply) {
	if err := d.hub.SendJSON(ctx, c, r); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Uint64("client_id", c.ID()).Msg("websocket reply not delivered")
	}
}

// decodeCommand decodes and validates a command payload.
func decodeCommand(cmd Command, v interface{}) error {
	if len(cmd.Data) == 0 {
		return validation.NewFieldError("data", "required", nil, "data is required")
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		return verr
	}
	return nil
}

// decodeRoomCommand decodes a RoomCommand and requires c to be in the room.
func decodeRoomCommand(cmd Command, c *ws.Client, p *RoomCommand) error {
	if err := decodeCommand(cmd, p); err != nil {
		return err
	}
	if !c.InRoom(p.RoomID) {
		return ErrNotInRoom
	}
	return nil
}

// commandErrorCode maps a command error to a reply code and message.
func commandErrorCode(err error) (string, string) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		return ws.ErrCodeValidation, verr.ToAPIError().Message
	case errors.Is(err, ErrNotInRoom):
		return ws.ErrCodeNotInRoom, "join the room first"
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrMalformedCommand):
		return ws.ErrCodeInvalidCommand, err.Error()
	case errors.Is(err, store.ErrUnavailable):
		return ws.ErrCodeStoreUnavailable, "state store unavailable"
	default:
		return ws.ErrCodeInternal, "internal error"
	}
}
