// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type sendCommand struct {
	RoomID  string `json:"room_id" validate:"required,roomid"`
	Content string `json:"content" validate:"required,max=16"`
}

type receiptCommand struct {
	RoomID    string `json:"room_id" validate:"required,roomid"`
	MessageID string `json:"last_read_message_id" validate:"required,messageid"`
}

type pageRequest struct {
	Limit  int `json:"limit" validate:"min=1,max=100"`
	Offset int `json:"offset" validate:"gte=0"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     interface{}
		wantField string
		wantTag   string
	}{
		{"valid send", &sendCommand{RoomID: "r1", Content: "hi"}, "", ""},
		{"missing room", &sendCommand{Content: "hi"}, "room_id", "required"},
		{"glob in room", &sendCommand{RoomID: "r*", Content: "hi"}, "room_id", "roomid"},
		{"content too long", &sendCommand{RoomID: "r1", Content: strings.Repeat("x", 17)}, "content", "max"},
		{"valid receipt", &receiptCommand{RoomID: "r1", MessageID: "r1:42"}, "", ""},
		{"room id with colon", &receiptCommand{RoomID: "team:a", MessageID: "team:a:7"}, "", ""},
		{"receipt without seq", &receiptCommand{RoomID: "r1", MessageID: "r1:abc"}, "last_read_message_id", "messageid"},
		{"receipt zero seq", &receiptCommand{RoomID: "r1", MessageID: "r1:0"}, "last_read_message_id", "messageid"},
		{"limit too large", &pageRequest{Limit: 1000}, "limit", "max"},
		{"negative offset", &pageRequest{Limit: 10, Offset: -1}, "offset", "gte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(tt.input)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			got := verr.Errors()[0]
			if got.Field() != tt.wantField || got.Tag() != tt.wantTag {
				t.Errorf("got field=%s tag=%s, want field=%s tag=%s", got.Field(), got.Tag(), tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestRequestValidationErrorIsSentinel(t *testing.T) {
	var err error = ValidateStruct(&sendCommand{})
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is(err, ErrValidation) = false")
	}

	wrapped := NewFieldError("credits", "gte", -1, "credits must be non-negative")
	if !errors.Is(wrapped, ErrValidation) {
		t.Error("NewFieldError should match ErrValidation")
	}
	var target *RequestValidationError
	if !errors.As(error(wrapped), &target) || target.Errors()[0].Field() != "credits" {
		t.Error("errors.As should recover the field error")
	}
}

func TestToAPIError(t *testing.T) {
	single := ValidateStruct(&sendCommand{RoomID: "r1"}).ToAPIError()
	if single.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", single.Code)
	}
	if single.Message != "content is required" {
		t.Errorf("Message = %q, want %q", single.Message, "content is required")
	}
	if single.Details["field"] != "content" {
		t.Errorf("Details = %v", single.Details)
	}

	multi := ValidateStruct(&sendCommand{}).ToAPIError()
	fields, ok := multi.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 2 {
		t.Fatalf("Details[fields] = %v, want 2 entries", multi.Details["fields"])
	}
	if !strings.Contains(multi.Message, "room_id: room_id is required") {
		t.Errorf("Message = %q", multi.Message)
	}

	empty := (&RequestValidationError{}).ToAPIError()
	if empty.Message != "Validation failed" {
		t.Errorf("empty Message = %q", empty.Message)
	}
}

func TestIsIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"room-1", true},
		{"team:alpha", true},
		{"", false},
		{"has space", false},
		{"tab\there", false},
		{"star*", false},
		{"q?", false},
		{"[set]", false},
		{strings.Repeat("a", maxIDLength), true},
		{strings.Repeat("a", maxIDLength+1), false},
	}
	for _, tt := range tests {
		if got := IsIdentifier(tt.in); got != tt.want {
			t.Errorf("IsIdentifier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsMessageID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"r1:1", true},
		{"team:a:99", true},
		{"r1:", false},
		{":5", false},
		{"r1:-3", false},
		{"r1:1.5", false},
		{"plain", false},
	}
	for _, tt := range tests {
		if got := IsMessageID(tt.in); got != tt.want {
			t.Errorf("IsMessageID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
