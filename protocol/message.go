// Package protocol defines the JSON wire format shared by the decision
// channel and the game-session channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decision channel message types.
const (
	MsgTypePing      = "ping"
	MsgTypePong      = "pong"
	MsgTypeGameState = "game_state"
	MsgTypeAIAction  = "ai_action"
)

// Game-session channel message types.
const (
	MsgTypeRoundStart  = "round_start"
	MsgTypeTick        = "tick"
	MsgTypeRoundEnd    = "round_end"
	MsgTypeChat        = "chat"
	MsgTypeRoomCreated = "room_created"

	MsgTypeKeys       = "keys"
	MsgTypeCreateRoom = "create_room"
	MsgTypeStartGame  = "start_game"
	MsgTypeAbortGame  = "abort_game"
)

// ErrMalformedPayload is returned when an inbound frame is not a JSON object
// carrying a string "type" tag.
var ErrMalformedPayload = errors.New("malformed payload")

// Message is the envelope of every frame: exactly one type tag plus an
// optional raw payload decoded by whoever handles the tag.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds the frame for msgType. A nil data omits the payload.
func Encode(msgType string, data any) ([]byte, error) {
	msg := Message{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Decode parses one inbound frame. Anything other than a JSON object with a
// non-empty string type fails with ErrMalformedPayload.
func Decode(payload []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	return &msg, nil
}

// DecodeData unmarshals the payload of msg into v. A missing payload leaves v
// untouched.
func DecodeData(msg *Message, v any) error {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedPayload, msg.Type, err)
	}
	return nil
}
