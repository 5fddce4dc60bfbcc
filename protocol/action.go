package protocol

import (
	"encoding/json"
	"strings"
)

// ActionType is the decision-level instruction chosen by the peer.
type ActionType string

const (
	ActionLeft      ActionType = "left"
	ActionRight     ActionType = "right"
	ActionRotateCW  ActionType = "rotate_cw"
	ActionRotateCCW ActionType = "rotate_ccw"
	ActionHardDrop  ActionType = "hard_drop"
	ActionSoftDrop  ActionType = "soft_drop"
	ActionHold      ActionType = "hold"
	ActionWait      ActionType = "wait"
	ActionNone      ActionType = "none"
)

// ActionTypes lists every recognized action in wire order.
var ActionTypes = []ActionType{
	ActionLeft, ActionRight, ActionRotateCW, ActionRotateCCW,
	ActionHardDrop, ActionSoftDrop, ActionHold, ActionWait, ActionNone,
}

// ParseActionType maps snake_case, camelCase and bare spellings ("hard_drop",
// "hardDrop", "harddrop") onto the canonical value. Unknown spellings are
// returned as-is so the translator can report them.
func ParseActionType(s string) ActionType {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, a := range ActionTypes {
		if strings.ReplaceAll(string(a), "_", "") == key {
			return a
		}
	}
	return ActionType(s)
}

// Valid reports whether a is one of ActionTypes.
func (a ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// AbstractAction is one decoded ai_action payload.
type AbstractAction struct {
	Type ActionType      `json:"actionType"`
	Raw  json.RawMessage `json:"-"`
}

// Key is a concrete engine key.
type Key string

const (
	KeyMoveLeft  Key = "moveLeft"
	KeyMoveRight Key = "moveRight"
	KeyRotateCW  Key = "rotateCW"
	KeyRotateCCW Key = "rotateCCW"
	KeyHardDrop  Key = "hardDrop"
	KeySoftDrop  Key = "softDrop"
	KeyHold      Key = "hold"
)

// Phase distinguishes a press from a release.
type Phase string

const (
	PhaseKeyDown Phase = "keydown"
	PhaseKeyUp   Phase = "keyup"
)

// InputEvent is a frame and subframe stamped key event consumed by the engine.
type InputEvent struct {
	Frame          int64   `json:"frame"`
	Phase          Phase   `json:"phase"`
	Key            Key     `json:"key"`
	SubframeOffset float64 `json:"subframeOffset"`
}

// KeysPayload answers one tick on the game-session channel.
type KeysPayload struct {
	Frame int64        `json:"frame"`
	Keys  []InputEvent `json:"keys"`
}

// ChatPayload carries a room chat line in either direction.
type ChatPayload struct {
	User    string `json:"user,omitempty"`
	Content string `json:"content"`
}

// CreateRoomPayload asks the driver to open a room.
type CreateRoomPayload struct {
	Visibility string `json:"visibility"`
}

// RoomCreatedPayload reports the room the driver opened or joined.
type RoomCreatedPayload struct {
	ID string `json:"id"`
}
