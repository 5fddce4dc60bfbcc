// Package input maps abstract actions onto frame-stamped key events.
package input

import (
	"go.uber.org/zap"

	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/protocol"
)

// TapReleaseOffset is the subframe gap between a tap's keydown and keyup.
// Soft drop has no release so the engine treats it as held.
const TapReleaseOffset = 0.1

type binding struct {
	key  protocol.Key
	held bool
}

var bindings = map[protocol.ActionType]binding{
	protocol.ActionLeft:      {key: protocol.KeyMoveLeft},
	protocol.ActionRight:     {key: protocol.KeyMoveRight},
	protocol.ActionRotateCW:  {key: protocol.KeyRotateCW},
	protocol.ActionRotateCCW: {key: protocol.KeyRotateCCW},
	protocol.ActionHardDrop:  {key: protocol.KeyHardDrop},
	protocol.ActionHold:      {key: protocol.KeyHold},
	protocol.ActionSoftDrop:  {key: protocol.KeySoftDrop, held: true},
}

type Translator struct {
	metrics *monitor.Monitor
	log     *zap.SugaredLogger
}

func NewTranslator(metrics *monitor.Monitor, log *zap.SugaredLogger) *Translator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Translator{metrics: metrics, log: log}
}

// Translate returns the events for a at frame. wait and none yield an empty
// sequence; an unknown action type is logged and also yields an empty
// sequence. The result is never nil.
func (t *Translator) Translate(a protocol.AbstractAction, frame int64) []protocol.InputEvent {
	b, ok := bindings[a.Type]
	if !ok {
		if !a.Type.Valid() {
			t.metrics.IncUnrecognizedActions()
			t.log.Warnw("unrecognized action", "actionType", string(a.Type), "frame", frame)
		}
		return []protocol.InputEvent{}
	}

	events := []protocol.InputEvent{{
		Frame: frame,
		Phase: protocol.PhaseKeyDown,
		Key:   b.key,
	}}
	if !b.held {
		events = append(events, protocol.InputEvent{
			Frame:          frame,
			Phase:          protocol.PhaseKeyUp,
			Key:            b.key,
			SubframeOffset: TapReleaseOffset,
		})
	}
	return events
}
