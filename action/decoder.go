package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/protocol"
)

// Replier sends a frame back on the channel the decoder reads from.
type Replier interface {
	Send(msgType string, data any) error
}

// Decoder handles every inbound frame of the decision channel.
type Decoder struct {
	mailbox *Mailbox
	reply   Replier
	onPong  func(time.Time)
	metrics *monitor.Monitor
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewDecoder wires a decoder to mailbox. reply answers peer pings and onPong
// is told about every pong; either may be nil.
func NewDecoder(mailbox *Mailbox, reply Replier, onPong func(time.Time), metrics *monitor.Monitor, log *zap.SugaredLogger) *Decoder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Decoder{
		mailbox: mailbox,
		reply:   reply,
		onPong:  onPong,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Decode parses payload and applies it. It returns an error wrapping
// protocol.ErrMalformedPayload when payload is not a well-formed frame; the
// mailbox is untouched in that case. Unknown tags are ignored.
func (d *Decoder) Decode(payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		d.metrics.IncMalformedPayloads()
		return err
	}

	switch msg.Type {
	case protocol.MsgTypePing:
		if d.reply != nil {
			if err := d.reply.Send(protocol.MsgTypePong, nil); err != nil {
				d.log.Debugw("pong not sent", "error", err)
			}
		}
	case protocol.MsgTypePong:
		d.metrics.IncPongsReceived()
		if d.onPong != nil {
			d.onPong(d.now())
		}
	case protocol.MsgTypeAIAction:
		a, err := decodeAction(msg.Data)
		if err != nil {
			d.metrics.IncMalformedPayloads()
			return err
		}
		d.metrics.IncActionsReceived()
		if d.mailbox.Put(a) {
			d.metrics.IncActionsOverwritten()
		}
	default:
		d.log.Debugw("ignoring message", "type", msg.Type)
	}
	return nil
}

func decodeAction(data json.RawMessage) (protocol.AbstractAction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return protocol.AbstractAction{}, fmt.Errorf("%w: ai_action data is not an object", protocol.ErrMalformedPayload)
	}
	var body struct {
		ActionType *string `json:"actionType"`
		Action     *string `json:"action"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return protocol.AbstractAction{}, fmt.Errorf("%w: ai_action: %v", protocol.ErrMalformedPayload, err)
	}
	var name string
	switch {
	case body.ActionType != nil:
		name = *body.ActionType
	case body.Action != nil:
		name = *body.Action
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return protocol.AbstractAction{Type: protocol.ParseActionType(name), Raw: raw}, nil
}
