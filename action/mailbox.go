// Package action decodes inbound decision-channel frames and holds the single
// pending action the tick loop consumes.
package action

import "github.com/wfunc/tetbridge/protocol"

// Mailbox holds at most one pending action. A Put on a full mailbox replaces
// the held action; Take removes it in the same step it is read.
type Mailbox struct {
	slot chan protocol.AbstractAction
}

func NewMailbox() *Mailbox {
	return &Mailbox{slot: make(chan protocol.AbstractAction, 1)}
}

// Put stores a and reports whether an unconsumed action was overwritten.
func (m *Mailbox) Put(a protocol.AbstractAction) (replaced bool) {
	for {
		select {
		case m.slot <- a:
			return replaced
		default:
		}
		select {
		case <-m.slot:
			replaced = true
		default:
		}
	}
}

// Take returns and clears the pending action.
func (m *Mailbox) Take() (protocol.AbstractAction, bool) {
	select {
	case a := <-m.slot:
		return a, true
	default:
		return protocol.AbstractAction{}, false
	}
}

// Discard drops the pending action, if any.
func (m *Mailbox) Discard() bool {
	_, ok := m.Take()
	return ok
}

// Pending reports whether an action is waiting.
func (m *Mailbox) Pending() bool {
	return len(m.slot) > 0
}
