// network/connection.go
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/tetbridge/protocol"
)

// State is the lifecycle position of one channel.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrChannelUnavailable is returned by Send when the channel is not open.
var ErrChannelUnavailable = errors.New("channel unavailable")

// closeWriteWait bounds the close control frame only; data frames carry no deadline.
const closeWriteWait = time.Second

// Connection is a message-framed JSON channel.
type Connection interface {
	Send(msgType string, data any) error
	Read() ([]byte, error)
	Close() error
	State() State
	RemoteAddr() net.Addr
}

// StateObserver is told about every state change of a connection.
type StateObserver func(name string, s State)

type WSConnection struct {
	name      string
	conn      *websocket.Conn
	sendMutex sync.Mutex
	state     atomic.Int32
	observer  StateObserver
	closeOnce sync.Once
}

// NewWSConnection wraps an established websocket as an open channel.
func NewWSConnection(name string, conn *websocket.Conn, observer StateObserver) *WSConnection {
	c := &WSConnection{name: name, conn: conn, observer: observer}
	c.setState(StateOpen)
	return c
}

// Dial opens a client channel to url. The observer sees connecting before
// the handshake and open or closed after it.
func Dial(ctx context.Context, name, url string, dialer *websocket.Dialer, observer StateObserver) (*WSConnection, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if observer != nil {
		observer(name, StateConnecting)
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if observer != nil {
			observer(name, StateClosed)
		}
		return nil, fmt.Errorf("dialing %s: %w", name, err)
	}
	return NewWSConnection(name, conn, observer), nil
}

func (c *WSConnection) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.observer != nil {
		c.observer(c.name, s)
	}
}

// Name identifies the channel in logs and metrics.
func (c *WSConnection) Name() string {
	return c.name
}

// State reports the current lifecycle state.
func (c *WSConnection) State() State {
	return State(c.state.Load())
}

// Send writes one {"type","data"} frame. It fails fast with
// ErrChannelUnavailable unless the channel is open; a failed write marks the
// channel closed.
func (c *WSConnection) Send(msgType string, data any) error {
	if c.State() != StateOpen {
		return ErrChannelUnavailable
	}
	payload, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.State() != StateOpen {
		return ErrChannelUnavailable
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// Read blocks for the next data frame. Any read error, including a close
// frame from the peer, leaves the channel closed.
func (c *WSConnection) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.setState(StateClosed)
		return nil, err
	}
	return data, nil
}

// SetReadLimit caps inbound frame size.
func (c *WSConnection) SetReadLimit(limit int64) {
	c.conn.SetReadLimit(limit)
}

// MarkClosing makes every later Send fail without touching the socket. A
// channel that is not open is left as it is.
func (c *WSConnection) MarkClosing() {
	if c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) && c.observer != nil {
		c.observer(c.name, StateClosing)
	}
}

// CloseHandshake moves the channel to closing and sends a normal close frame.
// The caller keeps reading until the peer's close frame arrives.
func (c *WSConnection) CloseHandshake() error {
	if c.State() == StateClosed {
		return nil
	}
	c.setState(StateClosing)
	return c.writeClose()
}

func (c *WSConnection) writeClose() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}

// Close sends a best-effort close frame and releases the socket.
func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.State() != StateClosed {
			_ = c.writeClose()
		}
		err = c.conn.Close()
		c.setState(StateClosed)
	})
	return err
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsNormalClose reports whether err is an orderly close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Refuse turns away an accepted websocket with a policy-violation close.
func Refuse(conn *websocket.Conn, reason string) error {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	return conn.Close()
}
