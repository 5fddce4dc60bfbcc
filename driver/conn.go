// Package driver speaks to the game-session driver process: it relays round
// signals and tick contexts to the tick loop and answers every tick with the
// loop's key events.
package driver

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/tetbridge/command"
	"github.com/wfunc/tetbridge/network"
	"github.com/wfunc/tetbridge/protocol"
	"github.com/wfunc/tetbridge/session"
	"github.com/wfunc/tetbridge/snapshot"
)

// Channel is the websocket the driver connected on.
type Channel interface {
	network.Connection
	CloseHandshake() error
}

// Rounds receives the driver's round signals.
type Rounds interface {
	RoundStart() error
	RoundEnd() error
}

type Conn struct {
	conn     Channel
	commands *command.Dispatcher
	log      *zap.SugaredLogger
	done     chan struct{}

	mu      sync.RWMutex
	rounds  Rounds
	handler session.TickHandler
	roomID  string
}

// NewConn wraps an accepted game-session channel. commands may be nil when
// chat is not dispatched.
func NewConn(conn Channel, commands *command.Dispatcher, log *zap.SugaredLogger) *Conn {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Conn{
		conn:     conn,
		commands: commands,
		log:      log,
		done:     make(chan struct{}),
	}
}

// SetRounds attaches the receiver of round signals.
func (c *Conn) SetRounds(r Rounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = r
}

// SetTickHandler registers the per-frame callback; nil deregisters it.
func (c *Conn) SetTickHandler(h session.TickHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Conn) tickHandler() session.TickHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// RoomID is the room the driver last reported.
func (c *Conn) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// State is the lifecycle state of the game-session channel.
func (c *Conn) State() network.State {
	return c.conn.State()
}

// Done is closed when Serve returns.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve reads driver frames until the channel closes or ctx ends. An orderly
// close, from either side, returns nil.
func (c *Conn) Serve(ctx context.Context) error {
	defer close(c.done)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		payload, err := c.conn.Read()
		if err != nil {
			if network.IsNormalClose(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(payload)
	}
}

func (c *Conn) handle(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		c.log.Warnw("discarding malformed driver message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.MsgTypeRoundStart:
		if r := c.roundReceiver(); r != nil {
			if err := r.RoundStart(); err != nil {
				c.log.Warnw("round start ignored", "error", err)
			}
		}
	case protocol.MsgTypeRoundEnd:
		if r := c.roundReceiver(); r != nil {
			if err := r.RoundEnd(); err != nil {
				c.log.Warnw("round end ignored", "error", err)
			}
		}
	case protocol.MsgTypeTick:
		c.handleTick(msg)
	case protocol.MsgTypeChat:
		c.handleChat(msg)
	case protocol.MsgTypeRoomCreated:
		var room protocol.RoomCreatedPayload
		if err := protocol.DecodeData(msg, &room); err != nil {
			c.log.Warnw("discarding room report", "error", err)
			return
		}
		c.mu.Lock()
		c.roomID = room.ID
		c.mu.Unlock()
		c.log.Infow("room ready", "room", room.ID)
	default:
		c.log.Debugw("ignoring driver message", "type", msg.Type)
	}
}

func (c *Conn) roundReceiver() Rounds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rounds
}

func (c *Conn) handleTick(msg *protocol.Message) {
	h := c.tickHandler()
	if h == nil {
		return
	}
	ctx, err := snapshot.ParseEngineContext(msg.Data)
	if err != nil {
		c.log.Errorw("driver sent an unusable tick context", "error", err)
		return
	}
	keys := h(ctx)
	if err := c.conn.Send(protocol.MsgTypeKeys, protocol.KeysPayload{Frame: ctx.Frame, Keys: keys}); err != nil {
		c.log.Debugw("keys not delivered", "frame", ctx.Frame, "error", err)
	}
}

func (c *Conn) handleChat(msg *protocol.Message) {
	if c.commands == nil {
		return
	}
	var chat protocol.ChatPayload
	if err := protocol.DecodeData(msg, &chat); err != nil {
		c.log.Warnw("discarding chat message", "error", err)
		return
	}
	reply, handled, err := c.commands.Dispatch(chat.User, chat.Content)
	if !handled {
		return
	}
	if err != nil && !errors.Is(err, command.ErrUnknownCommand) {
		c.log.Warnw("command failed", "user", chat.User, "command", chat.Content, "error", err)
	}
	if reply != "" {
		if err := c.Say(reply); err != nil {
			c.log.Debugw("chat reply not delivered", "error", err)
		}
	}
}

// CreateRoom asks the driver to open a room with the given visibility.
func (c *Conn) CreateRoom(visibility string) error {
	return c.conn.Send(protocol.MsgTypeCreateRoom, protocol.CreateRoomPayload{Visibility: visibility})
}

// StartGame asks the driver to start the game in its room.
func (c *Conn) StartGame() error {
	return c.conn.Send(protocol.MsgTypeStartGame, nil)
}

// AbortGame asks the driver to abort the running game.
func (c *Conn) AbortGame() error {
	return c.conn.Send(protocol.MsgTypeAbortGame, nil)
}

// Say posts content to the room chat.
func (c *Conn) Say(content string) error {
	return c.conn.Send(protocol.MsgTypeChat, protocol.ChatPayload{Content: content})
}

// Close starts the close handshake and waits until the driver confirms it
// (Serve returns) or ctx ends, then releases the socket.
func (c *Conn) Close(ctx context.Context) error {
	if err := c.conn.CloseHandshake(); err != nil {
		c.log.Debugw("close frame not sent", "error", err)
	}
	var err error
	select {
	case <-c.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	_ = c.conn.Close()
	return err
}
