// Package bridge owns the decision channel and the game-session channel and
// ties their lifecycles together.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfunc/tetbridge/action"
	"github.com/wfunc/tetbridge/command"
	"github.com/wfunc/tetbridge/config"
	"github.com/wfunc/tetbridge/driver"
	"github.com/wfunc/tetbridge/input"
	"github.com/wfunc/tetbridge/keepalive"
	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/network"
	"github.com/wfunc/tetbridge/session"
	"github.com/wfunc/tetbridge/timer"
)

// Channel names used in logs, metrics and health reports.
const (
	ChannelDecision = "decision"
	ChannelSession  = "session"
)

var (
	// ErrSessionBusy is returned when a second game session tries to attach.
	ErrSessionBusy = errors.New("a game session is already attached")
	// ErrClosed is returned once Teardown has begun.
	ErrClosed = errors.New("bridge is shutting down")
	// ErrNoSession is returned by chat commands when no driver is attached.
	ErrNoSession = errors.New("no game session attached")
)

type Option func(*Bridge)

// WithStateObserver is told about every channel state change.
func WithStateObserver(fn network.StateObserver) Option {
	return func(b *Bridge) { b.observer = fn }
}

// WithDialer replaces the websocket dialer of the decision channel.
func WithDialer(d *websocket.Dialer) Option {
	return func(b *Bridge) { b.dialer = d }
}

// WithTimerManager schedules keepalive pings on timers; the bridge does not
// stop a manager it did not create.
func WithTimerManager(timers *timer.TimerManager) Option {
	return func(b *Bridge) { b.timers = timers }
}

type Bridge struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	metrics  *monitor.Monitor
	dialer   *websocket.Dialer
	timers   *timer.TimerManager
	ownTimer bool
	observer network.StateObserver

	mailbox    *action.Mailbox
	translator *input.Translator
	keepalive  *keepalive.Monitor
	commands   *command.Dispatcher

	mu      sync.Mutex
	ai      *network.WSConnection
	driver  *driver.Conn
	loop    *session.Loop
	closing bool
}

func New(cfg config.Config, metrics *monitor.Monitor, log *zap.SugaredLogger, opts ...Option) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Bridge{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		mailbox:    action.NewMailbox(),
		translator: input.NewTranslator(metrics, log.Named("input")),
		commands:   command.NewDispatcher(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.dialer == nil {
		b.dialer = &websocket.Dialer{HandshakeTimeout: cfg.AI.HandshakeTimeout}
	}
	if b.timers == nil {
		b.timers = timer.NewTimerManager(timer.DefaultResolution)
		b.ownTimer = true
	}
	b.keepalive = keepalive.New(b.timers, cfg.AI.KeepaliveInterval, metrics, log.Named("keepalive"))
	b.registerCommands()
	return b
}

func (b *Bridge) onState(name string, s network.State) {
	b.metrics.SetChannelState(name, int(s))
	b.log.Debugw("channel state", "channel", name, "state", s.String())
	if b.observer != nil {
		b.observer(name, s)
	}
}

// ConnectAI dials the decision channel unless it is already open, then
// starts its reader and the keepalive schedule.
func (b *Bridge) ConnectAI(ctx context.Context) error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.ai != nil && b.ai.State() == network.StateOpen {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if b.cfg.AI.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.AI.HandshakeTimeout)
		defer cancel()
	}
	conn, err := network.Dial(ctx, ChannelDecision, b.cfg.AI.URL, b.dialer, b.onState)
	if err != nil {
		return err
	}
	if b.cfg.AI.ReadLimit > 0 {
		conn.SetReadLimit(b.cfg.AI.ReadLimit)
	}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	previous := b.ai
	b.ai = conn
	b.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	decoder := action.NewDecoder(b.mailbox, conn, b.keepalive.OnPong, b.metrics, b.log.Named("decoder"))
	b.keepalive.Start(conn)
	go b.readAI(conn, decoder)

	b.log.Infow("decision channel open", "url", b.cfg.AI.URL)
	return nil
}

func (b *Bridge) readAI(conn *network.WSConnection, decoder *action.Decoder) {
	for {
		payload, err := conn.Read()
		if err != nil {
			b.mu.Lock()
			current := b.ai == conn
			closing := b.closing
			b.mu.Unlock()
			if current {
				b.keepalive.Stop()
			}
			if !closing {
				b.log.Warnw("decision channel closed", "error", err)
			}
			return
		}
		if err := decoder.Decode(payload); err != nil {
			b.log.Warnw("discarding malformed decision message", "error", err)
		}
	}
}

// Send writes to the decision channel; it fails with
// network.ErrChannelUnavailable while the channel is not open.
func (b *Bridge) Send(msgType string, data any) error {
	conn := b.currentAI()
	if conn == nil {
		return network.ErrChannelUnavailable
	}
	return conn.Send(msgType, data)
}

// ChannelState is the state of the decision channel.
func (b *Bridge) ChannelState() network.State {
	conn := b.currentAI()
	if conn == nil {
		return network.StateClosed
	}
	return conn.State()
}

// currentAI hides the decision channel once Teardown has begun.
func (b *Bridge) currentAI() *network.WSConnection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return nil
	}
	return b.ai
}

func (b *Bridge) currentDriver() *driver.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.driver
}

// ServeSession runs an accepted game-session websocket until it closes. Only
// one session may be attached; others are refused with a policy-violation
// close and ErrSessionBusy.
func (b *Bridge) ServeSession(ctx context.Context, ws *websocket.Conn) error {
	b.mu.Lock()
	if b.closing || b.driver != nil {
		err := ErrSessionBusy
		if b.closing {
			err = ErrClosed
		}
		b.mu.Unlock()
		_ = network.Refuse(ws, err.Error())
		return err
	}
	ch := network.NewWSConnection(ChannelSession, ws, b.onState)
	dc := driver.NewConn(ch, b.commands, b.log.Named("driver"))
	loop := session.NewLoop(dc, b, b.mailbox, b.translator, b.metrics, b.log.Named("loop"))
	dc.SetRounds(&rounds{bridge: b, loop: loop})
	b.driver = dc
	b.loop = loop
	b.mu.Unlock()

	b.log.Infow("game session attached", "remote", ws.RemoteAddr().String())
	if err := dc.CreateRoom(b.cfg.Session.RoomVisibility); err != nil {
		b.log.Warnw("create room not sent", "error", err)
	}

	err := dc.Serve(ctx)
	loop.Close()

	b.mu.Lock()
	if b.driver == dc {
		b.driver = nil
		b.loop = nil
	}
	b.mu.Unlock()
	b.log.Infow("game session detached", "error", err)
	return err
}

// rounds redials a dropped decision channel before a round starts when
// configured to.
type rounds struct {
	bridge *Bridge
	loop   *session.Loop
}

func (r *rounds) RoundStart() error {
	b := r.bridge
	if b.cfg.AI.RedialOnRoundStart && b.ChannelState() != network.StateOpen {
		if err := b.ConnectAI(context.Background()); err != nil {
			b.log.Warnw("decision channel redial failed", "error", err)
		}
	}
	return r.loop.RoundStart()
}

func (r *rounds) RoundEnd() error {
	return r.loop.RoundEnd()
}

// Teardown closes the decision channel first, then the game-session
// channel, and returns once the driver has confirmed the close or ctx ends.
// No snapshot is sent after Teardown begins.
func (b *Bridge) Teardown(ctx context.Context) error {
	ai, dc := b.beginTeardown()

	b.keepalive.Stop()
	if ai != nil {
		if err := ai.Close(); err != nil {
			b.log.Debugw("closing decision channel", "error", err)
		}
	}

	var err error
	if dc != nil {
		if cerr := dc.Close(ctx); cerr != nil {
			err = fmt.Errorf("closing game session: %w", cerr)
		}
	}
	if b.ownTimer {
		b.timers.Stop()
	}
	b.log.Info("bridge torn down")
	return err
}

// beginTeardown flags the bridge as closing and, in the same critical
// section, stops the decision channel accepting sends, so a tick that fetched
// the connection earlier cannot write a snapshot afterwards.
func (b *Bridge) beginTeardown() (*network.WSConnection, *driver.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing = true
	if b.ai != nil {
		b.ai.MarkClosing()
	}
	return b.ai, b.driver
}

// Status is a point-in-time view for operators.
type Status struct {
	Decision network.State
	Session  network.State
	Round    string
	RoundID  string
	Room     string
	LastPong time.Time
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	dc, loop := b.driver, b.loop
	b.mu.Unlock()

	st := Status{
		Decision: b.ChannelState(),
		Session:  network.StateClosed,
		Round:    "none",
		LastPong: b.keepalive.LastPong(),
	}
	if dc != nil {
		st.Session = dc.State()
		st.Room = dc.RoomID()
	}
	if loop != nil {
		st.Round = loop.State()
		st.RoundID = loop.RoundID()
	}
	return st
}

func (b *Bridge) registerCommands() {
	b.commands.Register("start", func(command.Request) (string, error) {
		dc := b.currentDriver()
		if dc == nil {
			return "", ErrNoSession
		}
		if err := dc.StartGame(); err != nil {
			return "", err
		}
		return "starting game", nil
	})
	b.commands.Register("stop", func(command.Request) (string, error) {
		dc := b.currentDriver()
		if dc == nil {
			return "", ErrNoSession
		}
		if err := dc.AbortGame(); err != nil {
			return "", err
		}
		return "stopping game", nil
	})
	b.commands.Register("status", func(command.Request) (string, error) {
		st := b.Status()
		pong := "never"
		if !st.LastPong.IsZero() {
			pong = time.Since(st.LastPong).Truncate(time.Second).String() + " ago"
		}
		return fmt.Sprintf("decision=%s session=%s round=%s last pong %s", st.Decision, st.Session, st.Round, pong), nil
	})
}

// Commands exposes the chat dispatcher so callers can add commands.
func (b *Bridge) Commands() *command.Dispatcher {
	return b.commands
}
