// Package session runs the per-frame tick loop of one game session.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/tetbridge/action"
	"github.com/wfunc/tetbridge/input"
	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/network"
	"github.com/wfunc/tetbridge/protocol"
	"github.com/wfunc/tetbridge/snapshot"
	"github.com/wfunc/tetbridge/state"
)

// TickHandler is the per-frame callback the driver invokes while a round is
// active.
type TickHandler func(ctx snapshot.EngineContext) []protocol.InputEvent

// Driver is the game-session side that calls the tick handler.
type Driver interface {
	SetTickHandler(h TickHandler)
}

// Sender is the decision channel as seen by the loop.
type Sender interface {
	Send(msgType string, data any) error
	ChannelState() network.State
}

// Loop mirrors each engine tick to the decision channel and answers the
// tick with the input events of the pending action.
type Loop struct {
	driver     Driver
	sender     Sender
	mailbox    *action.Mailbox
	translator *input.Translator
	metrics    *monitor.Monitor
	log        *zap.SugaredLogger
	round      *state.Round

	mu      sync.Mutex
	roundID string
	rounds  int
}

func NewLoop(driver Driver, sender Sender, mailbox *action.Mailbox, translator *input.Translator, metrics *monitor.Monitor, log *zap.SugaredLogger) *Loop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &Loop{
		driver:     driver,
		sender:     sender,
		mailbox:    mailbox,
		translator: translator,
		metrics:    metrics,
		log:        log,
	}
	l.round = state.NewRound(l.onRoundStart, l.onRoundStop)
	return l
}

func (l *Loop) onRoundStart() {
	l.mu.Lock()
	l.roundID = uuid.NewString()
	l.rounds++
	id := l.roundID
	l.mu.Unlock()

	// An action that arrived between rounds answers a snapshot of the
	// previous round.
	if l.mailbox.Discard() {
		l.log.Debugw("discarded action received between rounds", "round", id)
	}
	l.metrics.IncRoundsStarted()
	l.driver.SetTickHandler(l.Tick)
	l.log.Infow("round started", "round", id)
}

func (l *Loop) onRoundStop() {
	l.driver.SetTickHandler(nil)
	if l.mailbox.Discard() {
		l.log.Debugw("discarded pending action at round end", "round", l.RoundID())
	}
	l.log.Infow("round ended", "round", l.RoundID())
}

// RoundStart handles the driver's round-start signal.
func (l *Loop) RoundStart() error {
	if err := l.round.Start(); err != nil {
		return fmt.Errorf("round start from %s: %w", l.round.Current(), err)
	}
	return nil
}

// RoundEnd handles the driver's round-end signal.
func (l *Loop) RoundEnd() error {
	if err := l.round.End(); err != nil {
		return fmt.Errorf("round end from %s: %w", l.round.Current(), err)
	}
	return nil
}

// Close ends an active round so the handler is deregistered.
func (l *Loop) Close() {
	if err := l.round.End(); err != nil && !errors.Is(err, state.ErrTransitionNotAllowed) {
		l.log.Warnw("closing round", "error", err)
	}
}

// State is idle, active or ended.
func (l *Loop) State() string {
	return l.round.Current()
}

// RoundID identifies the current or last round.
func (l *Loop) RoundID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roundID
}

// Rounds counts rounds started on this loop.
func (l *Loop) Rounds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rounds
}

// Tick encodes ctx, sends it when the decision channel is open, and
// translates the pending action at ctx.Frame. A snapshot that cannot be sent
// is dropped, never buffered. The result is never nil.
func (l *Loop) Tick(ctx snapshot.EngineContext) []protocol.InputEvent {
	start := time.Now()
	defer func() { l.metrics.ObserveTick(time.Since(start)) }()

	snap := snapshot.Encode(ctx)
	if l.sender.ChannelState() == network.StateOpen {
		if err := l.sender.Send(protocol.MsgTypeGameState, snap); err != nil {
			l.metrics.IncSnapshotsDropped()
			l.log.Debugw("snapshot dropped", "frame", ctx.Frame, "error", err)
		} else {
			l.metrics.IncSnapshotsSent()
		}
	} else {
		l.metrics.IncSnapshotsDropped()
	}

	a, ok := l.mailbox.Take()
	if !ok {
		return []protocol.InputEvent{}
	}
	l.metrics.IncActionsConsumed()
	return l.translator.Translate(a, ctx.Frame)
}
