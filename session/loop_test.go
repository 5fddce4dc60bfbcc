package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tetbridge/action"
	"github.com/wfunc/tetbridge/input"
	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/network"
	"github.com/wfunc/tetbridge/protocol"
	"github.com/wfunc/tetbridge/snapshot"
	"github.com/wfunc/tetbridge/state"
)

type MockDriver struct {
	mu      sync.Mutex
	handler TickHandler
	calls   int
}

func (d *MockDriver) SetTickHandler(h TickHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
	d.calls++
}

func (d *MockDriver) Handler() TickHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

type sentMessage struct {
	Type string
	Data any
}

type MockSender struct {
	mu    sync.Mutex
	state network.State
	err   error
	sent  []sentMessage
}

func (s *MockSender) Send(msgType string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{Type: msgType, Data: data})
	return nil
}

func (s *MockSender) ChannelState() network.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *MockSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fixture struct {
	loop    *Loop
	driver  *MockDriver
	sender  *MockSender
	mailbox *action.Mailbox
	metrics *monitor.Monitor
}

func newFixture(channel network.State) *fixture {
	f := &fixture{
		driver:  &MockDriver{},
		sender:  &MockSender{state: channel},
		mailbox: action.NewMailbox(),
		metrics: monitor.NewMonitor("test"),
	}
	f.loop = NewLoop(f.driver, f.sender, f.mailbox, input.NewTranslator(f.metrics, nil), f.metrics, nil)
	return f
}

func TestLoop_RoundLifecycleRegistersHandler(t *testing.T) {
	f := newFixture(network.StateOpen)
	assert.Equal(t, state.RoundIdle, f.loop.State())
	assert.Nil(t, f.driver.Handler())

	require.NoError(t, f.loop.RoundStart())
	assert.Equal(t, state.RoundActive, f.loop.State())
	assert.NotNil(t, f.driver.Handler())
	assert.NotEmpty(t, f.loop.RoundID())

	require.NoError(t, f.loop.RoundEnd())
	assert.Equal(t, state.RoundEnded, f.loop.State())
	assert.Nil(t, f.driver.Handler())

	first := f.loop.RoundID()
	require.NoError(t, f.loop.RoundStart())
	assert.NotEqual(t, first, f.loop.RoundID())
	assert.Equal(t, 2, f.loop.Rounds())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Metrics().RoundsStarted))
}

func TestLoop_RejectsOutOfOrderSignals(t *testing.T) {
	f := newFixture(network.StateOpen)

	err := f.loop.RoundEnd()
	assert.ErrorIs(t, err, state.ErrTransitionNotAllowed)

	require.NoError(t, f.loop.RoundStart())
	assert.ErrorIs(t, f.loop.RoundStart(), state.ErrTransitionNotAllowed)
	assert.Equal(t, 1, f.loop.Rounds())
}

func TestLoop_TickSendsSnapshotAndTranslates(t *testing.T) {
	f := newFixture(network.StateOpen)
	require.NoError(t, f.loop.RoundStart())
	f.mailbox.Put(protocol.AbstractAction{Type: protocol.ActionHardDrop})

	events := f.driver.Handler()(snapshot.EngineContext{Frame: 42, Queue: []string{"T"}})

	assert.Equal(t, []protocol.InputEvent{
		{Frame: 42, Phase: protocol.PhaseKeyDown, Key: protocol.KeyHardDrop},
		{Frame: 42, Phase: protocol.PhaseKeyUp, Key: protocol.KeyHardDrop, SubframeOffset: 0.1},
	}, events)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MsgTypeGameState, sent[0].Type)
	b, err := json.Marshal(sent[0].Data)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"frame":42`)
	assert.Contains(t, string(b), `"nextPieces":["T"]`)

	assert.False(t, f.mailbox.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Metrics().SnapshotsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Metrics().ActionsConsumed))
}

func TestLoop_TickWithoutActionIsEmpty(t *testing.T) {
	f := newFixture(network.StateOpen)
	require.NoError(t, f.loop.RoundStart())

	events := f.loop.Tick(snapshot.EngineContext{Frame: 1})
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestLoop_ClosedChannelDropsSnapshot(t *testing.T) {
	f := newFixture(network.StateClosed)
	require.NoError(t, f.loop.RoundStart())
	f.mailbox.Put(protocol.AbstractAction{Type: protocol.ActionLeft})

	var events []protocol.InputEvent
	assert.NotPanics(t, func() {
		events = f.loop.Tick(snapshot.EngineContext{Frame: 9})
	})

	assert.Empty(t, f.sender.Sent())
	assert.Len(t, events, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Metrics().SnapshotsDropped))

	// Nothing was buffered: reopening does not replay the dropped frame.
	f.sender.mu.Lock()
	f.sender.state = network.StateOpen
	f.sender.mu.Unlock()
	f.loop.Tick(snapshot.EngineContext{Frame: 10})
	require.Len(t, f.sender.Sent(), 1)
}

func TestLoop_SendFailureIsDropped(t *testing.T) {
	f := newFixture(network.StateOpen)
	f.sender.err = network.ErrChannelUnavailable
	require.NoError(t, f.loop.RoundStart())

	events := f.loop.Tick(snapshot.EngineContext{Frame: 3})
	assert.Empty(t, events)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Metrics().SnapshotsDropped))
}

func TestLoop_RoundEndDiscardsPendingAction(t *testing.T) {
	f := newFixture(network.StateOpen)
	require.NoError(t, f.loop.RoundStart())
	f.mailbox.Put(protocol.AbstractAction{Type: protocol.ActionRotateCW})

	require.NoError(t, f.loop.RoundEnd())
	assert.False(t, f.mailbox.Pending())

	require.NoError(t, f.loop.RoundStart())
	assert.Empty(t, f.loop.Tick(snapshot.EngineContext{Frame: 100}))
}

func TestLoop_ActionBetweenRoundsIsDiscarded(t *testing.T) {
	f := newFixture(network.StateOpen)
	require.NoError(t, f.loop.RoundStart())
	require.NoError(t, f.loop.RoundEnd())

	f.mailbox.Put(protocol.AbstractAction{Type: protocol.ActionHardDrop})
	require.NoError(t, f.loop.RoundStart())

	events := f.loop.Tick(snapshot.EngineContext{Frame: 0})
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Metrics().ActionsConsumed))
}

func TestLoop_ActionDuringRoundSurvivesUntilTick(t *testing.T) {
	f := newFixture(network.StateOpen)
	require.NoError(t, f.loop.RoundStart())
	f.mailbox.Put(protocol.AbstractAction{Type: protocol.ActionHold})

	events := f.loop.Tick(snapshot.EngineContext{Frame: 12})
	require.Len(t, events, 2)
	assert.Equal(t, protocol.KeyHold, events[0].Key)
}

func TestLoop_CloseDeregisters(t *testing.T) {
	f := newFixture(network.StateOpen)
	f.loop.Close()
	assert.Equal(t, state.RoundIdle, f.loop.State())

	require.NoError(t, f.loop.RoundStart())
	f.loop.Close()
	assert.Equal(t, state.RoundEnded, f.loop.State())
	assert.Nil(t, f.driver.Handler())
}

func TestLoop_RoundErrorsWrapSentinel(t *testing.T) {
	f := newFixture(network.StateOpen)
	err := f.loop.RoundEnd()
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrTransitionNotAllowed))
	assert.Contains(t, err.Error(), "idle")
}
