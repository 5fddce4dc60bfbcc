// Package keepalive pings the decision peer while its channel is open and
// records when the peer last answered.
package keepalive

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/network"
	"github.com/wfunc/tetbridge/protocol"
	"github.com/wfunc/tetbridge/timer"
)

// DefaultInterval is the ping period of the decision channel.
const DefaultInterval = 30 * time.Second

// Channel is the part of a connection the monitor needs.
type Channel interface {
	Send(msgType string, data any) error
	State() network.State
}

// Monitor sends a ping every interval. The first tick that finds the
// channel not open cancels the schedule. A missing pong triggers nothing.
type Monitor struct {
	timers   *timer.TimerManager
	interval time.Duration
	metrics  *monitor.Monitor
	log      *zap.SugaredLogger
	now      func() time.Time

	mu       sync.Mutex
	channel  Channel
	timerID  int64
	running  bool
	lastPing time.Time
	lastPong time.Time
}

func New(timers *timer.TimerManager, interval time.Duration, metrics *monitor.Monitor, log *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Monitor{
		timers:   timers,
		interval: interval,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// Start begins pinging ch, replacing any previous channel.
func (m *Monitor) Start(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.timers.RemoveTimer(m.timerID)
	}
	m.channel = ch
	m.running = true
	m.timerID = m.timers.AddTimer(m.interval, m.interval, m.tick)
}

// Stop cancels the ping schedule.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if !m.running {
		return
	}
	m.timers.RemoveTimer(m.timerID)
	m.running = false
	m.channel = nil
}

// Running reports whether pings are scheduled.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// tick sends outside the lock so a stalled write never holds up OnPong.
func (m *Monitor) tick() {
	m.mu.Lock()
	ch := m.channel
	if !m.running || ch == nil {
		m.mu.Unlock()
		return
	}
	if st := ch.State(); st != network.StateOpen {
		m.log.Debugw("keepalive stopped", "state", st.String())
		m.stopLocked()
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	sentAt := m.now()
	err := ch.Send(protocol.MsgTypePing, nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel != ch {
		return
	}
	if err != nil {
		m.log.Debugw("ping not sent", "error", err)
		m.stopLocked()
		return
	}
	m.lastPing = sentAt
	m.metrics.IncPingsSent()
}

// OnPong records a pong received at t.
func (m *Monitor) OnPong(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPong = t
	if !m.lastPing.IsZero() && !t.Before(m.lastPing) {
		m.metrics.ObservePongLatency(t.Sub(m.lastPing))
	}
}

// LastPong is the time of the most recent pong, zero if none arrived.
func (m *Monitor) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// LastPing is the time of the most recent ping sent.
func (m *Monitor) LastPing() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPing
}
