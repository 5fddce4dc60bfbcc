package action

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/protocol"
)

type MockReplier struct {
	mu   sync.Mutex
	Sent []string
	Err  error
}

func (m *MockReplier) Send(msgType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msgType)
	return m.Err
}

func newTestDecoder() (*Decoder, *Mailbox, *MockReplier, *monitor.Monitor) {
	mailbox := NewMailbox()
	reply := &MockReplier{}
	metrics := monitor.NewMonitor("test")
	return NewDecoder(mailbox, reply, nil, metrics, nil), mailbox, reply, metrics
}

func TestDecoder_ActionLandsInMailbox(t *testing.T) {
	d, mailbox, _, metrics := newTestDecoder()

	require.NoError(t, d.Decode([]byte(`{"type":"ai_action","data":{"actionType":"hard_drop"}}`)))

	a, ok := mailbox.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionHardDrop, a.Type)
	assert.JSONEq(t, `{"actionType":"hard_drop"}`, string(a.Raw))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Metrics().ActionsReceived))
}

func TestDecoder_ActionAliasKey(t *testing.T) {
	d, mailbox, _, _ := newTestDecoder()

	require.NoError(t, d.Decode([]byte(`{"type":"ai_action","data":{"action":"rotateCW"}}`)))

	a, ok := mailbox.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionRotateCW, a.Type)
}

func TestDecoder_NewerActionOverwrites(t *testing.T) {
	d, mailbox, _, metrics := newTestDecoder()

	require.NoError(t, d.Decode([]byte(`{"type":"ai_action","data":{"actionType":"left"}}`)))
	require.NoError(t, d.Decode([]byte(`{"type":"ai_action","data":{"actionType":"right"}}`)))

	a, ok := mailbox.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionRight, a.Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Metrics().ActionsOverwritten))
}

func TestDecoder_MalformedLeavesMailboxAlone(t *testing.T) {
	d, mailbox, _, metrics := newTestDecoder()
	mailbox.Put(protocol.AbstractAction{Type: protocol.ActionLeft})

	err := d.Decode([]byte("not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrMalformedPayload))

	err = d.Decode([]byte(`{"type":"ai_action","data":"hard_drop"}`))
	assert.ErrorIs(t, err, protocol.ErrMalformedPayload)

	a, ok := mailbox.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionLeft, a.Type)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Metrics().MalformedPayloads))
}

func TestDecoder_UnknownActionIsKept(t *testing.T) {
	d, mailbox, _, _ := newTestDecoder()

	require.NoError(t, d.Decode([]byte(`{"type":"ai_action","data":{"actionType":"teleport"}}`)))

	a, ok := mailbox.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionType("teleport"), a.Type)
	assert.False(t, a.Type.Valid())
}

func TestDecoder_IgnoresUnknownTag(t *testing.T) {
	d, mailbox, reply, _ := newTestDecoder()

	assert.NoError(t, d.Decode([]byte(`{"type":"telemetry","data":{"fps":60}}`)))
	assert.False(t, mailbox.Pending())
	assert.Empty(t, reply.Sent)
}

func TestDecoder_PingIsAnswered(t *testing.T) {
	d, mailbox, reply, _ := newTestDecoder()

	require.NoError(t, d.Decode([]byte(`{"type":"ping"}`)))

	assert.Equal(t, []string{protocol.MsgTypePong}, reply.Sent)
	assert.False(t, mailbox.Pending())
}

func TestDecoder_PingReplyFailureIsNotAnError(t *testing.T) {
	d, _, reply, _ := newTestDecoder()
	reply.Err = errors.New("gone")

	assert.NoError(t, d.Decode([]byte(`{"type":"ping"}`)))
}

func TestDecoder_PongNotifiesKeepalive(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var got time.Time
	metrics := monitor.NewMonitor("test")
	d := NewDecoder(NewMailbox(), nil, func(ts time.Time) { got = ts }, metrics, nil)
	d.now = func() time.Time { return at }

	require.NoError(t, d.Decode([]byte(`{"type":"pong"}`)))

	assert.Equal(t, at, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Metrics().PongsReceived))
}

func TestDecoder_NilMonitor(t *testing.T) {
	d := NewDecoder(NewMailbox(), nil, nil, nil, nil)
	assert.NoError(t, d.Decode([]byte(`{"type":"ping"}`)))
	assert.NoError(t, d.Decode([]byte(`{"type":"pong"}`)))
	assert.Error(t, d.Decode([]byte(`{`)))
}
