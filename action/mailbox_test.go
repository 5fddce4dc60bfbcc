package action

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wfunc/tetbridge/protocol"
)

func TestMailbox_TakeClears(t *testing.T) {
	m := NewMailbox()

	_, ok := m.Take()
	assert.False(t, ok)

	assert.False(t, m.Put(protocol.AbstractAction{Type: protocol.ActionLeft}))
	assert.True(t, m.Pending())

	a, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionLeft, a.Type)

	_, ok = m.Take()
	assert.False(t, ok)
	assert.False(t, m.Pending())
}

func TestMailbox_PutOverwrites(t *testing.T) {
	m := NewMailbox()
	m.Put(protocol.AbstractAction{Type: protocol.ActionLeft})
	assert.True(t, m.Put(protocol.AbstractAction{Type: protocol.ActionHardDrop}))

	a, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, protocol.ActionHardDrop, a.Type)
}

func TestMailbox_Discard(t *testing.T) {
	m := NewMailbox()
	assert.False(t, m.Discard())
	m.Put(protocol.AbstractAction{Type: protocol.ActionHold})
	assert.True(t, m.Discard())
	assert.False(t, m.Pending())
}

// Whatever sequence of puts lands between two takes, the take sees the last.
func TestMailbox_LastPutWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewMailbox()
		puts := rapid.SliceOfN(rapid.SampledFrom(protocol.ActionTypes), 1, 20).Draw(t, "puts")
		for i, a := range puts {
			replaced := m.Put(protocol.AbstractAction{Type: a})
			if replaced != (i > 0) {
				t.Fatalf("put %d: replaced = %v", i, replaced)
			}
		}
		got, ok := m.Take()
		if !ok || got.Type != puts[len(puts)-1] {
			t.Fatalf("take = %v %v, want %v", got.Type, ok, puts[len(puts)-1])
		}
		if _, ok := m.Take(); ok {
			t.Fatalf("second take returned an action")
		}
	})
}

func TestMailbox_ConcurrentWriterReader(t *testing.T) {
	m := NewMailbox()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			m.Put(protocol.AbstractAction{Type: protocol.ActionTypes[i%len(protocol.ActionTypes)]})
		}
	}()

	taken := 0
	for i := 0; i < n; i++ {
		if _, ok := m.Take(); ok {
			taken++
		}
	}
	wg.Wait()
	if _, ok := m.Take(); ok {
		taken++
	}

	assert.GreaterOrEqual(t, taken, 1)
	assert.LessOrEqual(t, taken, n)
	assert.False(t, m.Pending())
}
