package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"firestige.xyz/flowmon/internal/core"
)

type mockPairer struct {
	mock.Mock
}

func (m *mockPairer) Observe(dir core.Direction, payload []byte, ts uint64) {
	m.Called(dir, payload, ts)
}

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()

	tr.Process([]byte("query"), core.ClientToServer, 10)
	tr.Process([]byte("answer!"), core.ServerToClient, 12)
	tr.Process([]byte("q2"), core.ClientToServer, 20)

	c := tr.Stats(core.ClientToServer)
	assert.Equal(t, uint64(2), c.Packets)
	assert.Equal(t, uint64(7), c.Bytes)
	assert.Equal(t, uint64(10), c.FirstSeen)
	assert.Equal(t, uint64(20), c.LastSeen)

	s := tr.Summary().Server
	assert.Equal(t, uint64(1), s.Packets)
	assert.Equal(t, uint64(7), s.Bytes)
	assert.Equal(t, uint64(12), s.FirstSeen)
}

func TestTrackerPairer(t *testing.T) {
	p := new(mockPairer)
	p.On("Observe", core.ClientToServer, []byte("req"), uint64(1)).Once()
	p.On("Observe", core.ServerToClient, []byte("resp"), uint64(2)).Once()

	tr := NewTracker()
	tr.SetPairer(p)
	tr.Process([]byte("req"), core.ClientToServer, 1)
	tr.Process([]byte("resp"), core.ServerToClient, 2)

	p.AssertExpectations(t)

	tr.SetPairer(nil)
	tr.Process([]byte("late"), core.ClientToServer, 3)
	p.AssertNumberOfCalls(t, "Observe", 2)
}
