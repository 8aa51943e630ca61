package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrawlspace/scrawl/internal/v1/protocol"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// MockPeer implements types.PeerInterface and records every frame it
// was handed, in order.
type MockPeer struct {
	id types.SessionIDType

	mu           sync.Mutex
	frames       [][]byte
	full         bool // TrySend refuses when set
	gone         bool // Send refuses when set
	disconnected bool
}

func newMockPeer(id string) *MockPeer {
	return &MockPeer{id: types.SessionIDType(id)}
}

func (m *MockPeer) GetID() types.SessionIDType { return m.id }

func (m *MockPeer) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return false
	}
	m.frames = append(m.frames, data)
	return true
}

func (m *MockPeer) TrySend(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full || m.gone {
		return false
	}
	m.frames = append(m.frames, data)
	return true
}

func (m *MockPeer) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *MockPeer) setFull(full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.full = full
}

func (m *MockPeer) setGone(gone bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gone = gone
}

// envelopes decodes every recorded frame.
func (m *MockPeer) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(m.frames))
	for _, raw := range m.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

// events lists the recorded frame events in delivery order.
func (m *MockPeer) events(t *testing.T) []protocol.Event {
	t.Helper()
	envs := m.envelopes(t)
	out := make([]protocol.Event, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Event)
	}
	return out
}

// payloadsOf decodes the payloads of every recorded frame of one event.
func payloadsOf[T any](t *testing.T, peer *MockPeer, event protocol.Event) []T {
	t.Helper()
	var out []T
	for _, env := range peer.envelopes(t) {
		if env.Event != event {
			continue
		}
		var payload T
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		out = append(out, payload)
	}
	return out
}

// lastUserChange returns the member list of the most recent
// room-user-change frame the peer observed.
func lastUserChange(t *testing.T, peer *MockPeer) []string {
	t.Helper()
	changes := payloadsOf[[]string](t, peer, protocol.EventRoomUserChange)
	require.NotEmpty(t, changes, "peer %s never observed room-user-change", peer.id)
	return changes[len(changes)-1]
}

func countEvents(t *testing.T, peer *MockPeer, event protocol.Event) int {
	t.Helper()
	n := 0
	for _, e := range peer.events(t) {
		if e == event {
			n++
		}
	}
	return n
}
