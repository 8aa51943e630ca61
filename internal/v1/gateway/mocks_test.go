package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/scrawlspace/scrawl/internal/v1/protocol"
)

var errConnClosed = errors.New("mock connection closed")

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, errConnClosed
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// scriptedConn implements wsConnection as a scriptable peer: the test
// feeds inbound frames through a channel and inspects everything the
// server wrote back. Close unblocks the read side, like a dropped TCP
// connection.
type scriptedConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	written     [][]byte
	closeFrames int
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *scriptedConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-s.inbound:
		return websocket.TextMessage, frame, nil
	case <-s.closed:
		return 0, nil, errConnClosed
	}
}

func (s *scriptedConn) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		s.written = append(s.written, append([]byte(nil), data...))
	case websocket.CloseMessage:
		s.closeFrames++
	}
	return nil
}

func (s *scriptedConn) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (s *scriptedConn) feed(frame string) {
	s.inbound <- []byte(frame)
}

func (s *scriptedConn) writtenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

func (s *scriptedConn) closeFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFrames
}

func (s *scriptedConn) countEvent(event protocol.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, raw := range s.written {
		var env protocol.Envelope
		if json.Unmarshal(raw, &env) == nil && env.Event == event {
			n++
		}
	}
	return n
}

func (s *scriptedConn) findAck(ackID int64) (ackBody, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range s.written {
		var env protocol.Envelope
		if json.Unmarshal(raw, &env) != nil || env.Event != protocol.EventAck {
			continue
		}
		var body ackBody
		if json.Unmarshal(env.Payload, &body) == nil && body.AckID == ackID {
			return body, true
		}
	}
	return ackBody{}, false
}

func (s *scriptedConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(s.written))
	for _, raw := range s.written {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

// waitEventCount blocks until the server has written at least n frames
// of the given event.
func waitEventCount(t *testing.T, conn *scriptedConn, event protocol.Event, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.countEvent(event) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s frames", n, event)
}

// waitEvent blocks until n frames of the event arrived, then returns
// all of their decoded payloads in write order.
func waitEvent[T any](t *testing.T, conn *scriptedConn, event protocol.Event, n int) []T {
	t.Helper()
	waitEventCount(t, conn, event, n)

	var out []T
	for _, env := range conn.envelopes(t) {
		if env.Event != event {
			continue
		}
		var payload T
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		out = append(out, payload)
	}
	return out
}

// waitAck blocks until the callback ack for ackID arrives.
func waitAck(t *testing.T, conn *scriptedConn, ackID int64) ackBody {
	t.Helper()
	var found ackBody
	require.Eventually(t, func() bool {
		body, ok := conn.findAck(ackID)
		if ok {
			found = body
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond, "waiting for ack %d", ackID)
	return found
}

// ackBody mirrors the ack event payload.
type ackBody struct {
	AckID  int64  `json:"ackId"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// mirrorBody mirrors the join-room-ack and broadcast-ack payloads.
type mirrorBody struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// broadcastBody mirrors the client-broadcast payload.
type broadcastBody struct {
	Data     json.RawMessage `json:"data"`
	Metadata map[string]any  `json:"metadata"`
}
