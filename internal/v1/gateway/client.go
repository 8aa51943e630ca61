package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scrawlspace/scrawl/internal/v1/logging"
	"github.com/scrawlspace/scrawl/internal/v1/metrics"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// Client represents a single collaboration session over one socket.
// It implements types.PeerInterface.
type Client struct {
	conn wsConnection        // WebSocket connection for real-time communication
	hub  *Hub                // Owning hub, routes inbound frames
	id   types.SessionIDType // Server-assigned session identifier

	send      chan []byte   // Bounded outbound frame queue, drained by writePump
	done      chan struct{} // Closed exactly once when the session ends
	closeOnce sync.Once
}

func newClient(hub *Hub, conn wsConnection, id types.SessionIDType) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		id:   id,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// GetID satisfies types.PeerInterface.
func (c *Client) GetID() types.SessionIDType {
	return c.id
}

// Send queues a frame, blocking while the queue is full. Returns false
// once the session has disconnected; the frame is then discarded.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	}
}

// TrySend queues a frame without blocking. Returns false when the
// queue is full or the session has disconnected.
func (c *Client) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Disconnect signals both pumps to wind down. The writePump flushes
// queued frames and performs the close handshake. Safe to call from
// any goroutine, any number of times.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump processes inbound frames until the socket errors or closes.
// The registry Leave runs before any socket resources are released.
func (c *Client) readPump() {
	ctx := context.WithValue(context.Background(), logging.SessionIDKey, string(c.id))

	defer func() {
		c.hub.registry.Leave(ctx, c.id)
		c.hub.removeClient(c)
		c.Disconnect()
		c.conn.Close()
		metrics.DecConnection()
		logging.Info(ctx, "session disconnected")
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.route(ctx, c, data)
	}
}

// writePump serializes all writes to the socket. On shutdown it drains
// the queue so eviction notices and trailing acks still reach the
// client before the close frame.
func (c *Client) writePump() {
	defer func() {
		c.Disconnect()
		c.conn.Close()
	}()
	writeWait := 10 * time.Second

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Error(context.Background(), "error writing frame", zap.String("sessionId", string(c.id)), zap.Error(err))
				return
			}
		case <-c.done:
			for {
				select {
				case frame := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
