// Package gateway terminates collaboration websockets. It upgrades
// HTTP requests, assigns session ids, decodes the named-event frame
// protocol, and drives the room registry. Everything a client sends is
// answered through its own bounded queue, so a slow reader throttles
// only itself.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scrawlspace/scrawl/internal/v1/logging"
	"github.com/scrawlspace/scrawl/internal/v1/metrics"
	"github.com/scrawlspace/scrawl/internal/v1/ratelimit"
	"github.com/scrawlspace/scrawl/internal/v1/registry"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// Hub accepts websocket upgrades and tracks the live sessions.
type Hub struct {
	registry    *registry.Registry
	rateLimiter *ratelimit.RateLimiter

	mu      sync.Mutex
	clients map[types.SessionIDType]*Client
}

// NewHub creates a Hub bound to the given registry. The rate limiter
// may be nil, which disables connection limiting.
func NewHub(reg *registry.Registry, rateLimiter *ratelimit.RateLimiter) *Hub {
	return &Hub{
		registry:    reg,
		rateLimiter: rateLimiter,
		clients:     make(map[types.SessionIDType]*Client),
	}
}

// ServeWs rate-limits and upgrades the request, then hands the socket
// to a fresh session.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	upgrader := websocket.Upgrader{
		// The drawing surface is origin-agnostic; cross-origin browser
		// clients are expected.
		CheckOrigin: func(*http.Request) bool { return true },
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection assigns a session id to an established socket and
// starts its pumps.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	sessionID := types.SessionIDType(uuid.NewString())
	client := newClient(h, conn, sessionID)

	h.mu.Lock()
	h.clients[sessionID] = client
	h.mu.Unlock()

	metrics.IncConnection()
	logging.Info(context.WithValue(context.Background(), logging.SessionIDKey, string(sessionID)), "session connected")

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// Shutdown evicts every session from the registry, then closes all
// sockets. The eviction notices are queued first so the writePumps
// flush them ahead of the close frames.
func (h *Hub) Shutdown(ctx context.Context) {
	logging.Info(ctx, "Shutting down hub - closing all active sessions...")

	h.registry.Shutdown(ctx)

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.Disconnect()
	}

	logging.Info(ctx, "All sessions closed", zap.Int("count", len(clients)))
}
