package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrawlspace/scrawl/internal/v1/logging"
	"github.com/scrawlspace/scrawl/internal/v1/metrics"
	"github.com/scrawlspace/scrawl/internal/v1/protocol"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// route decodes one inbound frame and dispatches it to its handler.
// Every decodable frame is answered with exactly one ack pass; frames
// too malformed to carry a usable ack id are dropped with a log.
func (h *Hub) route(ctx context.Context, client *Client, raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("unknown", "error").Inc()
		logging.Warn(ctx, "Failed to decode frame", zap.Error(err))
		return
	}

	// Metrics: Track event processing duration
	start := time.Now()
	status := "success"
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.MessageProcessingDuration.WithLabelValues(string(env.Event)).Observe(duration)
		metrics.WebsocketEvents.WithLabelValues(string(env.Event), status).Inc()
	}()

	var handlerErr error
	switch env.Event {
	case protocol.EventJoinRoom:
		handlerErr = h.handleJoinRoom(ctx, client, env)
	case protocol.EventServerBroadcast:
		handlerErr = h.handleBroadcast(ctx, client, env, false)
	case protocol.EventServerVolatileBroadcast:
		handlerErr = h.handleBroadcast(ctx, client, env, true)
	case protocol.EventServerChatMessage:
		handlerErr = h.handleChat(ctx, client, env)
	case protocol.EventLeaveRoom:
		handlerErr = h.handleLeaveRoom(ctx, client)
	default:
		handlerErr = fmt.Errorf("%w: unknown event %q", types.ErrBadRequest, env.Event)
		logging.Warn(ctx, "Unknown event", zap.String("event", string(env.Event)))
	}

	if handlerErr != nil {
		status = "error"
		logging.Debug(ctx, "frame rejected",
			zap.String("event", string(env.Event)),
			zap.Error(handlerErr),
		)
	}
	h.ack(ctx, client, env, handlerErr)
}

// handleJoinRoom joins the session to the named room. The registry
// queues chat-history, presence, and room-user-change frames before
// this returns, so the ack always trails them.
func (h *Hub) handleJoinRoom(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var payload protocol.JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: join-room payload: %v", types.ErrBadRequest, err)
	}
	if payload.RoomID == "" {
		return fmt.Errorf("%w: join-room requires a roomId", types.ErrBadRequest)
	}

	ctx = context.WithValue(ctx, logging.RoomIDKey, string(payload.RoomID))
	h.registry.Join(ctx, payload.RoomID, client)
	return nil
}

// handleBroadcast relays an opaque payload to the sender's room peers.
// The sender's session id is stamped into the metadata before fan-out;
// the payload itself is never inspected.
func (h *Hub) handleBroadcast(ctx context.Context, client *Client, env *protocol.Envelope, volatile bool) error {
	var payload protocol.BroadcastPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: broadcast payload: %v", types.ErrBadRequest, err)
	}
	if payload.RoomID == "" {
		return fmt.Errorf("%w: broadcast requires a roomId", types.ErrBadRequest)
	}

	metadata := payload.Metadata
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata["userId"] = string(client.id)

	frame, err := protocol.NewClientBroadcastFrame(payload.Data, metadata)
	if err != nil {
		return err
	}
	return h.registry.Broadcast(ctx, client.id, frame, volatile)
}

// handleChat appends a chat message and lets the registry echo it to
// the whole room, the sender included.
func (h *Hub) handleChat(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var payload protocol.ChatPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: chat payload: %v", types.ErrBadRequest, err)
	}

	_, err := h.registry.AppendChat(ctx, client.id, payload.ID, payload.Content)
	return err
}

// handleLeaveRoom detaches the session from its room. Leaving while
// not joined succeeds as a no-op.
func (h *Hub) handleLeaveRoom(ctx context.Context, client *Client) error {
	h.registry.Leave(ctx, client.id)
	return nil
}

// ack answers an inbound frame. A frame carrying an ackId gets exactly
// one ack event with that id; a frame carrying a messageId additionally
// gets the event-based mirror for its kind.
func (h *Hub) ack(ctx context.Context, client *Client, env *protocol.Envelope, handlerErr error) {
	status := protocol.AckStatusOK
	errMsg := ""
	if handlerErr != nil {
		status = protocol.AckStatusError
		errMsg = handlerErr.Error()
	}

	if env.AckID != nil {
		frame, err := protocol.NewAckFrame(*env.AckID, status, errMsg)
		h.deliver(ctx, client, frame, err)
	}

	if env.MessageID == "" {
		return
	}
	switch env.Event {
	case protocol.EventJoinRoom:
		frame, err := protocol.NewJoinRoomAckFrame(env.MessageID, status, errMsg)
		h.deliver(ctx, client, frame, err)
	case protocol.EventServerBroadcast, protocol.EventServerVolatileBroadcast, protocol.EventServerChatMessage:
		frame, err := protocol.NewBroadcastAckFrame(env.MessageID, status, errMsg)
		h.deliver(ctx, client, frame, err)
	}
}

// deliver queues a gateway-originated frame on the sender's own
// socket. Blocking here stalls only the sender's read loop, which is
// the intended backpressure.
func (h *Hub) deliver(ctx context.Context, client *Client, frame []byte, err error) {
	if err != nil {
		logging.Error(ctx, "failed to encode frame", zap.Error(err))
		return
	}
	if !client.Send(frame) {
		metrics.FramesDropped.WithLabelValues("peer_gone").Inc()
	}
}
