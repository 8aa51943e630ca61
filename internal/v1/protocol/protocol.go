// Package protocol defines the named-event JSON frames exchanged over a
// collaboration socket. Both the registry (presence and chat fan-out)
// and the gateway (acks, broadcast relay) build frames from here, so
// the wire shapes live in one place.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// Event names an inbound or outbound frame type.
type Event string

// Inbound events.
const (
	EventJoinRoom                Event = "join-room"
	EventServerBroadcast         Event = "server-broadcast"
	EventServerVolatileBroadcast Event = "server-volatile-broadcast"
	EventServerChatMessage       Event = "server-chat-message"
	EventLeaveRoom               Event = "leave-room"
)

// Outbound events.
const (
	EventClientBroadcast   Event = "client-broadcast"
	EventClientChatMessage Event = "client-chat-message"
	EventChatHistory       Event = "chat-history"
	EventFirstInRoom       Event = "first-in-room"
	EventNewUser           Event = "new-user"
	EventRoomUserChange    Event = "room-user-change"
	EventAck               Event = "ack"
	EventJoinRoomAck       Event = "join-room-ack"
	EventBroadcastAck      Event = "broadcast-ack"
)

// Ack statuses.
const (
	AckStatusOK    = "ok"
	AckStatusError = "error"
)

// Envelope is the frame carried in every websocket text message.
// AckID, when present on an inbound frame, requests exactly one ack
// event carrying the same id. MessageID, when present, additionally
// requests the event-based ack mirror (join-room-ack, broadcast-ack)
// for clients that cannot correlate callback acks.
type Envelope struct {
	Event     Event           `json:"event"`
	AckID     *int64          `json:"ackId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes a raw frame. The payload stays raw; event
// handlers decode it against their own payload type.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", types.ErrBadRequest, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: frame missing event name", types.ErrBadRequest)
	}
	return &env, nil
}

// JoinRoomPayload is the body of join-room and leave-room.
type JoinRoomPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
}

// BroadcastPayload is the body of server-broadcast and
// server-volatile-broadcast. Data is relayed untouched; Metadata is
// augmented with the sender's session id before fan-out.
type BroadcastPayload struct {
	RoomID   types.RoomIDType `json:"roomId"`
	Data     json.RawMessage  `json:"data"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// ChatPayload is the body of server-chat-message. Only the id and
// content are trusted; sender and timestamp are server-assigned.
type ChatPayload struct {
	RoomID  types.RoomIDType `json:"roomId"`
	ID      string           `json:"id"`
	Content string           `json:"content"`
}

// clientBroadcastPayload is the outbound body of client-broadcast.
type clientBroadcastPayload struct {
	Data     json.RawMessage `json:"data"`
	Metadata map[string]any  `json:"metadata"`
}

// ackPayload is the outbound body of the ack event.
type ackPayload struct {
	AckID  int64  `json:"ackId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ackMirrorPayload is the outbound body of join-room-ack and
// broadcast-ack.
type ackMirrorPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func encodeFrame(event Event, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return frame, nil
}

// NewAckFrame builds the callback ack for an inbound frame's ackId.
func NewAckFrame(ackID int64, status, errMsg string) ([]byte, error) {
	return encodeFrame(EventAck, ackPayload{AckID: ackID, Status: status, Error: errMsg})
}

// NewJoinRoomAckFrame builds the event mirror of a join-room ack.
func NewJoinRoomAckFrame(messageID, status, errMsg string) ([]byte, error) {
	return encodeFrame(EventJoinRoomAck, ackMirrorPayload{MessageID: messageID, Status: status, Error: errMsg})
}

// NewBroadcastAckFrame builds the event mirror of a broadcast or chat ack.
func NewBroadcastAckFrame(messageID, status, errMsg string) ([]byte, error) {
	return encodeFrame(EventBroadcastAck, ackMirrorPayload{MessageID: messageID, Status: status, Error: errMsg})
}

// NewChatHistoryFrame carries the replayed chat buffer to a joiner.
func NewChatHistoryFrame(history []types.ChatMessage) ([]byte, error) {
	if history == nil {
		history = []types.ChatMessage{}
	}
	return encodeFrame(EventChatHistory, history)
}

// NewFirstInRoomFrame signals the joiner that it created the room.
func NewFirstInRoomFrame() ([]byte, error) {
	return encodeFrame(EventFirstInRoom, nil)
}

// NewNewUserFrame tells pre-existing members who just joined.
func NewNewUserFrame(sessionID types.SessionIDType) ([]byte, error) {
	return encodeFrame(EventNewUser, string(sessionID))
}

// NewRoomUserChangeFrame carries the full member list after a
// membership mutation.
func NewRoomUserChangeFrame(memberIDs []string) ([]byte, error) {
	if memberIDs == nil {
		memberIDs = []string{}
	}
	return encodeFrame(EventRoomUserChange, memberIDs)
}

// NewClientBroadcastFrame relays an opaque payload to room peers.
func NewClientBroadcastFrame(data json.RawMessage, metadata map[string]any) ([]byte, error) {
	return encodeFrame(EventClientBroadcast, clientBroadcastPayload{Data: data, Metadata: metadata})
}

// NewClientChatMessageFrame carries a stored chat message to the room.
func NewClientChatMessageFrame(msg types.ChatMessage) ([]byte, error) {
	return encodeFrame(EventClientChatMessage, msg)
}
