// Package registry owns all transient room and membership state: who
// is in which room, per-room chat buffers, and presence fan-out. It is
// the only shared mutable structure in the server; one RWMutex guards
// it with short critical sections.
//
// Presence and chat frames for a joiner are enqueued while the write
// lock is still held. A fresh session queue cannot block, and doing it
// under the lock guarantees the chat replay matches the buffer at the
// moment the join took effect, with no broadcast slipping in front.
// Non-volatile broadcast fan-out, which may block on slow peers, runs
// on a member snapshot after the lock is released.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrawlspace/scrawl/internal/v1/logging"
	"github.com/scrawlspace/scrawl/internal/v1/metrics"
	"github.com/scrawlspace/scrawl/internal/v1/protocol"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// Registry tracks active rooms and the sessions joined to them.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[types.RoomIDType]*room
	sessions map[types.SessionIDType]*room
	now      func() int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		rooms:    make(map[types.RoomIDType]*room),
		sessions: make(map[types.SessionIDType]*room),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Join adds the peer to roomID, implicitly leaving any previously
// joined room. The joiner receives chat-history, then first-in-room or
// (for the others) new-user, then everyone receives room-user-change.
// Joining the room the session is already in replays history and
// presence without mutating membership.
func (reg *Registry) Join(ctx context.Context, roomID types.RoomIDType, peer types.PeerInterface) {
	sessionID := peer.GetID()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if prev, ok := reg.sessions[sessionID]; ok {
		if prev.id == roomID {
			reg.enqueueLocked(ctx, peer, reg.buildFrame(protocol.NewChatHistoryFrame(prev.chatHistoryLocked())))
			reg.enqueueLocked(ctx, peer, reg.buildFrame(protocol.NewRoomUserChangeFrame(prev.memberIDsLocked())))
			return
		}
		reg.leaveLocked(ctx, sessionID, prev)
	}

	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		reg.rooms[roomID] = r
		metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	}

	wasEmpty := len(r.members) == 0
	others := r.peersLocked(sessionID)
	r.members[sessionID] = peer
	reg.sessions[sessionID] = r
	r.touchLocked(reg.now())
	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(len(r.members)))

	logging.Info(ctx, "session joined room",
		zap.String("roomId", string(roomID)),
		zap.String("sessionId", string(sessionID)),
		zap.Int("members", len(r.members)),
	)

	reg.enqueueLocked(ctx, peer, reg.buildFrame(protocol.NewChatHistoryFrame(r.chatHistoryLocked())))

	if wasEmpty {
		reg.enqueueLocked(ctx, peer, reg.buildFrame(protocol.NewFirstInRoomFrame()))
	} else {
		newUser := reg.buildFrame(protocol.NewNewUserFrame(sessionID))
		for _, other := range others {
			reg.enqueueLocked(ctx, other, newUser)
		}
	}

	change := reg.buildFrame(protocol.NewRoomUserChangeFrame(r.memberIDsLocked()))
	for _, member := range r.members {
		reg.enqueueLocked(ctx, member, change)
	}
}

// Leave removes the session from its room, if any. Remaining members
// get a room-user-change; the last leaver takes the room and its chat
// buffer with it. Returns false when the session was not joined.
func (reg *Registry) Leave(ctx context.Context, sessionID types.SessionIDType) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.sessions[sessionID]
	if !ok {
		return false
	}

	logging.Info(ctx, "session left room",
		zap.String("roomId", string(r.id)),
		zap.String("sessionId", string(sessionID)),
	)
	reg.leaveLocked(ctx, sessionID, r)
	return true
}

// leaveLocked removes the session and notifies the remaining members.
// Caller must hold the write lock.
func (reg *Registry) leaveLocked(ctx context.Context, sessionID types.SessionIDType, r *room) {
	delete(r.members, sessionID)
	delete(reg.sessions, sessionID)
	r.touchLocked(reg.now())

	if len(r.members) == 0 {
		r.chat.Init()
		delete(reg.rooms, r.id)
		metrics.ActiveRooms.Set(float64(len(reg.rooms)))
		metrics.RoomMembers.DeleteLabelValues(string(r.id))
		logging.Info(ctx, "room closed", zap.String("roomId", string(r.id)))
		return
	}

	metrics.RoomMembers.WithLabelValues(string(r.id)).Set(float64(len(r.members)))
	change := reg.buildFrame(protocol.NewRoomUserChangeFrame(r.memberIDsLocked()))
	for _, member := range r.members {
		reg.enqueueLocked(ctx, member, change)
	}
}

// Broadcast relays an encoded frame to every member of the sender's
// room except the sender. Volatile frames are dropped for peers whose
// queue is full; non-volatile frames block until queued or the peer is
// gone. Fails with ErrPreconditionFailed when the sender is not joined.
func (reg *Registry) Broadcast(ctx context.Context, senderID types.SessionIDType, frame []byte, volatile bool) error {
	reg.mu.RLock()
	r, ok := reg.sessions[senderID]
	if !ok {
		reg.mu.RUnlock()
		return fmt.Errorf("%w: session %q is not in a room", types.ErrPreconditionFailed, senderID)
	}
	recipients := r.peersLocked(senderID)
	reg.mu.RUnlock()

	kind := "broadcast"
	if volatile {
		kind = "volatile"
	}
	metrics.BroadcastFrames.WithLabelValues(kind).Inc()

	for _, peer := range recipients {
		if volatile {
			if !peer.TrySend(frame) {
				metrics.FramesDropped.WithLabelValues("volatile_backpressure").Inc()
				logging.Debug(ctx, "dropping volatile frame for slow peer",
					zap.String("sessionId", string(peer.GetID())),
				)
			}
			continue
		}
		if !peer.Send(frame) {
			metrics.FramesDropped.WithLabelValues("peer_gone").Inc()
		}
	}
	return nil
}

// AppendChat stores a chat message with server-assigned sender and
// timestamp and echoes it to every member, the sender included. Fails
// with ErrPreconditionFailed when the sender is not joined and
// ErrBadRequest when the message is unstorable.
func (reg *Registry) AppendChat(ctx context.Context, senderID types.SessionIDType, id, content string) (types.ChatMessage, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.sessions[senderID]
	if !ok {
		return types.ChatMessage{}, fmt.Errorf("%w: session %q is not in a room", types.ErrPreconditionFailed, senderID)
	}

	msg := types.ChatMessage{
		ID:        id,
		RoomID:    r.id,
		SenderID:  senderID,
		Content:   content,
		Timestamp: reg.now(),
	}
	if err := msg.Validate(); err != nil {
		return types.ChatMessage{}, err
	}

	r.appendChatLocked(msg)
	r.touchLocked(msg.Timestamp)
	metrics.ChatMessages.Inc()

	echo := reg.buildFrame(protocol.NewClientChatMessageFrame(msg))
	for _, member := range r.members {
		reg.enqueueLocked(ctx, member, echo)
	}
	return msg, nil
}

// ListRooms returns a point-in-time view of active rooms: most members
// first, then most recently active, then id.
func (reg *Registry) ListRooms() []types.RoomInfo {
	reg.mu.RLock()
	out := make([]types.RoomInfo, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, types.RoomInfo{
			ID:         r.id,
			Users:      len(r.members),
			LastActive: r.lastActive,
		})
	}
	reg.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Users != out[j].Users {
			return out[i].Users > out[j].Users
		}
		if out[i].LastActive != out[j].LastActive {
			return out[i].LastActive > out[j].LastActive
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EvictRoom unjoins every member of roomID and deletes the room. Each
// evicted member receives room-user-change([]); sockets stay open and
// the sessions drop back to the unjoined state. Returns the number of
// sessions evicted; evicting an unknown room is a no-op.
func (reg *Registry) EvictRoom(ctx context.Context, roomID types.RoomIDType) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.evictRoomLocked(ctx, roomID)
}

func (reg *Registry) evictRoomLocked(ctx context.Context, roomID types.RoomIDType) int {
	r, ok := reg.rooms[roomID]
	if !ok {
		return 0
	}

	empty := reg.buildFrame(protocol.NewRoomUserChangeFrame(nil))
	count := 0
	for sessionID, peer := range r.members {
		delete(reg.sessions, sessionID)
		reg.enqueueLocked(ctx, peer, empty)
		count++
	}
	r.chat.Init()
	delete(reg.rooms, roomID)
	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	metrics.RoomMembers.DeleteLabelValues(string(roomID))

	logging.Info(ctx, "room evicted",
		zap.String("roomId", string(roomID)),
		zap.Int("sessions", count),
	)
	return count
}

// Shutdown evicts every room, notifying members on the way out.
func (reg *Registry) Shutdown(ctx context.Context) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for roomID := range reg.rooms {
		reg.evictRoomLocked(ctx, roomID)
	}
}

// buildFrame funnels frame-encoding errors into the log; callers skip
// nil frames. Encoding only fails on unmarshalable payloads, which the
// builders never produce.
func (reg *Registry) buildFrame(frame []byte, err error) []byte {
	if err != nil {
		logging.Error(context.Background(), "failed to encode frame", zap.Error(err))
		return nil
	}
	return frame
}

// enqueueLocked hands a frame to a peer without blocking. Presence and
// chat frames are enqueued under the registry lock, so a stalled peer
// must never stall the registry; a full queue drops the frame.
func (reg *Registry) enqueueLocked(ctx context.Context, peer types.PeerInterface, frame []byte) {
	if frame == nil {
		return
	}
	if !peer.TrySend(frame) {
		metrics.FramesDropped.WithLabelValues("slow_consumer").Inc()
		logging.Debug(ctx, "dropping frame for slow consumer",
			zap.String("sessionId", string(peer.GetID())),
		)
	}
}
