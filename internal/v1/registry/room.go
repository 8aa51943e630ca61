package registry

import (
	"container/list"

	"k8s.io/utils/set"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

const (
	// maxChatHistory bounds the per-room chat buffer; the oldest entry
	// is dropped on overflow.
	maxChatHistory = 1000
)

// room holds the transient state of one active room. All access goes
// through the registry lock; rooms never outlive their last member.
type room struct {
	id         types.RoomIDType
	members    map[types.SessionIDType]types.PeerInterface
	chat       *list.List
	lastActive int64
}

func newRoom(id types.RoomIDType) *room {
	return &room{
		id:      id,
		members: make(map[types.SessionIDType]types.PeerInterface),
		chat:    list.New(),
	}
}

// memberIDsLocked returns the member ids sorted, so room-user-change
// frames are deterministic. Caller must hold the registry lock.
func (r *room) memberIDsLocked() []string {
	ids := set.New[string]()
	for id := range r.members {
		ids.Insert(string(id))
	}
	return ids.SortedList()
}

// peersLocked snapshots the member peers, excluding one session id.
// Caller must hold the registry lock.
func (r *room) peersLocked(exclude types.SessionIDType) []types.PeerInterface {
	peers := make([]types.PeerInterface, 0, len(r.members))
	for id, peer := range r.members {
		if id == exclude {
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

// appendChatLocked appends a message, dropping the oldest entries when
// the buffer is over capacity. Caller must hold the registry lock.
func (r *room) appendChatLocked(msg types.ChatMessage) {
	r.chat.PushBack(msg)
	for r.chat.Len() > maxChatHistory {
		r.chat.Remove(r.chat.Front())
	}
}

// chatHistoryLocked copies the chat buffer oldest first. Caller must
// hold the registry lock.
func (r *room) chatHistoryLocked() []types.ChatMessage {
	out := make([]types.ChatMessage, 0, r.chat.Len())
	for e := r.chat.Front(); e != nil; e = e.Next() {
		if msg, ok := e.Value.(types.ChatMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (r *room) touchLocked(now int64) {
	r.lastActive = now
}
