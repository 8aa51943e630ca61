package types

import (
	"errors"
	"fmt"
)

// --- Core Domain Types ---

// SessionIDType represents a unique identifier for a connected session.
type SessionIDType string

// RoomIDType represents a unique identifier for a collaboration room.
type RoomIDType string

// SnapshotIDType represents a server-assigned snapshot identifier.
// IDs sort lexicographically in creation order.
type SnapshotIDType string

// AutosaveCreatedBy marks the reserved per-room autosave snapshot row.
const AutosaveCreatedBy = "__autosave__"

// Room settings bounds. Values below the minimum are replaced by the
// default, not clamped to the minimum.
const (
	DefaultMaxSnapshots     = 10
	DefaultAutoSaveInterval = 300
	MinMaxSnapshots         = 1
	MinAutoSaveInterval     = 60
)

// --- Chat ---

// ChatMessage is a chat entry as stored in a room's history buffer and
// fanned out to members. SenderID and Timestamp are assigned by the
// server; ID and Content come from the client.
type ChatMessage struct {
	ID        string        `json:"id"`
	RoomID    RoomIDType    `json:"roomId"`
	SenderID  SessionIDType `json:"sender"`
	Content   string        `json:"content"`
	Timestamp int64         `json:"timestamp"`
}

// Validate ensures a client-supplied chat message is safe to store.
func (m ChatMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: chat message id cannot be empty", ErrBadRequest)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: chat content cannot be empty", ErrBadRequest)
	}
	if len(m.Content) > 2000 {
		return fmt.Errorf("%w: chat content cannot exceed 2000 characters", ErrBadRequest)
	}
	return nil
}

// --- Snapshots ---

// SnapshotMeta carries the caller-supplied fields of a snapshot.
type SnapshotMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
	CreatedBy   string `json:"createdBy"`
}

// Snapshot is a persisted scene snapshot. Data holds the serialized
// scene and is omitted from listings.
type Snapshot struct {
	ID          SnapshotIDType `json:"id"`
	RoomID      RoomIDType     `json:"roomId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	CreatedBy   string         `json:"createdBy"`
	CreatedAt   int64          `json:"createdAt"`
	Data        []byte         `json:"data,omitempty"`
}

// IsAutosave reports whether this row is the room's autosave slot.
func (s Snapshot) IsAutosave() bool {
	return s.CreatedBy == AutosaveCreatedBy
}

// --- Room settings ---

// RoomSettings controls snapshot retention for a room.
type RoomSettings struct {
	MaxSnapshots     int `json:"maxSnapshots"`
	AutoSaveInterval int `json:"autoSaveInterval"`
}

// DefaultRoomSettings returns the settings applied to rooms that have
// never been configured.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		MaxSnapshots:     DefaultMaxSnapshots,
		AutoSaveInterval: DefaultAutoSaveInterval,
	}
}

// Normalized replaces out-of-range values with the defaults. Every
// storage backend runs updates through this before persisting.
func (s RoomSettings) Normalized() RoomSettings {
	if s.MaxSnapshots < MinMaxSnapshots {
		s.MaxSnapshots = DefaultMaxSnapshots
	}
	if s.AutoSaveInterval < MinAutoSaveInterval {
		s.AutoSaveInterval = DefaultAutoSaveInterval
	}
	return s
}

// --- Room listing ---

// RoomInfo is the public listing entry for an active room.
type RoomInfo struct {
	ID         RoomIDType `json:"id"`
	Users      int        `json:"users"`
	LastActive int64      `json:"lastActive"`
}

// --- Error Kinds ---

// Sentinel errors shared across the registry, the storage backends, and
// both protocol surfaces. Wrap them with fmt.Errorf("...: %w", ...) and
// test with errors.Is.
var (
	// ErrBadRequest marks structurally invalid input.
	ErrBadRequest = errors.New("bad request")
	// ErrPreconditionFailed marks a request whose required state does not hold.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrNotFound marks a missing addressable entity.
	ErrNotFound = errors.New("not found")
	// ErrBackendUnavailable marks a storage backend failure.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// --- Shared Interfaces ---

// PeerInterface defines the behavior the registry needs from a connected
// session. This keeps the registry free of transport concerns and lets
// tests substitute in-memory peers.
type PeerInterface interface {
	GetID() SessionIDType
	// Send queues a frame, waiting for queue space. It returns false if
	// the peer disconnected before the frame could be queued.
	Send(data []byte) bool
	// TrySend queues a frame only if space is immediately available.
	TrySend(data []byte) bool
	Disconnect()
}
