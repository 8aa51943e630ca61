package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// MemoryStore keeps everything in process memory. It is the default
// backend and the reference semantics the other backends are tested
// against. Contents are lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[types.SnapshotIDType]types.Snapshot
	settings  map[types.RoomIDType]types.RoomSettings
	documents map[string][]byte

	now func() int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[types.SnapshotIDType]types.Snapshot),
		settings:  make(map[types.RoomIDType]types.RoomSettings),
		documents: make(map[string][]byte),
		now:       nowMillis,
	}
}

func (s *MemoryStore) roomSnapshotsLocked(roomID types.RoomIDType) []types.Snapshot {
	var out []types.Snapshot
	for _, snap := range s.snapshots {
		if snap.RoomID == roomID {
			out = append(out, snap)
		}
	}
	return out
}

func (s *MemoryStore) settingsLocked(roomID types.RoomIDType) types.RoomSettings {
	if cfg, ok := s.settings[roomID]; ok {
		return cfg
	}
	return types.DefaultRoomSettings()
}

func (s *MemoryStore) CreateSnapshot(ctx context.Context, roomID types.RoomIDType, meta types.SnapshotMeta, data []byte) (types.SnapshotIDType, error) {
	if err := validateCreateMeta(meta); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.roomSnapshotsLocked(roomID)
	for _, id := range capEvictions(existing, s.settingsLocked(roomID).MaxSnapshots) {
		delete(s.snapshots, id)
	}

	snap := types.Snapshot{
		ID:          newSnapshotID(),
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   meta.CreatedBy,
		CreatedAt:   s.now(),
		Data:        cloneBytes(data),
	}
	s.snapshots[snap.ID] = snap
	return snap.ID, nil
}

func (s *MemoryStore) UpsertAutosaveSnapshot(ctx context.Context, roomID types.RoomIDType, data []byte) (types.SnapshotIDType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, snap := range s.snapshots {
		if snap.RoomID == roomID && snap.IsAutosave() {
			snap.Data = cloneBytes(data)
			snap.CreatedAt = s.now()
			s.snapshots[id] = snap
			return id, nil
		}
	}

	snap := types.Snapshot{
		ID:        newSnapshotID(),
		RoomID:    roomID,
		Name:      "Autosave",
		CreatedBy: types.AutosaveCreatedBy,
		CreatedAt: s.now(),
		Data:      cloneBytes(data),
	}
	s.snapshots[snap.ID] = snap
	return snap.ID, nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, roomID types.RoomIDType) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []types.Snapshot{}
	for _, snap := range s.roomSnapshotsLocked(roomID) {
		snap.Data = nil
		out = append(out, snap)
	}
	sortForListing(out)
	return out, nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, id types.SnapshotIDType) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("snapshot %q: %w", id, types.ErrNotFound)
	}
	snap.Data = cloneBytes(snap.Data)
	return &snap, nil
}

func (s *MemoryStore) DeleteSnapshot(ctx context.Context, id types.SnapshotIDType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[id]; !ok {
		return fmt.Errorf("snapshot %q: %w", id, types.ErrNotFound)
	}
	delete(s.snapshots, id)
	return nil
}

func (s *MemoryStore) UpdateSnapshotMetadata(ctx context.Context, id types.SnapshotIDType, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return fmt.Errorf("snapshot %q: %w", id, types.ErrNotFound)
	}
	snap.Name = name
	snap.Description = description
	s.snapshots[id] = snap
	return nil
}

func (s *MemoryStore) GetRoomSettings(ctx context.Context, roomID types.RoomIDType) (types.RoomSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settingsLocked(roomID), nil
}

func (s *MemoryStore) UpdateRoomSettings(ctx context.Context, roomID types.RoomIDType, settings types.RoomSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[roomID] = settings.Normalized()
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID types.RoomIDType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, snap := range s.snapshots {
		if snap.RoomID == roomID {
			delete(s.snapshots, id)
		}
	}
	delete(s.settings, roomID)
	return nil
}

func (s *MemoryStore) SaveDocument(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newDocumentID()
	s.documents[id] = cloneBytes(data)
	return id, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, types.ErrNotFound)
	}
	return cloneBytes(data), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
