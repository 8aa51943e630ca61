// Package storage persists snapshots, room settings, and legacy share
// documents behind a uniform contract. Four backends implement it:
// in-memory maps, a filesystem tree, an embedded SQLite database, and
// Redis. Callers select one through Open and must not depend on
// backend-specific behavior beyond this contract.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scrawlspace/scrawl/internal/v1/config"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// Store is the persistence contract shared by all backends.
//
// Error kinds: lookups by id return types.ErrNotFound when the entity
// is missing; GetRoomSettings and ListSnapshots never do (they fall
// back to defaults and the empty list). Invalid identifiers return
// types.ErrBadRequest. Infrastructure failures surface as
// types.ErrBackendUnavailable.
type Store interface {
	// CreateSnapshot persists a new snapshot and returns its id. When the
	// room already holds maxSnapshots non-autosave rows, the oldest are
	// deleted to make room before the insert.
	CreateSnapshot(ctx context.Context, roomID types.RoomIDType, meta types.SnapshotMeta, data []byte) (types.SnapshotIDType, error)
	// UpsertAutosaveSnapshot creates or replaces the room's single
	// autosave row. Autosave rows never count against the snapshot cap.
	UpsertAutosaveSnapshot(ctx context.Context, roomID types.RoomIDType, data []byte) (types.SnapshotIDType, error)
	// ListSnapshots returns the room's snapshots newest first, without
	// scene data. Unknown rooms yield an empty list.
	ListSnapshots(ctx context.Context, roomID types.RoomIDType) ([]types.Snapshot, error)
	GetSnapshot(ctx context.Context, id types.SnapshotIDType) (*types.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id types.SnapshotIDType) error
	// UpdateSnapshotMetadata replaces name and description, leaving the
	// scene data, thumbnail, and timestamps untouched.
	UpdateSnapshotMetadata(ctx context.Context, id types.SnapshotIDType, name, description string) error
	// GetRoomSettings returns the stored settings or the defaults for
	// rooms that were never configured.
	GetRoomSettings(ctx context.Context, roomID types.RoomIDType) (types.RoomSettings, error)
	UpdateRoomSettings(ctx context.Context, roomID types.RoomIDType, settings types.RoomSettings) error
	// DeleteRoom purges the room's snapshots and settings. Deleting an
	// unknown room is a no-op.
	DeleteRoom(ctx context.Context, roomID types.RoomIDType) error

	// Legacy anonymous share documents.
	SaveDocument(ctx context.Context, data []byte) (string, error)
	GetDocument(ctx context.Context, id string) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open selects and initializes the backend named by cfg.StorageType.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StorageType {
	case config.StorageTypeMemory:
		return withMetrics(config.StorageTypeMemory, NewMemoryStore()), nil
	case config.StorageTypeFilesystem:
		s, err := NewFilesystemStore(cfg.LocalStoragePath)
		if err != nil {
			return nil, err
		}
		return withMetrics(config.StorageTypeFilesystem, s), nil
	case config.StorageTypeSQLite:
		s, err := NewSQLiteStore(cfg.DataSourceName)
		if err != nil {
			return nil, err
		}
		return withMetrics(config.StorageTypeSQLite, s), nil
	case config.StorageTypeRedis:
		s, err := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		return withMetrics(config.StorageTypeRedis, s), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

// newSnapshotID returns a fresh snapshot id. The fixed-width nanosecond
// prefix makes ids sort lexicographically in creation order; the uuid
// suffix keeps same-nanosecond ids distinct.
func newSnapshotID() types.SnapshotIDType {
	return types.SnapshotIDType(fmt.Sprintf("%016x-%s", time.Now().UnixNano(), uuid.NewString()[:8]))
}

// newDocumentID returns an opaque id for a legacy share document.
func newDocumentID() string {
	return uuid.NewString()
}

// nowMillis is the CreatedAt clock shared by the backends.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// sortForListing orders snapshots newest first: createdAt descending,
// id descending as the tie-break.
func sortForListing(snaps []types.Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt != snaps[j].CreatedAt {
			return snaps[i].CreatedAt > snaps[j].CreatedAt
		}
		return snaps[i].ID > snaps[j].ID
	})
}

// capEvictions returns the ids of non-autosave snapshots that must be
// deleted so one more insert keeps the room at or under max. Victims
// are the oldest rows: smallest createdAt, then smallest id.
func capEvictions(snaps []types.Snapshot, max int) []types.SnapshotIDType {
	manual := make([]types.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if !s.IsAutosave() {
			manual = append(manual, s)
		}
	}

	evictCount := len(manual) + 1 - max
	if evictCount <= 0 {
		return nil
	}

	sort.Slice(manual, func(i, j int) bool {
		if manual[i].CreatedAt != manual[j].CreatedAt {
			return manual[i].CreatedAt < manual[j].CreatedAt
		}
		return manual[i].ID < manual[j].ID
	})

	ids := make([]types.SnapshotIDType, 0, evictCount)
	for _, s := range manual[:evictCount] {
		ids = append(ids, s.ID)
	}
	return ids
}

// validateCreateMeta rejects metadata that would corrupt the autosave
// invariant. The reserved marker is only ever written by the upsert path.
func validateCreateMeta(meta types.SnapshotMeta) error {
	if meta.CreatedBy == types.AutosaveCreatedBy {
		return fmt.Errorf("%w: createdBy %q is reserved", types.ErrBadRequest, types.AutosaveCreatedBy)
	}
	return nil
}

// cloneBytes detaches stored data from caller-owned buffers.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
