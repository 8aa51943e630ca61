package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scrawlspace/scrawl/internal/v1/metrics"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// instrumentedStore decorates a backend with operation timing and error
// counting. Expected outcomes (missing rows, invalid input) are not
// counted as errors.
type instrumentedStore struct {
	backend string
	next    Store
}

func withMetrics(backend string, next Store) Store {
	return &instrumentedStore{backend: backend, next: next}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	metrics.StorageOperationDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrBadRequest) || errors.Is(err, types.ErrPreconditionFailed) {
		return
	}
	metrics.StorageErrors.WithLabelValues(s.backend, op).Inc()
}

func (s *instrumentedStore) CreateSnapshot(ctx context.Context, roomID types.RoomIDType, meta types.SnapshotMeta, data []byte) (id types.SnapshotIDType, err error) {
	defer func(start time.Time) { s.observe("create_snapshot", start, err) }(time.Now())
	return s.next.CreateSnapshot(ctx, roomID, meta, data)
}

func (s *instrumentedStore) UpsertAutosaveSnapshot(ctx context.Context, roomID types.RoomIDType, data []byte) (id types.SnapshotIDType, err error) {
	defer func(start time.Time) { s.observe("upsert_autosave", start, err) }(time.Now())
	return s.next.UpsertAutosaveSnapshot(ctx, roomID, data)
}

func (s *instrumentedStore) ListSnapshots(ctx context.Context, roomID types.RoomIDType) (snaps []types.Snapshot, err error) {
	defer func(start time.Time) { s.observe("list_snapshots", start, err) }(time.Now())
	return s.next.ListSnapshots(ctx, roomID)
}

func (s *instrumentedStore) GetSnapshot(ctx context.Context, id types.SnapshotIDType) (snap *types.Snapshot, err error) {
	defer func(start time.Time) { s.observe("get_snapshot", start, err) }(time.Now())
	return s.next.GetSnapshot(ctx, id)
}

func (s *instrumentedStore) DeleteSnapshot(ctx context.Context, id types.SnapshotIDType) (err error) {
	defer func(start time.Time) { s.observe("delete_snapshot", start, err) }(time.Now())
	return s.next.DeleteSnapshot(ctx, id)
}

func (s *instrumentedStore) UpdateSnapshotMetadata(ctx context.Context, id types.SnapshotIDType, name, description string) (err error) {
	defer func(start time.Time) { s.observe("update_snapshot_metadata", start, err) }(time.Now())
	return s.next.UpdateSnapshotMetadata(ctx, id, name, description)
}

func (s *instrumentedStore) GetRoomSettings(ctx context.Context, roomID types.RoomIDType) (settings types.RoomSettings, err error) {
	defer func(start time.Time) { s.observe("get_room_settings", start, err) }(time.Now())
	return s.next.GetRoomSettings(ctx, roomID)
}

func (s *instrumentedStore) UpdateRoomSettings(ctx context.Context, roomID types.RoomIDType, settings types.RoomSettings) (err error) {
	defer func(start time.Time) { s.observe("update_room_settings", start, err) }(time.Now())
	return s.next.UpdateRoomSettings(ctx, roomID, settings)
}

func (s *instrumentedStore) DeleteRoom(ctx context.Context, roomID types.RoomIDType) (err error) {
	defer func(start time.Time) { s.observe("delete_room", start, err) }(time.Now())
	return s.next.DeleteRoom(ctx, roomID)
}

func (s *instrumentedStore) SaveDocument(ctx context.Context, data []byte) (id string, err error) {
	defer func(start time.Time) { s.observe("save_document", start, err) }(time.Now())
	return s.next.SaveDocument(ctx, data)
}

func (s *instrumentedStore) GetDocument(ctx context.Context, id string) (data []byte, err error) {
	defer func(start time.Time) { s.observe("get_document", start, err) }(time.Now())
	return s.next.GetDocument(ctx, id)
}

func (s *instrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.next.Ping(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
