package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

const (
	fsSnapshotsDir = "snapshots"
	fsSettingsFile = "settings.json"
	fsDocumentsDir = ".documents"
)

// FilesystemStore persists rooms as directories under a fixed root:
//
//	<root>/<roomId>/snapshots/<snapshotId>
//	<root>/<roomId>/settings.json
//
// Snapshot files hold the JSON-encoded record including scene data.
// Identifiers are validated so requests can never escape the root.
type FilesystemStore struct {
	root string
	mu   sync.RWMutex
	now  func() int64
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FilesystemStore{root: abs, now: nowMillis}, nil
}

// safeSegment validates a single path segment derived from client input.
func safeSegment(segment string) error {
	switch {
	case segment == "" || segment == "." || segment == "..":
		return fmt.Errorf("%w: invalid identifier %q", types.ErrBadRequest, segment)
	case strings.HasPrefix(segment, "."):
		return fmt.Errorf("%w: identifier %q may not start with '.'", types.ErrBadRequest, segment)
	case strings.ContainsAny(segment, "/\\\x00"):
		return fmt.Errorf("%w: identifier %q contains path separators", types.ErrBadRequest, segment)
	case len(segment) > 128:
		return fmt.Errorf("%w: identifier exceeds 128 characters", types.ErrBadRequest)
	}
	return nil
}

// joinUnderRoot joins segments beneath the root, rejecting anything
// that resolves outside it.
func (s *FilesystemStore) joinUnderRoot(segments ...string) (string, error) {
	for _, seg := range segments {
		if seg == fsSnapshotsDir || seg == fsSettingsFile {
			continue
		}
		if err := safeSegment(seg); err != nil {
			return "", err
		}
	}
	path := filepath.Join(append([]string{s.root}, segments...)...)
	if path != s.root && !strings.HasPrefix(path, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes storage root", types.ErrBadRequest)
	}
	return path, nil
}

func (s *FilesystemStore) snapshotPath(roomID types.RoomIDType, id types.SnapshotIDType) (string, error) {
	return s.joinUnderRoot(string(roomID), fsSnapshotsDir, string(id))
}

func (s *FilesystemStore) readSnapshotFile(path string) (*types.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap types.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot file %s: %w", path, err)
	}
	return &snap, nil
}

func (s *FilesystemStore) writeSnapshotFile(snap types.Snapshot) error {
	path, err := s.snapshotPath(snap.RoomID, snap.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// roomSnapshots reads every snapshot record of a room. A missing room
// directory yields an empty slice.
func (s *FilesystemStore) roomSnapshots(roomID types.RoomIDType) ([]types.Snapshot, error) {
	dir, err := s.joinUnderRoot(string(roomID), fsSnapshotsDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []types.Snapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		snap, err := s.readSnapshotFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("skipping unreadable snapshot file", "path", entry.Name(), "error", err)
			continue
		}
		out = append(out, *snap)
	}
	return out, nil
}

// findSnapshot locates a snapshot by id across all room directories.
func (s *FilesystemStore) findSnapshot(id types.SnapshotIDType) (string, *types.Snapshot, error) {
	if err := safeSegment(string(id)); err != nil {
		return "", nil, err
	}
	rooms, err := os.ReadDir(s.root)
	if err != nil {
		return "", nil, err
	}
	for _, room := range rooms {
		if !room.IsDir() || strings.HasPrefix(room.Name(), ".") {
			continue
		}
		path := filepath.Join(s.root, room.Name(), fsSnapshotsDir, string(id))
		snap, err := s.readSnapshotFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return path, snap, nil
	}
	return "", nil, fmt.Errorf("snapshot %q: %w", id, types.ErrNotFound)
}

func (s *FilesystemStore) settingsLocked(roomID types.RoomIDType) (types.RoomSettings, error) {
	path, err := s.joinUnderRoot(string(roomID), fsSettingsFile)
	if err != nil {
		return types.RoomSettings{}, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.DefaultRoomSettings(), nil
	}
	if err != nil {
		return types.RoomSettings{}, err
	}
	var cfg types.RoomSettings
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return types.RoomSettings{}, fmt.Errorf("decode settings for room %q: %w", roomID, err)
	}
	return cfg, nil
}

func (s *FilesystemStore) CreateSnapshot(ctx context.Context, roomID types.RoomIDType, meta types.SnapshotMeta, data []byte) (types.SnapshotIDType, error) {
	if err := validateCreateMeta(meta); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.roomSnapshots(roomID)
	if err != nil {
		return "", err
	}
	settings, err := s.settingsLocked(roomID)
	if err != nil {
		return "", err
	}
	for _, victim := range capEvictions(existing, settings.MaxSnapshots) {
		path, err := s.snapshotPath(roomID, victim)
		if err != nil {
			return "", err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}

	snap := types.Snapshot{
		ID:          newSnapshotID(),
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   meta.CreatedBy,
		CreatedAt:   s.now(),
		Data:        data,
	}
	if err := s.writeSnapshotFile(snap); err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (s *FilesystemStore) UpsertAutosaveSnapshot(ctx context.Context, roomID types.RoomIDType, data []byte) (types.SnapshotIDType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.roomSnapshots(roomID)
	if err != nil {
		return "", err
	}
	for _, snap := range existing {
		if snap.IsAutosave() {
			snap.Data = data
			snap.CreatedAt = s.now()
			if err := s.writeSnapshotFile(snap); err != nil {
				return "", err
			}
			return snap.ID, nil
		}
	}

	snap := types.Snapshot{
		ID:        newSnapshotID(),
		RoomID:    roomID,
		Name:      "Autosave",
		CreatedBy: types.AutosaveCreatedBy,
		CreatedAt: s.now(),
		Data:      data,
	}
	if err := s.writeSnapshotFile(snap); err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (s *FilesystemStore) ListSnapshots(ctx context.Context, roomID types.RoomIDType) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, err := s.roomSnapshots(roomID)
	if err != nil {
		return nil, err
	}
	out := []types.Snapshot{}
	for _, snap := range snaps {
		snap.Data = nil
		out = append(out, snap)
	}
	sortForListing(out)
	return out, nil
}

func (s *FilesystemStore) GetSnapshot(ctx context.Context, id types.SnapshotIDType) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, snap, err := s.findSnapshot(id)
	return snap, err
}

func (s *FilesystemStore) DeleteSnapshot(ctx context.Context, id types.SnapshotIDType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, _, err := s.findSnapshot(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (s *FilesystemStore) UpdateSnapshotMetadata(ctx context.Context, id types.SnapshotIDType, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, snap, err := s.findSnapshot(id)
	if err != nil {
		return err
	}
	snap.Name = name
	snap.Description = description
	return s.writeSnapshotFile(*snap)
}

func (s *FilesystemStore) GetRoomSettings(ctx context.Context, roomID types.RoomIDType) (types.RoomSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settingsLocked(roomID)
}

func (s *FilesystemStore) UpdateRoomSettings(ctx context.Context, roomID types.RoomIDType, settings types.RoomSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.joinUnderRoot(string(roomID), fsSettingsFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(settings.Normalized())
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (s *FilesystemStore) DeleteRoom(ctx context.Context, roomID types.RoomIDType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.joinUnderRoot(string(roomID))
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *FilesystemStore) SaveDocument(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newDocumentID()
	dir := filepath.Join(s.root, fsDocumentsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, id), data, 0o644); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FilesystemStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := safeSegment(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, fsDocumentsDir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("document %q: %w", id, types.ErrNotFound)
	}
	return data, err
}

func (s *FilesystemStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func (s *FilesystemStore) Close() error {
	return nil
}
