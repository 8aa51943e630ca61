package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

func TestFilesystemStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	st, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	badIDs := []string{
		"",
		".",
		"..",
		"../evil",
		"rooms/../../etc",
		"a\\b",
		"nul\x00byte",
		".hidden",
		strings.Repeat("x", 129),
	}

	for _, bad := range badIDs {
		t.Run("room_"+bad, func(t *testing.T) {
			_, err := st.CreateSnapshot(ctx, types.RoomIDType(bad), types.SnapshotMeta{Name: "n", CreatedBy: "u"}, []byte("x"))
			assert.ErrorIs(t, err, types.ErrBadRequest)

			_, err = st.UpsertAutosaveSnapshot(ctx, types.RoomIDType(bad), []byte("x"))
			assert.ErrorIs(t, err, types.ErrBadRequest)

			err = st.UpdateRoomSettings(ctx, types.RoomIDType(bad), types.DefaultRoomSettings())
			assert.ErrorIs(t, err, types.ErrBadRequest)

			err = st.DeleteRoom(ctx, types.RoomIDType(bad))
			assert.ErrorIs(t, err, types.ErrBadRequest)
		})

		t.Run("snapshot_"+bad, func(t *testing.T) {
			_, err := st.GetSnapshot(ctx, types.SnapshotIDType(bad))
			assert.ErrorIs(t, err, types.ErrBadRequest)

			err = st.DeleteSnapshot(ctx, types.SnapshotIDType(bad))
			assert.ErrorIs(t, err, types.ErrBadRequest)
		})

		t.Run("document_"+bad, func(t *testing.T) {
			_, err := st.GetDocument(ctx, bad)
			assert.ErrorIs(t, err, types.ErrBadRequest)
		})
	}
}

func TestFilesystemStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	st, err := NewFilesystemStore(root)
	require.NoError(t, err)

	id, err := st.CreateSnapshot(ctx, "room-1", types.SnapshotMeta{Name: "kept", CreatedBy: "alice"}, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, st.UpdateRoomSettings(ctx, "room-1", types.RoomSettings{MaxSnapshots: 4, AutoSaveInterval: 90}))
	require.NoError(t, st.Close())

	reopened, err := NewFilesystemStore(root)
	require.NoError(t, err)

	snap, err := reopened.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "kept", snap.Name)
	assert.Equal(t, []byte("payload"), snap.Data)

	settings, err := reopened.GetRoomSettings(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 4, settings.MaxSnapshots)
	assert.Equal(t, 90, settings.AutoSaveInterval)
}

func TestFilesystemStore_SkipsCorruptSnapshotFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	st, err := NewFilesystemStore(root)
	require.NoError(t, err)

	id, err := st.CreateSnapshot(ctx, "room-1", types.SnapshotMeta{Name: "good", CreatedBy: "alice"}, []byte("x"))
	require.NoError(t, err)

	// A half-written file must not take the whole listing down.
	corrupt := filepath.Join(root, "room-1", "snapshots", "not-json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{trunca"), 0o644))

	snaps, err := st.ListSnapshots(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, id, snaps[0].ID)
}

func TestFilesystemStore_LayoutOnDisk(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	st, err := NewFilesystemStore(root)
	require.NoError(t, err)

	id, err := st.CreateSnapshot(ctx, "room-1", types.SnapshotMeta{Name: "v1", CreatedBy: "alice"}, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, st.UpdateRoomSettings(ctx, "room-1", types.DefaultRoomSettings()))

	assert.FileExists(t, filepath.Join(root, "room-1", "snapshots", string(id)))
	assert.FileExists(t, filepath.Join(root, "room-1", "settings.json"))

	require.NoError(t, st.DeleteRoom(ctx, "room-1"))
	assert.NoDirExists(t, filepath.Join(root, "room-1"))
}
