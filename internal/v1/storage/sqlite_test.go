package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "collab.db")

	st, err := NewSQLiteStore(dsn)
	require.NoError(t, err)

	id, err := st.CreateSnapshot(ctx, "room-1", types.SnapshotMeta{Name: "kept", CreatedBy: "alice"}, []byte("payload"))
	require.NoError(t, err)
	autoID, err := st.UpsertAutosaveSnapshot(ctx, "room-1", []byte("auto"))
	require.NoError(t, err)
	require.NoError(t, st.UpdateRoomSettings(ctx, "room-1", types.RoomSettings{MaxSnapshots: 4, AutoSaveInterval: 90}))
	require.NoError(t, st.Close())

	reopened, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	snap, err := reopened.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "kept", snap.Name)
	assert.Equal(t, []byte("payload"), snap.Data)

	settings, err := reopened.GetRoomSettings(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 4, settings.MaxSnapshots)

	// The autosave row must keep its identity across restarts.
	again, err := reopened.UpsertAutosaveSnapshot(ctx, "room-1", []byte("auto-2"))
	require.NoError(t, err)
	assert.Equal(t, autoID, again)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()

	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	id, err := st.CreateSnapshot(ctx, "room-1", types.SnapshotMeta{Name: "v1", CreatedBy: "alice"}, []byte("x"))
	require.NoError(t, err)

	snap, err := st.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v1", snap.Name)
}

func TestNewSQLiteStore_BadPath(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "missing-dir", "collab.db"))
	assert.Error(t, err)
}
