package storage

import (
	"context"
	"database/sql"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

const roomSettingsSchema = `
CREATE TABLE IF NOT EXISTS room_settings (
	room_id TEXT PRIMARY KEY,
	max_snapshots INTEGER NOT NULL,
	auto_save_interval INTEGER NOT NULL
);
`

const upsertRoomSettingsSQL = `
INSERT INTO room_settings (room_id, max_snapshots, auto_save_interval)
VALUES ($1, $2, $3)
ON CONFLICT (room_id) DO UPDATE SET max_snapshots = $2, auto_save_interval = $3
`

const selectRoomSettingsSQL = `
SELECT max_snapshots, auto_save_interval FROM room_settings WHERE room_id = $1
`

const deleteRoomSettingsSQL = `
DELETE FROM room_settings WHERE room_id = $1
`

type settingsStatements struct {
	upsertStmt *sql.Stmt
	selectStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

func prepareRoomSettingsTable(db *sql.DB) (*settingsStatements, error) {
	s := &settingsStatements{}
	if _, err := db.Exec(roomSettingsSchema); err != nil {
		return nil, err
	}
	return s, statementList{
		{&s.upsertStmt, upsertRoomSettingsSQL},
		{&s.selectStmt, selectRoomSettingsSQL},
		{&s.deleteStmt, deleteRoomSettingsSQL},
	}.prepare(db)
}

func (s *settingsStatements) upsertRoomSettings(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType, settings types.RoomSettings) error {
	stmt := txStmt(txn, s.upsertStmt)
	_, err := stmt.ExecContext(ctx, string(roomID), settings.MaxSnapshots, settings.AutoSaveInterval)
	return err
}

// selectRoomSettings returns the defaults when no row exists.
func (s *settingsStatements) selectRoomSettings(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType) (types.RoomSettings, error) {
	stmt := txStmt(txn, s.selectStmt)
	var settings types.RoomSettings
	err := stmt.QueryRowContext(ctx, string(roomID)).Scan(&settings.MaxSnapshots, &settings.AutoSaveInterval)
	if err == sql.ErrNoRows {
		return types.DefaultRoomSettings(), nil
	}
	if err != nil {
		return types.RoomSettings{}, err
	}
	return settings, nil
}

func (s *settingsStatements) deleteRoomSettings(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType) error {
	stmt := txStmt(txn, s.deleteStmt)
	_, err := stmt.ExecContext(ctx, string(roomID))
	return err
}
