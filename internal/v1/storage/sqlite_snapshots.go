package storage

import (
	"context"
	"database/sql"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

const snapshotsSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	thumbnail TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	data BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS snapshots_room_idx ON snapshots(room_id);

CREATE INDEX IF NOT EXISTS snapshots_room_created_idx ON snapshots(room_id, created_at);
`

const insertSnapshotSQL = `
INSERT INTO snapshots (id, room_id, name, description, thumbnail, created_by, created_at, data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const selectSnapshotSQL = `
SELECT id, room_id, name, description, thumbnail, created_by, created_at, data FROM snapshots
WHERE id = $1
`

const selectSnapshotsByRoomSQL = `
SELECT id, room_id, name, description, thumbnail, created_by, created_at FROM snapshots
WHERE room_id = $1
ORDER BY created_at DESC, id DESC
`

const deleteSnapshotSQL = `
DELETE FROM snapshots WHERE id = $1
`

const updateSnapshotMetaSQL = `
UPDATE snapshots SET name = $1, description = $2 WHERE id = $3
`

const updateSnapshotDataSQL = `
UPDATE snapshots SET data = $1, created_at = $2 WHERE id = $3
`

const selectAutosaveIDSQL = `
SELECT id FROM snapshots WHERE room_id = $1 AND created_by = $2 LIMIT 1
`

const countManualSnapshotsSQL = `
SELECT COUNT(*) FROM snapshots WHERE room_id = $1 AND created_by != $2
`

const selectEvictableSnapshotsSQL = `
SELECT id FROM snapshots
WHERE room_id = $1 AND created_by != $2
ORDER BY created_at ASC, id ASC
LIMIT $3
`

const deleteSnapshotsByRoomSQL = `
DELETE FROM snapshots WHERE room_id = $1
`

type snapshotStatements struct {
	insertStmt          *sql.Stmt
	selectStmt          *sql.Stmt
	selectByRoomStmt    *sql.Stmt
	deleteStmt          *sql.Stmt
	updateMetaStmt      *sql.Stmt
	updateDataStmt      *sql.Stmt
	selectAutosaveStmt  *sql.Stmt
	countManualStmt     *sql.Stmt
	selectEvictableStmt *sql.Stmt
	deleteByRoomStmt    *sql.Stmt
}

func prepareSnapshotsTable(db *sql.DB) (*snapshotStatements, error) {
	s := &snapshotStatements{}
	if _, err := db.Exec(snapshotsSchema); err != nil {
		return nil, err
	}
	return s, statementList{
		{&s.insertStmt, insertSnapshotSQL},
		{&s.selectStmt, selectSnapshotSQL},
		{&s.selectByRoomStmt, selectSnapshotsByRoomSQL},
		{&s.deleteStmt, deleteSnapshotSQL},
		{&s.updateMetaStmt, updateSnapshotMetaSQL},
		{&s.updateDataStmt, updateSnapshotDataSQL},
		{&s.selectAutosaveStmt, selectAutosaveIDSQL},
		{&s.countManualStmt, countManualSnapshotsSQL},
		{&s.selectEvictableStmt, selectEvictableSnapshotsSQL},
		{&s.deleteByRoomStmt, deleteSnapshotsByRoomSQL},
	}.prepare(db)
}

func (s *snapshotStatements) insertSnapshot(ctx context.Context, txn *sql.Tx, snap types.Snapshot) error {
	stmt := txStmt(txn, s.insertStmt)
	_, err := stmt.ExecContext(ctx,
		string(snap.ID), string(snap.RoomID), snap.Name, snap.Description,
		snap.Thumbnail, snap.CreatedBy, snap.CreatedAt, snap.Data,
	)
	return err
}

func (s *snapshotStatements) selectSnapshot(ctx context.Context, txn *sql.Tx, id types.SnapshotIDType) (*types.Snapshot, error) {
	stmt := txStmt(txn, s.selectStmt)
	var snap types.Snapshot
	err := stmt.QueryRowContext(ctx, string(id)).Scan(
		&snap.ID, &snap.RoomID, &snap.Name, &snap.Description,
		&snap.Thumbnail, &snap.CreatedBy, &snap.CreatedAt, &snap.Data,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *snapshotStatements) selectSnapshotsByRoom(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType) ([]types.Snapshot, error) {
	stmt := txStmt(txn, s.selectByRoomStmt)
	rows, err := stmt.QueryContext(ctx, string(roomID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Snapshot{}
	for rows.Next() {
		var snap types.Snapshot
		if err := rows.Scan(
			&snap.ID, &snap.RoomID, &snap.Name, &snap.Description,
			&snap.Thumbnail, &snap.CreatedBy, &snap.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *snapshotStatements) deleteSnapshot(ctx context.Context, txn *sql.Tx, id types.SnapshotIDType) error {
	stmt := txStmt(txn, s.deleteStmt)
	res, err := stmt.ExecContext(ctx, string(id))
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *snapshotStatements) updateSnapshotMeta(ctx context.Context, txn *sql.Tx, id types.SnapshotIDType, name, description string) error {
	stmt := txStmt(txn, s.updateMetaStmt)
	res, err := stmt.ExecContext(ctx, name, description, string(id))
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *snapshotStatements) updateSnapshotData(ctx context.Context, txn *sql.Tx, id types.SnapshotIDType, data []byte, createdAt int64) error {
	stmt := txStmt(txn, s.updateDataStmt)
	_, err := stmt.ExecContext(ctx, data, createdAt, string(id))
	return err
}

func (s *snapshotStatements) selectAutosaveID(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType) (types.SnapshotIDType, error) {
	stmt := txStmt(txn, s.selectAutosaveStmt)
	var id string
	err := stmt.QueryRowContext(ctx, string(roomID), types.AutosaveCreatedBy).Scan(&id)
	if err != nil {
		return "", err
	}
	return types.SnapshotIDType(id), nil
}

func (s *snapshotStatements) countManualSnapshots(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType) (int, error) {
	stmt := txStmt(txn, s.countManualStmt)
	var count int
	err := stmt.QueryRowContext(ctx, string(roomID), types.AutosaveCreatedBy).Scan(&count)
	return count, err
}

func (s *snapshotStatements) selectEvictableSnapshots(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType, limit int) ([]types.SnapshotIDType, error) {
	stmt := txStmt(txn, s.selectEvictableStmt)
	rows, err := stmt.QueryContext(ctx, string(roomID), types.AutosaveCreatedBy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.SnapshotIDType
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.SnapshotIDType(id))
	}
	return ids, rows.Err()
}

func (s *snapshotStatements) deleteSnapshotsByRoom(ctx context.Context, txn *sql.Tx, roomID types.RoomIDType) error {
	stmt := txStmt(txn, s.deleteByRoomStmt)
	_, err := stmt.ExecContext(ctx, string(roomID))
	return err
}
