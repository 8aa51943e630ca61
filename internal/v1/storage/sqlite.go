package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// SQLiteStore persists everything in a single embedded database. Cap
// enforcement runs evict-and-insert inside one transaction so a crash
// can never leave the room over its limit with the new row missing.
type SQLiteStore struct {
	db        *sql.DB
	snapshots *snapshotStatements
	settings  *settingsStatements
	documents *documentStatements
	now       func() int64
}

// statementList pairs prepared statement targets with their SQL.
type statementList []struct {
	statement **sql.Stmt
	sql       string
}

func (list statementList) prepare(db *sql.DB) (err error) {
	for _, entry := range list {
		if *entry.statement, err = db.Prepare(entry.sql); err != nil {
			return
		}
	}
	return
}

// txStmt resolves a prepared statement against the given transaction.
func txStmt(txn *sql.Tx, stmt *sql.Stmt) *sql.Stmt {
	if txn != nil {
		return txn.Stmt(stmt)
	}
	return stmt
}

// NewSQLiteStore opens (creating if needed) the database at dsn and
// prepares all statements.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: nowMillis}
	if store.snapshots, err = prepareSnapshotsTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare snapshots table: %w", err)
	}
	if store.settings, err = prepareRoomSettingsTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare room_settings table: %w", err)
	}
	if store.documents, err = prepareDocumentsTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare documents table: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) withTransaction(ctx context.Context, fn func(txn *sql.Tx) error) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

func mapNoRows(err error, entity string, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", entity, id, types.ErrNotFound)
	}
	return err
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, roomID types.RoomIDType, meta types.SnapshotMeta, data []byte) (types.SnapshotIDType, error) {
	if err := validateCreateMeta(meta); err != nil {
		return "", err
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

	err := s.withTransaction(ctx, func(txn *sql.Tx) error {
		settings, err := s.settings.selectRoomSettings(ctx, txn, roomID)
		if err != nil {
			return err
		}
		count, err := s.snapshots.countManualSnapshots(ctx, txn, roomID)
		if err != nil {
			return err
		}
		if evict := count + 1 - settings.MaxSnapshots; evict > 0 {
			victims, err := s.snapshots.selectEvictableSnapshots(ctx, txn, roomID, evict)
			if err != nil {
				return err
			}
			for _, victim := range victims {
				if err := s.snapshots.deleteSnapshot(ctx, txn, victim); err != nil {
					return err
				}
			}
		}
		return s.snapshots.insertSnapshot(ctx, txn, snap)
	})
	if err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (s *SQLiteStore) UpsertAutosaveSnapshot(ctx context.Context, roomID types.RoomIDType, data []byte) (types.SnapshotIDType, error) {
	var id types.SnapshotIDType
	err := s.withTransaction(ctx, func(txn *sql.Tx) error {
		existing, err := s.snapshots.selectAutosaveID(ctx, txn, roomID)
		if err == nil {
			id = existing
			return s.snapshots.updateSnapshotData(ctx, txn, existing, data, s.now())
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		snap := types.Snapshot{
			ID:        newSnapshotID(),
			RoomID:    roomID,
			Name:      "Autosave",
			CreatedBy: types.AutosaveCreatedBy,
			CreatedAt: s.now(),
			Data:      data,
		}
		id = snap.ID
		return s.snapshots.insertSnapshot(ctx, txn, snap)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, roomID types.RoomIDType) ([]types.Snapshot, error) {
	return s.snapshots.selectSnapshotsByRoom(ctx, nil, roomID)
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id types.SnapshotIDType) (*types.Snapshot, error) {
	snap, err := s.snapshots.selectSnapshot(ctx, nil, id)
	if err != nil {
		return nil, mapNoRows(err, "snapshot", string(id))
	}
	return snap, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id types.SnapshotIDType) error {
	return mapNoRows(s.snapshots.deleteSnapshot(ctx, nil, id), "snapshot", string(id))
}

func (s *SQLiteStore) UpdateSnapshotMetadata(ctx context.Context, id types.SnapshotIDType, name, description string) error {
	return mapNoRows(s.snapshots.updateSnapshotMeta(ctx, nil, id, name, description), "snapshot", string(id))
}

func (s *SQLiteStore) GetRoomSettings(ctx context.Context, roomID types.RoomIDType) (types.RoomSettings, error) {
	return s.settings.selectRoomSettings(ctx, nil, roomID)
}

func (s *SQLiteStore) UpdateRoomSettings(ctx context.Context, roomID types.RoomIDType, settings types.RoomSettings) error {
	return s.settings.upsertRoomSettings(ctx, nil, roomID, settings.Normalized())
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID types.RoomIDType) error {
	return s.withTransaction(ctx, func(txn *sql.Tx) error {
		if err := s.snapshots.deleteSnapshotsByRoom(ctx, txn, roomID); err != nil {
			return err
		}
		return s.settings.deleteRoomSettings(ctx, txn, roomID)
	})
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, data []byte) (string, error) {
	id := newDocumentID()
	if err := s.documents.insertDocument(ctx, nil, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	data, err := s.documents.selectDocument(ctx, nil, id)
	if err != nil {
		return nil, mapNoRows(err, "document", id)
	}
	return data, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
