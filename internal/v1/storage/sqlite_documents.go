package storage

import (
	"context"
	"database/sql"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
`

const insertDocumentSQL = `
INSERT INTO documents (id, data) VALUES ($1, $2)
`

const selectDocumentSQL = `
SELECT data FROM documents WHERE id = $1
`

type documentStatements struct {
	insertStmt *sql.Stmt
	selectStmt *sql.Stmt
}

func prepareDocumentsTable(db *sql.DB) (*documentStatements, error) {
	s := &documentStatements{}
	if _, err := db.Exec(documentsSchema); err != nil {
		return nil, err
	}
	return s, statementList{
		{&s.insertStmt, insertDocumentSQL},
		{&s.selectStmt, selectDocumentSQL},
	}.prepare(db)
}

func (s *documentStatements) insertDocument(ctx context.Context, txn *sql.Tx, id string, data []byte) error {
	stmt := txStmt(txn, s.insertStmt)
	_, err := stmt.ExecContext(ctx, id, data)
	return err
}

func (s *documentStatements) selectDocument(ctx context.Context, txn *sql.Tx, id string) ([]byte, error) {
	stmt := txStmt(txn, s.selectStmt)
	var data []byte
	err := stmt.QueryRowContext(ctx, id).Scan(&data)
	if err != nil {
		return nil, err
	}
	return data, nil
}
