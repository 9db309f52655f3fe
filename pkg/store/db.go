// Package store keeps the edit history of shared buffers in a sqlite
// database, so that a restarted host can rebuild its buffers and still
// resolve anchors handed out before the restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/text"
)

const (
	Pragmas = `?cache=shared&mode=memory`
	// DefaultFilename keeps the database in memory.
	DefaultFilename = `file:lspbridge.db` + Pragmas
)

const (
	// SqliteDriver is the name of the cgo SQL driver module.
	SqliteDriver = `sqlite3`
	// PureDriver is the name of the pure Go SQL driver module.
	PureDriver = `sqlite`
)

// CreateDBFile creates an empty database file at the given name.
// Returns true if the database needs to be initialized.
func CreateDBFile(dbFilename string) (bool, error) {
	if dbFilename == DefaultFilename || strings.HasSuffix(dbFilename, Pragmas) {
		return true, nil
	}
	_, err := os.Stat(dbFilename)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("unknown error: %v: %w", dbFilename, err)
	}
	// No such file, create it and set for schema creation.
	f, err := os.Create(dbFilename)
	if err != nil {
		return false, fmt.Errorf("could not create: %v: %w", dbFilename, err)
	}
	return true, f.Close()
}

// CreateSchema creates the tables, if they are not there yet.
func CreateSchema(db *sql.DB) error {
	const createStatementStr = `
		BEGIN TRANSACTION;

		-- Each shared buffer, with the text it started from.
		CREATE TABLE IF NOT EXISTS
			Buffers (
				ProjectId	INTEGER NOT NULL,
				Id			INTEGER NOT NULL,
				Path		TEXT NOT NULL,
				BaseText	TEXT NOT NULL,

				PRIMARY KEY(ProjectId, Id)
			);

		-- Every edit ever applied to a buffer, in the order it was applied.
		-- Payload is a wire encoded Operation.
		CREATE TABLE IF NOT EXISTS
			Operations (
				Seq			INTEGER PRIMARY KEY AUTOINCREMENT,
				ProjectId	INTEGER NOT NULL,
				BufferId	INTEGER NOT NULL,
				Replica		INTEGER NOT NULL,
				Lamport		INTEGER NOT NULL,
				Payload		BLOB NOT NULL
			);

		-- An operation is stored once, however often it is received.
		CREATE UNIQUE INDEX IF NOT EXISTS
			OperationsByBuffer
		ON
			Operations(
				ProjectId,
				BufferId,
				Replica,
				Lamport
			);

		COMMIT;`
	if _, err := db.Exec(createStatementStr); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}
	return nil
}

// Buffer is a stored buffer, without its history.
type Buffer struct {
	ID       text.BufferID
	Path     string
	BaseText string
}

// SaveBuffer records a buffer. Saving a buffer again replaces its path and
// base text, and keeps its history.
func SaveBuffer(ctx context.Context, db *sql.DB, projectID uint64, b Buffer) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO Buffers(ProjectId, Id, Path, BaseText) VALUES (?, ?, ?, ?)
		ON CONFLICT(ProjectId, Id)
		DO UPDATE SET Path = excluded.Path, BaseText = excluded.BaseText
		;`, projectID, uint64(b.ID), b.Path, b.BaseText)
	if err != nil {
		return fmt.Errorf("SaveBuffer: project=%v, buffer=%v: %w", projectID, b.ID, err)
	}
	return nil
}

// AppendOperations adds operations to the history of a buffer, in one
// transaction. Operations already stored are skipped.
func AppendOperations(ctx context.Context, db *sql.DB, projectID uint64, id text.BufferID, ops []text.Operation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, op := range ops {
		ts := op.Timestamp()
		payload := proto.Marshal(proto.SerializeOperation(op))
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO Operations(ProjectId, BufferId, Replica, Lamport, Payload)
			VALUES (?, ?, ?, ?, ?)
			;`, projectID, uint64(id), ts.Replica, ts.Value, payload); err != nil {
			return fmt.Errorf("AppendOperations: project=%v, buffer=%v, op=%v: %w", projectID, id, op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("AppendOperations: could not commit: %w", err)
	}
	glog.V(3).Infof("AppendOperations(project=%v, buffer=%v): %d ops", projectID, id, len(ops))
	return nil
}

// GetBuffers returns all buffers of a project, ordered by id.
func GetBuffers(ctx context.Context, db *sql.DB, projectID uint64) ([]Buffer, error) {
	r, err := db.QueryContext(ctx, `
		SELECT		Id, Path, BaseText
		FROM		Buffers
		WHERE		ProjectId = ?
		ORDER BY	Id
	;`, projectID)
	if err != nil {
		return nil, fmt.Errorf("could not query: %w", err)
	}
	defer r.Close()

	ret := []Buffer{}
	for r.Next() {
		var (
			b  Buffer
			id uint64
		)
		if err := r.Scan(&id, &b.Path, &b.BaseText); err != nil {
			return nil, fmt.Errorf("could not scan: %w", err)
		}
		b.ID = text.BufferID(id)
		ret = append(ret, b)
	}
	glog.V(2).Infof("GetBuffers(project=%v): %+v", projectID, ret)
	return ret, r.Err()
}

// GetOperations returns the history of a buffer, in the order it was
// stored.
func GetOperations(ctx context.Context, db *sql.DB, projectID uint64, id text.BufferID) ([]text.Operation, error) {
	r, err := db.QueryContext(ctx, `
		SELECT		Payload
		FROM		Operations
		WHERE
			ProjectId = ?
				AND
			BufferId = ?
		ORDER BY	Seq
	;`, projectID, uint64(id))
	if err != nil {
		return nil, fmt.Errorf("could not query: %w", err)
	}
	defer r.Close()

	ret := []text.Operation{}
	for r.Next() {
		var payload []byte
		if err := r.Scan(&payload); err != nil {
			return nil, fmt.Errorf("could not scan: %w", err)
		}
		var m proto.Operation
		if err := proto.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("GetOperations: buffer=%v: %w", id, err)
		}
		op, err := proto.DeserializeOperation(&m)
		if err != nil {
			return nil, fmt.Errorf("GetOperations: buffer=%v: %w", id, err)
		}
		ret = append(ret, op)
	}
	return ret, r.Err()
}

// DeleteBuffer forgets a buffer and its history. The buffer does not need
// to exist.
func DeleteBuffer(ctx context.Context, db *sql.DB, projectID uint64, id text.BufferID) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM	Operations
		WHERE		ProjectId = ? AND BufferId = ?
	;`, projectID, uint64(id)); err != nil {
		return fmt.Errorf("could not delete operations: project=%v, buffer=%v: %w", projectID, id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM	Buffers
		WHERE		ProjectId = ? AND Id = ?
	;`, projectID, uint64(id)); err != nil {
		return fmt.Errorf("could not delete buffer: project=%v, buffer=%v: %w", projectID, id, err)
	}
	return tx.Commit()
}

// Journal records the buffers of one project.
type Journal struct {
	db        *sql.DB
	projectID uint64
}

func NewJournal(db *sql.DB, projectID uint64) *Journal {
	return &Journal{db: db, projectID: projectID}
}

func (j *Journal) SaveBuffer(ctx context.Context, id text.BufferID, path, base string) error {
	return SaveBuffer(ctx, j.db, j.projectID, Buffer{ID: id, Path: path, BaseText: base})
}

func (j *Journal) AppendOperations(ctx context.Context, id text.BufferID, ops []text.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return AppendOperations(ctx, j.db, j.projectID, id, ops)
}

func (j *Journal) DeleteBuffer(ctx context.Context, id text.BufferID) error {
	return DeleteBuffer(ctx, j.db, j.projectID, id)
}

// Restored is a buffer read back from the journal.
type Restored struct {
	Buffer
	Operations []text.Operation
}

// Restore reads back every buffer of the project.
func (j *Journal) Restore(ctx context.Context) ([]Restored, error) {
	bufs, err := GetBuffers(ctx, j.db, j.projectID)
	if err != nil {
		return nil, err
	}
	var ret []Restored
	for _, b := range bufs {
		ops, err := GetOperations(ctx, j.db, j.projectID, b.ID)
		if err != nil {
			return nil, err
		}
		ret = append(ret, Restored{Buffer: b, Operations: ops})
	}
	return ret, nil
}
