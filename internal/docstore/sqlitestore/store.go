// Package sqlitestore stores docstore documents in a SQLite file using the
// pure-Go modernc.org/sqlite driver and its JSON1 functions.
//
// SQLite serializes writers, so the pool is capped at one connection and
// transactions never observe a conflict.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

var _ docstore.Backend = (*Store)(nil)

// execer is the subset of *sql.DB and *sql.Tx the store needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is a docstore.Backend over a SQLite database.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

// Open opens (or creates) the database at dsn and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply documents schema: %w", err)
		}
	}
	return &Store{db: db, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

var schema = []string{
	`PRAGMA journal_mode = WAL`,
	`PRAGMA busy_timeout = 5000`,
	`CREATE TABLE IF NOT EXISTS documents (
		path          TEXT PRIMARY KEY,
		collection    TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		doc_id        TEXT NOT NULL,
		data          TEXT NOT NULL,
		create_time   TEXT NOT NULL,
		update_time   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_id_idx ON documents (collection_id)`,
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Lookup returns one RawDoc per key, in key order.
func (s *Store) Lookup(ctx context.Context, keys []docstore.Key) ([]docstore.RawDoc, error) {
	return lookup(ctx, s.db, keys)
}

// Query runs q outside any transaction.
func (s *Store) Query(ctx context.Context, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	return query(ctx, s.db, q)
}

// Begin opens a transaction on the single connection.
func (s *Store) Begin(ctx context.Context) (docstore.BackendTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, nowFn: s.nowFn}, nil
}

// Commit applies writes in their own transaction.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	results, err := applyWrites(ctx, tx, writes, s.nowFn())
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit writes: %w", err)
	}
	return results, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx    *sql.Tx
	nowFn func() time.Time
}

func (t *sqliteTx) Lookup(ctx context.Context, keys []docstore.Key) ([]docstore.RawDoc, error) {
	return lookup(ctx, t.tx, keys)
}

func (t *sqliteTx) Query(ctx context.Context, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	return query(ctx, t.tx, q)
}

func (t *sqliteTx) Commit(ctx context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	results, err := applyWrites(ctx, t.tx, writes, t.nowFn())
	if err != nil {
		_ = t.tx.Rollback()
		return nil, err
	}
	if err := t.tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return results, nil
}

func (t *sqliteTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

const selectColumns = "SELECT path, data, create_time, update_time FROM documents"

func lookup(ctx context.Context, e execer, keys []docstore.Key) ([]docstore.RawDoc, error) {
	out := make([]docstore.RawDoc, 0, len(keys))
	for _, k := range keys {
		rows, err := e.QueryContext(ctx, selectColumns+" WHERE path = ?", k.Path())
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", k.Path(), err)
		}
		docs, err := scanDocs(rows)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			out = append(out, docstore.RawDoc{Key: k})
			continue
		}
		out = append(out, docs[0])
	}
	return out, nil
}

func query(ctx context.Context, e execer, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	stmt, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := e.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return scanDocs(rows)
}

func scanDocs(rows *sql.Rows) ([]docstore.RawDoc, error) {
	defer rows.Close()
	var out []docstore.RawDoc
	for rows.Next() {
		var path, payload, created, updated string
		if err := rows.Scan(&path, &payload, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		key, err := docstore.ParseKey(path)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", path, err)
		}
		data, err := docstore.DecodeJSON([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", path, err)
		}
		doc := docstore.RawDoc{Key: key, Data: data}
		doc.CreateTime, _ = time.Parse(time.RFC3339Nano, created)
		doc.UpdateTime, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, doc)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

const (
	insertSQL = `INSERT INTO documents (path, collection, collection_id, doc_id, data, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	setSQL   = insertSQL + ` ON CONFLICT (path) DO UPDATE SET data = excluded.data, update_time = excluded.update_time`
	mergeSQL = insertSQL + ` ON CONFLICT (path) DO UPDATE SET data = json_patch(documents.data, excluded.data), update_time = excluded.update_time`

	updateSQL = `UPDATE documents SET data = json_patch(data, ?), update_time = ? WHERE path = ?`
	deleteSQL = `DELETE FROM documents WHERE path = ?`
)

func applyWrites(ctx context.Context, e execer, writes []docstore.Write, now time.Time) ([]docstore.WriteResult, error) {
	stamp := now.UTC().Format(docstore.TimeLayout)
	results := make([]docstore.WriteResult, 0, len(writes))
	for _, w := range writes {
		if err := applyWrite(ctx, e, w, now, stamp); err != nil {
			return nil, err
		}
		results = append(results, docstore.WriteResult{Key: w.Key, UpdateTime: now})
	}
	return results, nil
}

func applyWrite(ctx context.Context, e execer, w docstore.Write, now time.Time, stamp string) error {
	path := w.Key.Path()
	if w.Kind == docstore.WriteDelete {
		if _, err := e.ExecContext(ctx, deleteSQL, path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		return nil
	}

	data := docstore.ResolveServerTimestamps(w.Data, now)
	if data == nil {
		data = docstore.Data{}
	}
	payload, err := docstore.EncodeJSON(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	switch w.Kind {
	case docstore.WriteUpdate:
		res, err := e.ExecContext(ctx, updateSQL, string(payload), stamp, path)
		if err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update %s: %w", path, docstore.ErrNotFound)
		}
		return nil
	case docstore.WriteSet:
		stmt := setSQL
		if w.Merge {
			stmt = mergeSQL
		}
		_, err := e.ExecContext(ctx, stmt, path, w.Key.Collection, w.Key.CollectionID(), w.Key.ID, string(payload), stamp, stamp)
		if err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown write kind %d", int(w.Kind))
	}
}
