// Package pgstore stores docstore documents in a single Postgres table with
// JSONB payloads.
//
// Transactions run at SERIALIZABLE; serialization failures and deadlocks
// surface as docstore.ErrTransactionConflict so the store retries the body.
// Writes of one commit are pipelined as a pgx.Batch inside one transaction.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

var _ docstore.Backend = (*Store)(nil)

// conn is the subset of pgxpool.Pool and pgx.Tx the store needs.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is a docstore.Backend over a pgx pool. The pool is owned by the
// caller.
type Store struct {
	pool  *pgxpool.Pool
	nowFn func() time.Time
}

// New creates the documents table if needed and returns the backend.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{pool: pool, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema applies the documents table DDL.
func EnsureSchema(ctx context.Context, c conn) error {
	for _, stmt := range schema {
		if _, err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply documents schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path          TEXT PRIMARY KEY,
		collection    TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		doc_id        TEXT NOT NULL,
		data          JSONB NOT NULL,
		create_time   TIMESTAMPTZ NOT NULL,
		update_time   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_id_idx ON documents (collection_id)`,
	`CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops)`,
}

// Lookup returns one RawDoc per key, in key order.
func (s *Store) Lookup(ctx context.Context, keys []docstore.Key) ([]docstore.RawDoc, error) {
	return lookup(ctx, s.pool, keys)
}

// Query runs q outside any transaction.
func (s *Store) Query(ctx context.Context, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	return query(ctx, s.pool, q)
}

// Begin opens a SERIALIZABLE transaction.
func (s *Store) Begin(ctx context.Context) (docstore.BackendTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, classify(err)
	}
	return &pgTx{tx: tx, nowFn: s.nowFn}, nil
}

// Commit applies writes in their own transaction.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	var results []docstore.WriteResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		results, err = applyWrites(ctx, tx, writes, s.nowFn())
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return results, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error { return nil }

type pgTx struct {
	tx    pgx.Tx
	nowFn func() time.Time
}

func (t *pgTx) Lookup(ctx context.Context, keys []docstore.Key) ([]docstore.RawDoc, error) {
	docs, err := lookup(ctx, t.tx, keys)
	return docs, classify(err)
}

func (t *pgTx) Query(ctx context.Context, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	docs, err := query(ctx, t.tx, q)
	return docs, classify(err)
}

func (t *pgTx) Commit(ctx context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	results, err := applyWrites(ctx, t.tx, writes, t.nowFn())
	if err != nil {
		_ = t.tx.Rollback(ctx)
		return nil, classify(err)
	}
	if err := t.tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return results, nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

const selectColumns = "SELECT path, data, create_time, update_time FROM documents"

func lookup(ctx context.Context, c conn, keys []docstore.Key) ([]docstore.RawDoc, error) {
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = k.Path()
	}
	rows, err := c.Query(ctx, selectColumns+" WHERE path = ANY($1)", paths)
	if err != nil {
		return nil, fmt.Errorf("lookup documents: %w", err)
	}
	found, err := scanDocs(rows)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]docstore.RawDoc, len(found))
	for _, d := range found {
		byPath[d.Key.Path()] = d
	}
	out := make([]docstore.RawDoc, 0, len(keys))
	for _, k := range keys {
		if d, ok := byPath[k.Path()]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, docstore.RawDoc{Key: k})
	}
	return out, nil
}

func query(ctx context.Context, c conn, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return scanDocs(rows)
}

func scanDocs(rows pgx.Rows) ([]docstore.RawDoc, error) {
	defer rows.Close()
	var out []docstore.RawDoc
	for rows.Next() {
		var (
			path             string
			payload          []byte
			created, updated time.Time
		)
		if err := rows.Scan(&path, &payload, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		key, err := docstore.ParseKey(path)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", path, err)
		}
		data, err := docstore.DecodeJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", path, err)
		}
		out = append(out, docstore.RawDoc{Key: key, Data: data, CreateTime: created, UpdateTime: updated})
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

const (
	insertSQL = `INSERT INTO documents (path, collection, collection_id, doc_id, data, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $6)`
	setSQL   = insertSQL + ` ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, update_time = EXCLUDED.update_time`
	mergeSQL = insertSQL + ` ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, update_time = EXCLUDED.update_time`

	updateSQL = `UPDATE documents SET data = data || $2::jsonb, update_time = $3 WHERE path = $1`
	deleteSQL = `DELETE FROM documents WHERE path = $1`
)

func applyWrites(ctx context.Context, c conn, writes []docstore.Write, now time.Time) ([]docstore.WriteResult, error) {
	if len(writes) == 0 {
		return nil, nil
	}

	b := &pgx.Batch{}
	for _, w := range writes {
		if err := queueWrite(b, w, now); err != nil {
			return nil, err
		}
	}

	br := c.SendBatch(ctx, b)
	results := make([]docstore.WriteResult, 0, len(writes))
	for _, w := range writes {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("%s %s: %w", w.Kind, w.Key.Path(), err)
		}
		if w.Kind == docstore.WriteUpdate && tag.RowsAffected() == 0 {
			_ = br.Close()
			return nil, fmt.Errorf("update %s: %w", w.Key.Path(), docstore.ErrNotFound)
		}
		results = append(results, docstore.WriteResult{Key: w.Key, UpdateTime: now})
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close write batch: %w", err)
	}
	return results, nil
}

func queueWrite(b *pgx.Batch, w docstore.Write, now time.Time) error {
	path := w.Key.Path()
	switch w.Kind {
	case docstore.WriteDelete:
		b.Queue(deleteSQL, path)
		return nil
	case docstore.WriteSet, docstore.WriteUpdate:
	default:
		return fmt.Errorf("unknown write kind %d", int(w.Kind))
	}

	data := docstore.ResolveServerTimestamps(w.Data, now)
	if data == nil {
		data = docstore.Data{}
	}
	payload, err := docstore.EncodeJSON(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if w.Kind == docstore.WriteUpdate {
		b.Queue(updateSQL, path, payload, now)
		return nil
	}
	sql := setSQL
	if w.Merge {
		sql = mergeSQL
	}
	b.Queue(sql, path, w.Key.Collection, w.Key.CollectionID(), w.Key.ID, payload, now)
	return nil
}

// classify maps serialization failures and deadlocks to
// docstore.ErrTransactionConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %w", docstore.ErrTransactionConflict, err)
	}
	return err
}
