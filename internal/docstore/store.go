package docstore

import (
	"context"
	"errors"
	"fmt"
)

// Store is the entry point to a document database.
type Store struct {
	backend     Backend
	maxAttempts int
	newID       func() string
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets how many times a conflicting transaction body runs.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New wraps a backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:     backend,
		maxAttempts: DefaultMaxAttempts,
		newID:       NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// AllocateID returns a document id without touching the database, so a
// caller can address a document before the write that creates it commits.
func (s *Store) AllocateID() string {
	return s.newID()
}

// Batch starts an empty write batch.
func (s *Store) Batch() *Batch {
	return &Batch{store: s}
}

// RunTransaction runs fn inside a snapshot-consistent transaction and commits
// its writes atomically.
//
// fn may run more than once: when the commit detects a conflicting write the
// whole body is retried, up to the configured attempt count. fn must not
// have side effects outside tx. An error returned by fn rolls the
// transaction back and is returned wrapped in ErrTransactionAborted.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.runAttempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransactionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction gave up after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Store) runAttempt(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	btx, err := s.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{ctx: ctx, btx: btx, reads: make(map[string]bool)}

	if err := fn(ctx, tx); err != nil {
		_ = btx.Rollback(ctx)
		if errors.Is(err, ErrTransactionConflict) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransactionAborted, err)
	}
	if _, err := btx.Commit(ctx, tx.writes); err != nil {
		_ = btx.Rollback(ctx)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Writers
// --------------------------------------------------------------------------

// Writer buffers mutations. *Tx and *Batch are the only implementations.
type Writer interface {
	enqueue(w Write) error
}

// Tx is an open transaction. Reads must come before the first write.
type Tx struct {
	ctx    context.Context
	btx    BackendTx
	writes []Write
	reads  map[string]bool // document path -> existed when read
}

func (tx *Tx) lookup(keys []Key) ([]RawDoc, error) {
	if len(tx.writes) > 0 {
		return nil, ErrReadAfterWrite
	}
	docs, err := tx.btx.Lookup(tx.ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		tx.reads[d.Key.Path()] = d.Exists()
	}
	return docs, nil
}

func (tx *Tx) query(q RawQuery) ([]RawDoc, error) {
	if len(tx.writes) > 0 {
		return nil, ErrReadAfterWrite
	}
	docs, err := tx.btx.Query(tx.ctx, q)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		tx.reads[d.Key.Path()] = true
	}
	return docs, nil
}

func (tx *Tx) enqueue(w Write) error {
	if w.Kind == WriteUpdate {
		if exists, read := tx.reads[w.Key.Path()]; read && !exists {
			return fmt.Errorf("update %s: %w", w.Key.Path(), ErrNotFound)
		}
	}
	tx.writes = append(tx.writes, w)
	return nil
}

// Batch is a group of up to MaxBatchWrites writes committed atomically.
// Separate batches are independent: a failed commit never rolls back a
// batch committed earlier.
type Batch struct {
	store     *Store
	writes    []Write
	committed bool
}

func (b *Batch) enqueue(w Write) error {
	if b.committed {
		return ErrBatchCommitted
	}
	if len(b.writes) >= MaxBatchWrites {
		return fmt.Errorf("%w: %d operations", ErrBatchLimit, MaxBatchWrites)
	}
	b.writes = append(b.writes, w)
	return nil
}

// Len returns the number of buffered writes.
func (b *Batch) Len() int { return len(b.writes) }

// Commit applies the buffered writes. On failure none of them are
// guaranteed to be applied.
func (b *Batch) Commit(ctx context.Context) ([]WriteResult, error) {
	if b.committed {
		return nil, ErrBatchCommitted
	}
	b.committed = true
	if len(b.writes) == 0 {
		return nil, nil
	}
	results, err := b.store.backend.Commit(ctx, b.writes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchCommit, err)
	}
	return results, nil
}
