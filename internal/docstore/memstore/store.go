// Package memstore provides an in-memory docstore backend used by tests and
// ephemeral environments.
//
// Transactions read from a copy of the state taken at Begin and validate
// what they read at commit: every looked-up document and every query result
// must be unchanged, otherwise the commit fails with
// docstore.ErrTransactionConflict and the caller retries.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

var _ docstore.Backend = (*Store)(nil)

type document struct {
	key     docstore.Key
	data    docstore.Data
	version int64
	created time.Time
	updated time.Time
}

func (d document) raw() docstore.RawDoc {
	return docstore.RawDoc{
		Key:        d.key,
		Data:       docstore.CloneData(d.data),
		CreateTime: d.created,
		UpdateTime: d.updated,
	}
}

// CommitHook runs with the store locked before writes are applied. A non-nil
// error fails the commit without applying anything.
type CommitHook func(writes []docstore.Write, inTx bool) error

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the commit clock.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.nowFn = fn }
}

// WithCommitHook installs a hook called on every commit.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) { s.hook = h }
}

// Store keeps documents in a map keyed by document path.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]document
	version int64
	nowFn   func() time.Time
	hook    CommitHook
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:  make(map[string]document),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns one RawDoc per key, in key order.
func (s *Store) Lookup(_ context.Context, keys []docstore.Key) ([]docstore.RawDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.docs, keys), nil
}

// Query evaluates q against the current state.
func (s *Store) Query(_ context.Context, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, err := runQuery(s.docs, q)
	if err != nil {
		return nil, err
	}
	return raws(docs), nil
}

// Begin snapshots the current state.
func (s *Store) Begin(_ context.Context) (docstore.BackendTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &tx{
		store:    s,
		snapshot: maps.Clone(s.docs),
		versions: make(map[string]int64),
	}, nil
}

// Commit applies writes atomically.
func (s *Store) Commit(_ context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hook != nil {
		if err := s.hook(writes, false); err != nil {
			return nil, err
		}
	}
	return s.applyLocked(writes)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Paths returns every stored document path, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.docs))
}

// applyLocked stages every write before touching the live map so a failing
// write leaves the state untouched.
func (s *Store) applyLocked(writes []docstore.Write) ([]docstore.WriteResult, error) {
	now := s.nowFn()
	staged := make(map[string]*document, len(writes))
	current := func(path string) (document, bool) {
		if d, ok := staged[path]; ok {
			if d == nil {
				return document{}, false
			}
			return *d, true
		}
		d, ok := s.docs[path]
		return d, ok
	}

	version := s.version
	results := make([]docstore.WriteResult, 0, len(writes))
	for _, w := range writes {
		path := w.Key.Path()
		existing, ok := current(path)
		var base docstore.Data
		if ok {
			base = existing.data
		}
		data, err := docstore.ApplyWrite(base, w, now)
		if err != nil {
			return nil, err
		}
		if data == nil {
			staged[path] = nil
		} else {
			version++
			d := document{key: w.Key, data: data, version: version, created: now, updated: now}
			if ok {
				d.created = existing.created
			}
			staged[path] = &d
		}
		results = append(results, docstore.WriteResult{Key: w.Key, UpdateTime: now})
	}

	for path, d := range staged {
		if d == nil {
			delete(s.docs, path)
			continue
		}
		s.docs[path] = *d
	}
	s.version = version
	return results, nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

type queryRead struct {
	q      docstore.RawQuery
	result []versioned
}

type versioned struct {
	path    string
	version int64
}

type tx struct {
	store    *Store
	snapshot map[string]document
	versions map[string]int64 // path -> version read, 0 when missing
	queries  []queryRead
	done     bool
}

func (t *tx) Lookup(_ context.Context, keys []docstore.Key) ([]docstore.RawDoc, error) {
	if t.done {
		return nil, fmt.Errorf("transaction already finished")
	}
	for _, k := range keys {
		t.versions[k.Path()] = t.snapshot[k.Path()].version
	}
	return lookup(t.snapshot, keys), nil
}

func (t *tx) Query(_ context.Context, q docstore.RawQuery) ([]docstore.RawDoc, error) {
	if t.done {
		return nil, fmt.Errorf("transaction already finished")
	}
	docs, err := runQuery(t.snapshot, q)
	if err != nil {
		return nil, err
	}
	t.queries = append(t.queries, queryRead{q: q, result: versionsOf(docs)})
	return raws(docs), nil
}

func (t *tx) Commit(_ context.Context, writes []docstore.Write) ([]docstore.WriteResult, error) {
	if t.done {
		return nil, fmt.Errorf("transaction already finished")
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.validateLocked(); err != nil {
		return nil, err
	}
	if s.hook != nil {
		if err := s.hook(writes, true); err != nil {
			return nil, err
		}
	}
	return s.applyLocked(writes)
}

func (t *tx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}

func (t *tx) validateLocked() error {
	live := t.store.docs
	for path, seen := range t.versions {
		if live[path].version != seen {
			return fmt.Errorf("%w: %s changed since read", docstore.ErrTransactionConflict, path)
		}
	}
	for _, qr := range t.queries {
		docs, err := runQuery(live, qr.q)
		if err != nil {
			return err
		}
		if !slices.Equal(versionsOf(docs), qr.result) {
			return fmt.Errorf("%w: query on %s changed since read", docstore.ErrTransactionConflict, qr.q.Collection)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func lookup(docs map[string]document, keys []docstore.Key) []docstore.RawDoc {
	out := make([]docstore.RawDoc, 0, len(keys))
	for _, k := range keys {
		d, ok := docs[k.Path()]
		if !ok {
			out = append(out, docstore.RawDoc{Key: k})
			continue
		}
		out = append(out, d.raw())
	}
	return out
}

func raws(docs []document) []docstore.RawDoc {
	out := make([]docstore.RawDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.raw())
	}
	return out
}

func versionsOf(docs []document) []versioned {
	out := make([]versioned, 0, len(docs))
	for _, d := range docs {
		out = append(out, versioned{path: d.key.Path(), version: d.version})
	}
	return out
}
