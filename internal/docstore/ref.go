package docstore

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

// CollectionRef is a typed handle on a collection path.
type CollectionRef[T any] struct {
	store *Store
	path  string
	conv  Converter[T]
}

// Collection returns a handle on a root collection.
func Collection[T any](s *Store, path string, conv Converter[T]) CollectionRef[T] {
	return CollectionRef[T]{store: s, path: path, conv: conv}
}

// SubCollection returns a handle on a collection nested under parent.
func SubCollection[S, P any](parent DocumentRef[P], name string, conv Converter[S]) CollectionRef[S] {
	return CollectionRef[S]{store: parent.coll.store, path: parent.Path() + "/" + name, conv: conv}
}

// CollectionGroup queries every collection whose last path segment is name.
func CollectionGroup[T any](s *Store, name string, conv Converter[T]) Query[T] {
	return Query[T]{
		coll: CollectionRef[T]{store: s, path: name, conv: conv},
		raw:  RawQuery{Collection: name, Group: true},
	}
}

// Path returns the collection path.
func (c CollectionRef[T]) Path() string { return c.path }

// Doc returns a handle on the document with the given id.
func (c CollectionRef[T]) Doc(id string) DocumentRef[T] {
	return DocumentRef[T]{coll: c, id: id}
}

// NewDoc returns a handle on a document with a freshly allocated id.
func (c CollectionRef[T]) NewDoc() DocumentRef[T] {
	return c.Doc(c.store.AllocateID())
}

// Query returns an unfiltered query over the collection.
func (c CollectionRef[T]) Query() Query[T] {
	return Query[T]{coll: c, raw: RawQuery{Collection: c.path}}
}

// Where is shorthand for c.Query().Where.
func (c CollectionRef[T]) Where(field string, op Op, value any) Query[T] {
	return c.Query().Where(field, op, value)
}

// Documents reads every document of the collection.
func (c CollectionRef[T]) Documents(ctx context.Context) (QuerySnapshot[T], error) {
	return c.Query().Documents(ctx)
}

func (c CollectionRef[T]) encode(v T) (Data, error) {
	d, err := c.conv.ToStorage(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s document: %w", c.path, err)
	}
	return d, nil
}

func (c CollectionRef[T]) snapshot(raw RawDoc) (DocumentSnapshot[T], error) {
	ref := DocumentRef[T]{coll: CollectionRef[T]{store: c.store, path: raw.Key.Collection, conv: c.conv}, id: raw.Key.ID}
	snap := DocumentSnapshot[T]{Ref: ref, CreateTime: raw.CreateTime, UpdateTime: raw.UpdateTime}
	if !raw.Exists() {
		return snap, nil
	}
	v, err := c.conv.FromStorage(raw.Data)
	if err != nil {
		return snap, fmt.Errorf("decode %s: %w", raw.Key.Path(), err)
	}
	snap.data = v
	snap.exists = true
	return snap, nil
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

// DocumentRef is a typed handle on one document.
type DocumentRef[T any] struct {
	coll CollectionRef[T]
	id   string
}

// ID returns the document id.
func (d DocumentRef[T]) ID() string { return d.id }

// Key returns the raw document key.
func (d DocumentRef[T]) Key() Key { return Key{Collection: d.coll.path, ID: d.id} }

// Path returns the slash-separated document path.
func (d DocumentRef[T]) Path() string { return d.Key().Path() }

// Parent returns the collection holding the document.
func (d DocumentRef[T]) Parent() CollectionRef[T] { return d.coll }

// Get reads the document outside any transaction.
func (d DocumentRef[T]) Get(ctx context.Context) (DocumentSnapshot[T], error) {
	docs, err := d.coll.store.backend.Lookup(ctx, []Key{d.Key()})
	if err != nil {
		return DocumentSnapshot[T]{}, fmt.Errorf("get %s: %w", d.Path(), err)
	}
	return d.fromLookup(docs)
}

// GetTx reads the document inside tx.
func (d DocumentRef[T]) GetTx(tx *Tx) (DocumentSnapshot[T], error) {
	docs, err := tx.lookup([]Key{d.Key()})
	if err != nil {
		return DocumentSnapshot[T]{}, fmt.Errorf("get %s in transaction: %w", d.Path(), err)
	}
	return d.fromLookup(docs)
}

func (d DocumentRef[T]) fromLookup(docs []RawDoc) (DocumentSnapshot[T], error) {
	if len(docs) != 1 {
		return DocumentSnapshot[T]{}, fmt.Errorf("get %s: backend returned %d documents", d.Path(), len(docs))
	}
	return d.coll.snapshot(docs[0])
}

// Set writes v as the whole document, creating it if needed. With Merge the
// top-level fields of v are overlaid on the existing document instead.
func (d DocumentRef[T]) Set(w Writer, v T, opts ...SetOption) error {
	data, err := d.coll.encode(v)
	if err != nil {
		return err
	}
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return w.enqueue(Write{Kind: WriteSet, Key: d.Key(), Data: data, Merge: o.merge})
}

// Update writes every field of v into an existing document.
func (d DocumentRef[T]) Update(w Writer, v T) error {
	data, err := d.coll.encode(v)
	if err != nil {
		return err
	}
	return w.enqueue(Write{Kind: WriteUpdate, Key: d.Key(), Data: data})
}

// UpdateFields overlays partial onto an existing document.
func (d DocumentRef[T]) UpdateFields(w Writer, partial Data) error {
	return w.enqueue(Write{Kind: WriteUpdate, Key: d.Key(), Data: CloneData(partial)})
}

// Delete removes the document. Deleting a missing document is not an error.
func (d DocumentRef[T]) Delete(w Writer) error {
	return w.enqueue(Write{Kind: WriteDelete, Key: d.Key()})
}

// SetOption tunes DocumentRef.Set.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// Merge makes Set overlay fields instead of replacing the document.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Query is an immutable typed query. Builder methods return copies.
type Query[T any] struct {
	coll CollectionRef[T]
	raw  RawQuery
	err  error
}

// Where adds a filter. For OpIn, value may be any slice of at most
// MaxInValues elements.
func (q Query[T]) Where(field string, op Op, value any) Query[T] {
	out := q.clone()
	if out.err != nil {
		return out
	}
	switch {
	case field == "":
		out.err = fmt.Errorf("%w: empty field name", ErrInvalidQuery)
	case !op.Valid():
		out.err = fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, op)
	case op == OpIn:
		values, ok := toAnySlice(value)
		switch {
		case !ok:
			out.err = fmt.Errorf("%w: in filter on %q needs a slice, got %T", ErrInvalidQuery, field, value)
		case len(values) == 0:
			out.err = fmt.Errorf("%w: in filter on %q has no values", ErrInvalidQuery, field)
		case len(values) > MaxInValues:
			out.err = fmt.Errorf("%w: %d values on %q (max %d)", ErrInLimit, len(values), field, MaxInValues)
		default:
			value = values
		}
	}
	out.raw.Filters = append(out.raw.Filters, Filter{Field: field, Op: op, Value: value})
	return out
}

// OrderBy sorts results by field.
func (q Query[T]) OrderBy(field string, dir Direction) Query[T] {
	out := q.clone()
	out.raw.Orders = append(out.raw.Orders, Order{Field: field, Direction: dir})
	return out
}

// Limit caps the number of results. Zero means no limit.
func (q Query[T]) Limit(n int) Query[T] {
	out := q.clone()
	out.raw.Limit = n
	return out
}

// Raw returns the backend query.
func (q Query[T]) Raw() RawQuery { return q.clone().raw }

func (q Query[T]) clone() Query[T] {
	out := q
	out.raw.Filters = slices.Clone(q.raw.Filters)
	out.raw.Orders = slices.Clone(q.raw.Orders)
	return out
}

// Documents runs the query outside any transaction.
func (q Query[T]) Documents(ctx context.Context) (QuerySnapshot[T], error) {
	if q.err != nil {
		return QuerySnapshot[T]{}, q.err
	}
	docs, err := q.coll.store.backend.Query(ctx, q.raw)
	if err != nil {
		return QuerySnapshot[T]{}, fmt.Errorf("query %s: %w", q.raw.Collection, err)
	}
	return q.snapshot(docs)
}

// DocumentsTx runs the query inside tx.
func (q Query[T]) DocumentsTx(tx *Tx) (QuerySnapshot[T], error) {
	if q.err != nil {
		return QuerySnapshot[T]{}, q.err
	}
	docs, err := tx.query(q.raw)
	if err != nil {
		return QuerySnapshot[T]{}, fmt.Errorf("query %s in transaction: %w", q.raw.Collection, err)
	}
	return q.snapshot(docs)
}

func (q Query[T]) snapshot(docs []RawDoc) (QuerySnapshot[T], error) {
	out := QuerySnapshot[T]{Docs: make([]DocumentSnapshot[T], 0, len(docs))}
	for _, raw := range docs {
		snap, err := q.coll.snapshot(raw)
		if err != nil {
			return QuerySnapshot[T]{}, err
		}
		out.Docs = append(out.Docs, snap)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Snapshot is any read result that can report whether something was found.
type Snapshot interface {
	Exists() bool
}

// Exists normalizes "found" across document and query snapshots.
func Exists(s Snapshot) bool {
	if s == nil {
		return false
	}
	return s.Exists()
}

// DocumentSnapshot is the result of reading one document.
type DocumentSnapshot[T any] struct {
	Ref        DocumentRef[T]
	CreateTime time.Time
	UpdateTime time.Time
	data       T
	exists     bool
}

// Exists reports whether the document was found.
func (s DocumentSnapshot[T]) Exists() bool { return s.exists }

// ID returns the document id.
func (s DocumentSnapshot[T]) ID() string { return s.Ref.ID() }

// Data returns the decoded document, or the zero value if it does not exist.
func (s DocumentSnapshot[T]) Data() T { return s.data }

// QuerySnapshot is the result of a query.
type QuerySnapshot[T any] struct {
	Docs []DocumentSnapshot[T]
}

// Exists reports whether at least one document matched.
func (s QuerySnapshot[T]) Exists() bool {
	for _, d := range s.Docs {
		if d.Exists() {
			return true
		}
	}
	return false
}

// Size returns the number of matching documents.
func (s QuerySnapshot[T]) Size() int { return len(s.Docs) }

// ByID indexes the decoded documents by document id.
func (s QuerySnapshot[T]) ByID() map[string]T {
	out := make(map[string]T, len(s.Docs))
	for _, d := range s.Docs {
		if d.Exists() {
			out[d.ID()] = d.Data()
		}
	}
	return out
}

// Refs returns the references of the matching documents, in result order.
func (s QuerySnapshot[T]) Refs() []DocumentRef[T] {
	out := make([]DocumentRef[T], 0, len(s.Docs))
	for _, d := range s.Docs {
		out = append(out, d.Ref)
	}
	return out
}
