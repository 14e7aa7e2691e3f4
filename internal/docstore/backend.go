package docstore

import (
	"context"
	"fmt"
	"time"
)

// RawDoc is a document as returned by a Backend. Data is nil when the
// document does not exist.
type RawDoc struct {
	Key        Key
	Data       Data
	CreateTime time.Time
	UpdateTime time.Time
}

// Exists reports whether the document was found.
func (d RawDoc) Exists() bool { return d.Data != nil }

// Op is a query filter operator.
type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpIn           Op = "in"
)

// Valid reports whether op is a supported operator.
func (op Op) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn:
		return true
	}
	return false
}

// Filter restricts a query to documents whose Field satisfies Op against Value.
// Documents missing the field never match. For OpIn, Value is a []any.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Direction orders query results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Order sorts query results by Field. Documents missing the field are excluded.
type Order struct {
	Field     string
	Direction Direction
}

// RawQuery selects documents from one collection path, or from every
// collection whose last segment equals Collection when Group is set.
// Results are ordered by Orders, then by document path.
type RawQuery struct {
	Collection string
	Group      bool
	Filters    []Filter
	Orders     []Order
	Limit      int
}

// WriteKind is the kind of a buffered write.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return fmt.Sprintf("write(%d)", int(k))
	}
}

// Write is one buffered mutation. Set replaces the document (or merges its
// top-level fields when Merge is true); Update merges top-level fields into
// an existing document and fails with ErrNotFound otherwise; Delete removes
// the document if present. Data may contain ServerTimestamp sentinels.
type Write struct {
	Kind  WriteKind
	Key   Key
	Data  Data
	Merge bool
}

// WriteResult reports the commit time of one write.
type WriteResult struct {
	Key        Key
	UpdateTime time.Time
}

// Backend is a storage engine for raw documents.
//
// Commit applies writes atomically: either all of them or none. An Update
// targeting a missing document fails the whole commit with an error wrapping
// ErrNotFound.
type Backend interface {
	Lookup(ctx context.Context, keys []Key) ([]RawDoc, error)
	Query(ctx context.Context, q RawQuery) ([]RawDoc, error)
	Begin(ctx context.Context) (BackendTx, error)
	Commit(ctx context.Context, writes []Write) ([]WriteResult, error)
	Close() error
}

// BackendTx is a snapshot-consistent transaction. Every read observes the
// same snapshot. Commit fails with an error wrapping ErrTransactionConflict
// when another writer changed what the transaction read.
type BackendTx interface {
	Lookup(ctx context.Context, keys []Key) ([]RawDoc, error)
	Query(ctx context.Context, q RawQuery) ([]RawDoc, error)
	Commit(ctx context.Context, writes []Write) ([]WriteResult, error)
	Rollback(ctx context.Context) error
}

// ApplyWrite computes the document produced by w on top of existing, which
// is nil for a missing document. It returns nil data for deletions.
func ApplyWrite(existing Data, w Write, now time.Time) (Data, error) {
	data := ResolveServerTimestamps(w.Data, now)
	switch w.Kind {
	case WriteSet:
		if w.Merge && existing != nil {
			return MergeData(existing, data), nil
		}
		if data == nil {
			data = Data{}
		}
		return data, nil
	case WriteUpdate:
		if existing == nil {
			return nil, fmt.Errorf("update %s: %w", w.Key.Path(), ErrNotFound)
		}
		return MergeData(existing, data), nil
	case WriteDelete:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown write kind %d", int(w.Kind))
	}
}
