// Package docstore is a typed access layer over a document database.
//
// Documents live in collections addressed by slash-separated paths
// ("video", "video/<id>/view-history"). A Backend stores raw Data maps;
// this package adds typed handles bound to a Converter, snapshot-consistent
// transactions with retry on conflict, and size-bounded write batches.
package docstore

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Limits
// --------------------------------------------------------------------------

const (
	// MaxBatchWrites is the largest number of operations one batch may hold.
	MaxBatchWrites = 500
	// MaxInValues is the largest value list accepted by an "in" filter.
	MaxInValues = 30
	// DefaultMaxAttempts is how many times a transaction body runs before a
	// conflict is reported to the caller.
	DefaultMaxAttempts = 5
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrNotFound            = errors.New("document not found")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrTransactionAborted  = errors.New("transaction aborted")
	ErrReadAfterWrite      = errors.New("transaction reads must precede writes")
	ErrBatchLimit          = errors.New("batch operation limit exceeded")
	ErrBatchCommitted      = errors.New("batch already committed")
	ErrBatchCommit         = errors.New("batch commit failed")
	ErrInLimit             = errors.New("in filter value limit exceeded")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrInvalidPath         = errors.New("invalid document path")
)

// --------------------------------------------------------------------------
// Data
// --------------------------------------------------------------------------

// Data is the stored representation of a document.
type Data map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced with the commit time by the backend.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// ResolveServerTimestamps returns a deep copy of d with every ServerTimestamp
// sentinel replaced by now.
func ResolveServerTimestamps(d Data, now time.Time) Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case Data:
		return ResolveServerTimestamps(t, now)
	case map[string]any:
		return map[string]any(ResolveServerTimestamps(Data(t), now))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, now)
		}
		return out
	default:
		return v
	}
}

// CloneData returns a deep copy of maps and slices inside d.
func CloneData(d Data) Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Data:
		return CloneData(t)
	case map[string]any:
		return map[string]any(CloneData(Data(t)))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// MergeData overlays the top-level fields of patch onto base.
func MergeData(base, patch Data) Data {
	out := CloneData(base)
	if out == nil {
		out = make(Data, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// Key addresses a single document.
type Key struct {
	Collection string // full collection path
	ID         string
}

// Path returns the slash-separated document path.
func (k Key) Path() string {
	return k.Collection + "/" + k.ID
}

// CollectionID returns the last segment of the collection path.
func (k Key) CollectionID() string {
	if i := strings.LastIndexByte(k.Collection, '/'); i >= 0 {
		return k.Collection[i+1:]
	}
	return k.Collection
}

// ParseKey splits a document path into its collection path and id.
func ParseKey(path string) (Key, error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return Key{}, ErrInvalidPath
	}
	for _, s := range segs {
		if s == "" {
			return Key{}, ErrInvalidPath
		}
	}
	i := strings.LastIndexByte(path, '/')
	return Key{Collection: path[:i], ID: path[i+1:]}, nil
}

// NewID returns a fresh client-side document id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Chunk partitions items into consecutive groups of at most size elements.
// Every element lands in exactly one group and order is preserved.
func Chunk[E any](items []E, size int) [][]E {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]E, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
