package memstore

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

func runQuery(docs map[string]document, q docstore.RawQuery) ([]document, error) {
	for _, f := range q.Filters {
		if !f.Op.Valid() {
			return nil, fmt.Errorf("%w: unsupported operator %q", docstore.ErrInvalidQuery, f.Op)
		}
	}

	var out []document
	for _, d := range docs {
		if !inCollection(d.key, q) {
			continue
		}
		if !matchesAll(d.data, q.Filters) || !hasFields(d.data, q.Orders) {
			continue
		}
		out = append(out, d)
	}

	slices.SortFunc(out, func(a, b document) int {
		for _, o := range q.Orders {
			c, _ := compareValues(a.data[o.Field], b.data[o.Field])
			if o.Direction == docstore.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.key.Path(), b.key.Path())
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func inCollection(k docstore.Key, q docstore.RawQuery) bool {
	if q.Group {
		return k.CollectionID() == q.Collection
	}
	return k.Collection == q.Collection
}

func hasFields(data docstore.Data, orders []docstore.Order) bool {
	for _, o := range orders {
		if _, ok := data[o.Field]; !ok {
			return false
		}
	}
	return true
}

func matchesAll(data docstore.Data, filters []docstore.Filter) bool {
	for _, f := range filters {
		if !matches(data, f) {
			return false
		}
	}
	return true
}

func matches(data docstore.Data, f docstore.Filter) bool {
	v, ok := data[f.Field]
	if !ok {
		return false
	}
	if f.Op == docstore.OpIn {
		values, _ := f.Value.([]any)
		for _, want := range values {
			if c, ok := compareValues(v, want); ok && c == 0 {
				return true
			}
		}
		return false
	}

	c, comparable := compareValues(v, f.Value)
	switch f.Op {
	case docstore.OpEqual:
		return comparable && c == 0
	case docstore.OpNotEqual:
		return !comparable || c != 0
	case docstore.OpLess:
		return comparable && c < 0
	case docstore.OpLessEqual:
		return comparable && c <= 0
	case docstore.OpGreater:
		return comparable && c > 0
	case docstore.OpGreaterEqual:
		return comparable && c >= 0
	default:
		return false
	}
}

// compareValues orders two scalar field values. ok is false when the values
// are of different kinds and therefore not comparable.
func compareValues(a, b any) (int, bool) {
	if af, ok := number(a); ok {
		bf, ok := number(b)
		if !ok {
			return 0, false
		}
		return cmp.Compare(af, bf), true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return cmp.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
