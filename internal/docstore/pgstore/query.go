package pgstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

// buildQuery compiles q into a SELECT over the documents table. Field names
// and values are always bound as parameters.
func buildQuery(q docstore.RawQuery) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sb.WriteString(selectColumns)
	if q.Group {
		sb.WriteString(" WHERE collection_id = $1")
	} else {
		sb.WriteString(" WHERE collection = $1")
	}

	for _, f := range q.Filters {
		field := arg(f.Field)
		switch f.Op {
		case docstore.OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return "", nil, fmt.Errorf("%w: in filter on %q needs []any", docstore.ErrInvalidQuery, f.Field)
			}
			encoded := make([]string, len(values))
			for i, v := range values {
				b, err := json.Marshal(docstore.NormalizeValue(v))
				if err != nil {
					return "", nil, fmt.Errorf("encode filter value on %q: %w", f.Field, err)
				}
				encoded[i] = string(b)
			}
			fmt.Fprintf(&sb, " AND data->%s::text = ANY(%s::text[]::jsonb[])", field, arg(encoded))
		case docstore.OpEqual, docstore.OpNotEqual,
			docstore.OpLess, docstore.OpLessEqual, docstore.OpGreater, docstore.OpGreaterEqual:
			b, err := json.Marshal(docstore.NormalizeValue(f.Value))
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value on %q: %w", f.Field, err)
			}
			value := arg(b)
			switch f.Op {
			case docstore.OpEqual:
				fmt.Fprintf(&sb, " AND data->%s::text = %s::jsonb", field, value)
			case docstore.OpNotEqual:
				fmt.Fprintf(&sb, " AND data->%s::text <> %s::jsonb", field, value)
			default:
				fmt.Fprintf(&sb, " AND jsonb_typeof(data->%s::text) = jsonb_typeof(%s::jsonb) AND data->%s::text %s %s::jsonb",
					field, value, field, string(f.Op), value)
			}
		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", docstore.ErrInvalidQuery, f.Op)
		}
	}

	orderFields := make([]string, 0, len(q.Orders))
	for _, o := range q.Orders {
		field := arg(o.Field)
		fmt.Fprintf(&sb, " AND data->%s::text IS NOT NULL", field)
		dir := "ASC"
		if o.Direction == docstore.Desc {
			dir = "DESC"
		}
		orderFields = append(orderFields, fmt.Sprintf("data->%s::text %s", field, dir))
	}
	orderFields = append(orderFields, "path")
	sb.WriteString(" ORDER BY " + strings.Join(orderFields, ", "))

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}
