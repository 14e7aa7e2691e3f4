package sqlitestore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
)

// jsonPath returns the JSON1 path selecting a top-level field.
func jsonPath(field string) string {
	return "$." + strconv.Quote(field)
}

// sqlValue converts a filter value into something json_extract output can
// be compared with.
func sqlValue(v any) any {
	v = docstore.NormalizeValue(v)
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

func buildQuery(q docstore.RawQuery) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}

	sb.WriteString(selectColumns)
	if q.Group {
		sb.WriteString(" WHERE collection_id = ?")
	} else {
		sb.WriteString(" WHERE collection = ?")
	}

	for _, f := range q.Filters {
		switch f.Op {
		case docstore.OpIn:
			values, ok := f.Value.([]any)
			if !ok || len(values) == 0 {
				return "", nil, fmt.Errorf("%w: in filter on %q needs values", docstore.ErrInvalidQuery, f.Field)
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			fmt.Fprintf(&sb, " AND json_extract(data, ?) IN (%s)", marks)
			args = append(args, jsonPath(f.Field))
			for _, v := range values {
				args = append(args, sqlValue(v))
			}
		case docstore.OpEqual, docstore.OpLess, docstore.OpLessEqual, docstore.OpGreater, docstore.OpGreaterEqual:
			fmt.Fprintf(&sb, " AND json_extract(data, ?) %s ?", string(f.Op))
			args = append(args, jsonPath(f.Field), sqlValue(f.Value))
		case docstore.OpNotEqual:
			sb.WriteString(" AND json_type(data, ?) IS NOT NULL AND json_extract(data, ?) IS NOT ?")
			args = append(args, jsonPath(f.Field), jsonPath(f.Field), sqlValue(f.Value))
		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", docstore.ErrInvalidQuery, f.Op)
		}
	}

	orderFields := make([]string, 0, len(q.Orders)+1)
	for _, o := range q.Orders {
		sb.WriteString(" AND json_type(data, ?) IS NOT NULL")
		args = append(args, jsonPath(o.Field))
		dir := "ASC"
		if o.Direction == docstore.Desc {
			dir = "DESC"
		}
		orderFields = append(orderFields, "json_extract(data, "+sqlString(jsonPath(o.Field))+") "+dir)
	}
	orderFields = append(orderFields, "path")
	sb.WriteString(" ORDER BY " + strings.Join(orderFields, ", "))

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}

// sqlString renders s as a SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
