package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// TimeLayout is the fixed-width UTC layout used when a backend stores times
// as text, so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Int64Value normalizes a stored number. Backends hand numbers back as
// int64, float64 or json.Number depending on their encoding.
//
// Returns ok=false if v is not a whole number.
func Int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// StringValue returns v when it is a string.
func StringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// TimeValue normalizes a stored timestamp. Memory backends keep time.Time;
// JSON backends return TimeLayout or RFC 3339 text.
func TimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// NormalizeValue converts v into the representation JSON backends store:
// times become TimeLayout text in UTC, nested maps and slices are walked.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case Data:
		return map[string]any(normalizeMap(t))
	case map[string]any:
		return map[string]any(normalizeMap(Data(t)))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = NormalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(d Data) Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = NormalizeValue(v)
	}
	return out
}

// EncodeJSON serializes d for JSON backends. ServerTimestamp sentinels must
// already be resolved.
func EncodeJSON(d Data) ([]byte, error) {
	for k, v := range d {
		if IsServerTimestamp(v) {
			return nil, fmt.Errorf("field %q: unresolved server timestamp", k)
		}
	}
	return json.Marshal(normalizeMap(d))
}

// DecodeJSON parses a stored document, keeping numbers as json.Number.
func DecodeJSON(b []byte) (Data, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var d Data
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d == nil {
		d = Data{}
	}
	return d, nil
}

// toAnySlice converts any slice or array value into []any.
func toAnySlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
