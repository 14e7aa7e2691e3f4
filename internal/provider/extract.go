// Package provider holds helpers shared by external metrics clients.
package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ExtractCount normalizes a counter from various API response formats.
//
// YouTube returns counters as decimal strings ("12345") to survive
// JavaScript number precision; other sources return plain JSON numbers.
//
// Returns ok=false if val is not a non-negative whole number.
func ExtractCount(val any) (int64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, false
	case int64:
		return v, v >= 0
	case int:
		return int64(v), v >= 0
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		return ExtractCount(v.String())
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
