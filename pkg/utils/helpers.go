package utils

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToInt64 coerces the loosely typed values found in decoded RPC payloads
// (JSON numbers, decimal strings, Go integers) into an int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if n != math.Trunc(n) || n >= 1<<63 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// ToString returns v as a string. Integers are rendered in base 10 so that
// they can take part in composite identities.
func ToString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case nil:
		return "", false
	}
	if i, ok := ToInt64(v); ok {
		return strconv.FormatInt(i, 10), true
	}
	return "", false
}

// LowerHex lower-cases a hash or address for case-insensitive identity.
func LowerHex(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
