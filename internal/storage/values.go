package storage

import (
	"fmt"
	"math"
	"strconv"
)

// AsInt64 converts a scanned value into an int64. Drivers return integers as
// int64, but text columns and float-typed numerics show up in imported data.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsString renders a scanned value as text. nil becomes "".
func AsString(v any) string { return asString(v) }

func fmtAny(v any) string { return fmt.Sprint(v) }
