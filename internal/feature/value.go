package feature

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToFloat converts a scalar attribute to float64. Strings are parsed;
// nil, booleans and unparseable strings are not numeric.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Key normalizes an identifier value so that 7, int64(7) and 7.0 group
// together. Null returns "".
func Key(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	if f, ok := ToFloat(v); ok {
		if math.IsNaN(f) {
			return ""
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "v:" + fmt.Sprint(v)
}

// Equal reports whether two identifier values are the same after Key
// normalization. Nulls are never equal.
func Equal(a, b any) bool {
	ka, kb := Key(a), Key(b)
	return ka != "" && ka == kb
}

// Label renders a scalar for use inside a generated column name.
func Label(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
