package filter

import (
	"bytes"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// arrayValue extracts the Go-native value at row from arr, covering the
// Arrow types this engine's predicate grammar needs to compare against
// literals. Extension-typed columns (e.g. geometry) are left to the
// advertising index's ExtensionEvaluator rather than handled here.
func arrayValue(arr arrow.Array, row int) any {
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(row)
	case *array.Int8:
		return int64(a.Value(row))
	case *array.Int16:
		return int64(a.Value(row))
	case *array.Int32:
		return int64(a.Value(row))
	case *array.Int64:
		return a.Value(row)
	case *array.Uint8:
		return int64(a.Value(row))
	case *array.Uint16:
		return int64(a.Value(row))
	case *array.Uint32:
		return int64(a.Value(row))
	case *array.Uint64:
		return int64(a.Value(row))
	case *array.Float32:
		return float64(a.Value(row))
	case *array.Float64:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.LargeString:
		return a.Value(row)
	case *array.Binary:
		return a.Value(row)
	case *array.LargeBinary:
		return a.Value(row)
	default:
		return nil
	}
}

// compareEqual reports whether two extracted values are equal, allowing
// int64/float64 cross-comparison since literal construction doesn't always
// match the column's exact Arrow width.
func compareEqual(a, b any) bool {
	cmp, ok := compareOrdered(a, b)
	return ok && cmp == 0
}

// compareOrdered returns -1/0/1 comparing a to b, and false if the two
// values are not comparable.
func compareOrdered(a, b any) (int, bool) {
	switch av := a.(type) {
	case int64:
		if bf, ok := b.(float64); ok {
			return cmpFloat64(float64(av), bf), true
		}
		bv, ok := toInt64(b)
		if !ok {
			return 0, false
		}
		return cmpInt64(av, bv), true
	case float64:
		bv, ok := toFloat64(b)
		if !ok {
			return 0, false
		}
		return cmpFloat64(av, bv), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if av {
			return 1, true
		}
		return -1, true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
