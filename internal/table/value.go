package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when a string is cast to a timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Normalize converts a Go value into the canonical representation used by
// columns and reports the kind it naturally belongs to.
func Normalize(v any) (any, Kind) {
	switch x := v.(type) {
	case nil:
		return nil, KindNull
	case bool:
		return x, KindBool
	case int:
		return int64(x), KindInt64
	case int8:
		return int64(x), KindInt64
	case int16:
		return int64(x), KindInt64
	case int32:
		return int64(x), KindInt64
	case int64:
		return x, KindInt64
	case uint8:
		return int64(x), KindInt64
	case uint16:
		return int64(x), KindInt64
	case uint32:
		return int64(x), KindInt64
	case uint:
		if uint64(x) > math.MaxInt64 {
			return float64(x), KindFloat64
		}
		return int64(x), KindInt64
	case uint64:
		if x > math.MaxInt64 {
			return float64(x), KindFloat64
		}
		return int64(x), KindInt64
	case float32:
		return float64(x), KindFloat64
	case float64:
		return x, KindFloat64
	case string:
		return x, KindString
	case []byte:
		return string(x), KindString
	case time.Time:
		return x.UTC(), KindTimestamp
	case *string:
		if x == nil {
			return nil, KindNull
		}
		return *x, KindString
	case *int64:
		if x == nil {
			return nil, KindNull
		}
		return *x, KindInt64
	case *float64:
		if x == nil {
			return nil, KindNull
		}
		return *x, KindFloat64
	case *time.Time:
		if x == nil {
			return nil, KindNull
		}
		return x.UTC(), KindTimestamp
	case fmt.Stringer:
		return x.String(), KindString
	default:
		return fmt.Sprint(x), KindString
	}
}

// Convert casts a value to kind. Conversion is non-strict: the second
// return value is false when v cannot be represented, in which case the
// caller stores null.
func Convert(v any, to Kind) (any, bool) {
	v, from := Normalize(v)
	if v == nil {
		return nil, true
	}
	if from == to {
		return v, true
	}

	switch to {
	case KindNull:
		return nil, false
	case KindBool:
		return toBool(v)
	case KindInt64:
		return toInt64(v)
	case KindFloat64:
		return toFloat64(v)
	case KindString:
		return FormatValue(v), true
	case KindTimestamp:
		return toTimestamp(v)
	}
	return nil, false
}

func toBool(v any) (any, bool) {
	switch x := v.(type) {
	case int64:
		return x != 0, x == 0 || x == 1
	case float64:
		return x != 0, x == 0 || x == 1
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

func toInt64(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, false
		}
		return int64(math.Trunc(x)), true
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return toInt64(f)
		}
		return nil, false
	}
	return nil, false
}

func toFloat64(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return float64(1), true
		}
		return float64(0), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func toTimestamp(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return nil, false
}

// FormatValue renders a value as text. Null renders as the empty string.
func FormatValue(v any) string {
	v, _ = Normalize(v)
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// compareValues orders two values of the same kind. Nulls sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}
