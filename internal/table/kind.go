// Package table implements the in-memory columnar batch that flows between
// fetchers, the raw and cleaned layers, and the promotion engine.
//
// A Table is an ordered set of equally long, named columns. Each column
// carries a single Kind and holds values of the matching Go type (or nil):
//
//	KindBool      bool
//	KindInt64     int64
//	KindFloat64   float64
//	KindString    string
//	KindTimestamp time.Time
//
// KindNull marks a column whose type is unknown because every value is
// missing. Tables are treated as immutable; every operation returns a new
// Table and never modifies its receiver.
package table

import "strings"

// Kind is the logical type of a column.
type Kind uint8

// Supported column kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindTimestamp
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindInt64:     "int64",
	KindFloat64:   "float64",
	KindString:    "string",
	KindTimestamp: "timestamp",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind converts a kind name (as printed by Kind.String) back to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	switch s {
	case "int", "integer", "bigint":
		return KindInt64, true
	case "float", "double":
		return KindFloat64, true
	case "text", "utf8", "varchar":
		return KindString, true
	}
	return KindNull, false
}

// Numeric reports whether k is an integer or floating point kind.
func (k Kind) Numeric() bool {
	return k == KindInt64 || k == KindFloat64
}

// CommonKind returns the kind both a and b can be cast to when two tables
// holding the same column are merged:
//
//   - equal kinds are kept
//   - a null side takes the other side
//   - either side string gives string
//   - mixed integer and float gives float
//   - anything else gives string
func CommonKind(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindNull:
		return b
	case b == KindNull:
		return a
	case a == KindString || b == KindString:
		return KindString
	case a.Numeric() && b.Numeric():
		return KindFloat64
	default:
		return KindString
	}
}
