package partition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/statlake/internal/table"
)

// Group is one partition of a table and the row indexes that belong to it.
type Group struct {
	Partition Partition
	Rows      []int
}

// NormalizeColumns gives every partition key column of t a stable scalar
// kind: int64 when every non-null value round-trips losslessly through an
// integer, string otherwise. Without it a season column read as float
// would produce "season=2009.0" next to "season=2009".
func NormalizeColumns(t *table.Table, keys []string) (*table.Table, error) {
	out := t
	for _, key := range keys {
		col, ok := out.Column(key)
		if !ok {
			continue
		}
		kind := table.KindString
		if integral(col) {
			kind = table.KindInt64
		}
		var err error
		out, err = out.WithColumn(col.Cast(kind))
		if err != nil {
			return nil, fmt.Errorf("failed to normalize partition column %s: %w", key, err)
		}
	}
	return out, nil
}

// integral reports whether every non-null value of c converts to an int64
// and back without loss.
func integral(c *table.Column) bool {
	switch c.Kind() {
	case table.KindInt64:
		return true
	case table.KindFloat64, table.KindString:
	default:
		return false
	}
	for i := 0; i < c.Len(); i++ {
		v := c.Value(i)
		if v == nil {
			continue
		}
		switch x := v.(type) {
		case float64:
			if x != float64(int64(x)) {
				return false
			}
		case string:
			if !canonicalInt(x) {
				return false
			}
		}
	}
	return true
}

// canonicalInt reports whether s is an integer written as N or N.0...,
// the forms a float season column takes after a round trip through text.
// Zero-padded values such as "007" are identifiers and do not qualify.
func canonicalInt(s string) bool {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (frac == "" || strings.Trim(frac, "0") != "") {
		return false
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == whole
}

// Split groups the rows of t by the values of keys, in order of first
// appearance. With no keys the whole table is the sentinel partition.
func Split(t *table.Table, keys []string) ([]Group, error) {
	if len(keys) == 0 {
		rows := make([]int, t.NumRows())
		for i := range rows {
			rows[i] = i
		}
		return []Group{{Partition: Sentinel(), Rows: rows}}, nil
	}

	cols := make([]*table.Column, len(keys))
	for i, k := range keys {
		c, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("partition column %q not found", k)
		}
		cols[i] = c
	}

	var groups []Group
	index := make(map[string]int)
	for r := 0; r < t.NumRows(); r++ {
		values := make([]string, len(cols))
		for i, c := range cols {
			values[i] = render(c.Value(r))
		}
		id := strings.Join(values, "\x1f")
		g, ok := index[id]
		if !ok {
			g = len(groups)
			index[id] = g
			groups = append(groups, Group{Partition: Partition{keys: append([]string(nil), keys...), values: values}})
		}
		groups[g].Rows = append(groups[g].Rows, r)
	}
	return groups, nil
}

// Discover returns the distinct partitions of t in order of first appearance.
func Discover(t *table.Table, keys []string) ([]Partition, error) {
	groups, err := Split(t, keys)
	if err != nil {
		return nil, err
	}
	out := make([]Partition, len(groups))
	for i, g := range groups {
		out[i] = g.Partition
	}
	return out, nil
}

func render(v any) string {
	if v == nil {
		return NullValue
	}
	return table.FormatValue(v)
}

// Literal returns the typed value of a rendered partition value: an int64
// when it parses as one, nil for the null marker, the string otherwise.
func Literal(value string) any {
	if value == NullValue {
		return nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && strconv.FormatInt(n, 10) == value {
		return n
	}
	return value
}
