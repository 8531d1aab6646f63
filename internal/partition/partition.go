// Package partition models the directory-addressed subsets of a dataset.
//
// A Partition is an ordered list of key=value pairs rendered as a hive-style
// path ("season=2024/week=1"). A dataset without partition keys has exactly
// one partition, the sentinel, whose ledger key is "all".
package partition

import (
	"fmt"
	"net/url"
	"strings"
)

// SentinelKey is the ledger key of the single partition of an unpartitioned dataset.
const SentinelKey = "all"

// NullValue is the path segment value used for a null partition value.
const NullValue = "__HIVE_DEFAULT_PARTITION__"

// Partition is an ordered sequence of partition key/value pairs.
type Partition struct {
	keys   []string
	values []string
}

// New builds a partition from parallel key and value slices.
func New(keys, values []string) (Partition, error) {
	if len(keys) != len(values) {
		return Partition{}, fmt.Errorf("partition has %d keys but %d values", len(keys), len(values))
	}
	return Partition{keys: append([]string(nil), keys...), values: append([]string(nil), values...)}, nil
}

// Sentinel returns the single partition of an unpartitioned dataset.
func Sentinel() Partition { return Partition{} }

// IsSentinel reports whether p has no keys.
func (p Partition) IsSentinel() bool { return len(p.keys) == 0 }

// Keys returns the partition key names in order.
func (p Partition) Keys() []string { return append([]string(nil), p.keys...) }

// Values returns the rendered partition values in order.
func (p Partition) Values() []string { return append([]string(nil), p.values...) }

// Get returns the value for key.
func (p Partition) Get(key string) (string, bool) {
	for i, k := range p.keys {
		if k == key {
			return p.values[i], true
		}
	}
	return "", false
}

// Path renders the partition as a relative hive-style directory path.
// The sentinel renders as the empty path.
func (p Partition) Path() string {
	parts := make([]string, len(p.keys))
	for i, k := range p.keys {
		parts[i] = k + "=" + url.PathEscape(p.values[i])
	}
	return strings.Join(parts, "/")
}

// Key returns the ledger key of the partition: its path, or "all" for the sentinel.
func (p Partition) Key() string {
	if p.IsSentinel() {
		return SentinelKey
	}
	return p.Path()
}

func (p Partition) String() string { return p.Key() }

// Equal reports whether p and o have the same keys and values.
func (p Partition) Equal(o Partition) bool {
	return p.Key() == o.Key()
}

// Parse converts a ledger key or hive-style path back into a Partition.
func Parse(s string) (Partition, error) {
	s = strings.Trim(s, "/")
	if s == "" || s == SentinelKey {
		return Sentinel(), nil
	}
	var p Partition
	for _, seg := range strings.Split(s, "/") {
		k, v, ok := strings.Cut(seg, "=")
		if !ok || k == "" {
			return Partition{}, fmt.Errorf("invalid partition segment %q in %q", seg, s)
		}
		unescaped, err := url.PathUnescape(v)
		if err != nil {
			return Partition{}, fmt.Errorf("invalid partition value %q: %w", v, err)
		}
		p.keys = append(p.keys, k)
		p.values = append(p.values, unescaped)
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Partition {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Keys renders a list of partitions as their ledger keys.
func Keys(parts []Partition) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Key()
	}
	return out
}
