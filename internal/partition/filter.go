package partition

import "strings"

// Filter restricts a set of partitions by value. Entries are either bare
// values, matched against the first partition key ("2023"), or key=value
// pairs matched against the named key ("week=1").
type Filter struct {
	bare  map[string]bool
	keyed map[string]map[string]bool
}

// ParseFilter builds a filter from a comma separated list. An empty list
// yields a filter that matches everything.
func ParseFilter(s string) Filter {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return NewFilter(items...)
}

// NewFilter builds a filter from individual entries.
func NewFilter(items ...string) Filter {
	f := Filter{bare: map[string]bool{}, keyed: map[string]map[string]bool{}}
	for _, item := range items {
		if k, v, ok := strings.Cut(item, "="); ok {
			if f.keyed[k] == nil {
				f.keyed[k] = map[string]bool{}
			}
			f.keyed[k][v] = true
			continue
		}
		f.bare[item] = true
	}
	return f
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.bare) == 0 && len(f.keyed) == 0
}

// Match reports whether p passes the filter. The sentinel partition always
// matches.
func (f Filter) Match(p Partition) bool {
	if f.Empty() || p.IsSentinel() {
		return true
	}
	if len(f.bare) > 0 && !f.bare[p.values[0]] {
		return false
	}
	for k, allowed := range f.keyed {
		v, ok := p.Get(k)
		if ok && !allowed[v] {
			return false
		}
	}
	return true
}
