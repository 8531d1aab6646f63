package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// Normalize applies the rule of spec's dataset to t and deduplicates it on
// the effective key. The input table is not modified.
func Normalize(spec catalog.DatasetSpec, t *table.Table) (*table.Table, error) {
	rule, _ := Lookup(spec.Name)

	out, err := normalizeCommon(t)
	if err != nil {
		return nil, err
	}
	if out, err = applyRule(rule, out); err != nil {
		return nil, fmt.Errorf("failed to normalize %s: %w", spec.Name, err)
	}

	key := EffectiveKey(spec, out)
	if len(key) == 0 {
		return table.UpcastNull(out), nil
	}

	required := RequiredKeys(rule, key)
	out = dropNullKeys(out, required)
	out = table.UpcastNull(out)

	switch rule.Policy {
	case PolicyMostComplete:
		return mostComplete(out, key), nil
	default:
		return latestWins(out, key), nil
	}
}

// EffectiveKey returns the natural key of spec's dataset restricted to the
// columns present in t: the catalog key followed by the rule's extra keys.
func EffectiveKey(spec catalog.DatasetSpec, t *table.Table) []string {
	rule, _ := Lookup(spec.Name)
	seen := make(map[string]bool)
	var key []string
	for _, k := range append(append([]string(nil), spec.Key...), rule.Keys...) {
		if seen[k] || !t.Has(k) {
			continue
		}
		seen[k] = true
		key = append(key, k)
	}
	return key
}

// RequiredKeys returns the members of key whose null value disqualifies a row.
func RequiredKeys(rule Rule, key []string) []string {
	candidates := baseRequired
	if len(rule.Required) > 0 {
		candidates = rule.Required
	}
	var out []string
	for _, k := range key {
		for _, c := range candidates {
			if k == c {
				out = append(out, k)
				break
			}
		}
	}
	if len(out) == 0 && len(rule.Required) == 0 {
		return append([]string(nil), key...)
	}
	return out
}

// normalizeCommon gives identifier columns text kind, rounds play ids to
// integers and makes season and year integers.
func normalizeCommon(t *table.Table) (*table.Table, error) {
	out := t
	var err error
	for _, c := range t.Columns() {
		name := c.Name()
		var next *table.Column
		switch {
		case name == "play_id":
			next = c.Map(table.KindInt64, roundToInt)
		case name == "season" || name == "year":
			next = c.Cast(table.KindInt64)
		case strings.HasSuffix(name, "_id"):
			next = c.Cast(table.KindString)
		default:
			continue
		}
		if out, err = out.WithColumn(next); err != nil {
			return nil, err
		}
	}
	return table.UpcastNull(out), nil
}

func roundToInt(v any) any {
	f, ok := table.Convert(v, table.KindFloat64)
	if !ok || f == nil {
		return nil
	}
	x := f.(float64)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return int64(math.Round(x))
}

func applyRule(rule Rule, t *table.Table) (*table.Table, error) {
	out := t
	var err error
	for _, r := range rule.Renames {
		if out.Has(r.To) || !out.Has(r.From) {
			continue
		}
		if out, err = out.Rename(r.From, r.To); err != nil {
			return nil, err
		}
	}
	for name, kind := range rule.Casts {
		c, ok := out.Column(name)
		if !ok {
			continue
		}
		if out, err = out.WithColumn(c.Cast(kind)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func dropNullKeys(t *table.Table, required []string) *table.Table {
	if len(required) == 0 {
		return t
	}
	cols := make([]*table.Column, 0, len(required))
	for _, k := range required {
		if c, ok := t.Column(k); ok {
			cols = append(cols, c)
		}
	}
	return t.Filter(func(row int) bool {
		for _, c := range cols {
			if c.IsNull(row) {
				return false
			}
		}
		return true
	})
}

// latestWins keeps one row per key. With an ingestion timestamp the table is
// sorted by it and the last row of each key survives; without one the first
// row in table order survives.
func latestWins(t *table.Table, key []string) *table.Table {
	if !t.Has(core.ColumnIngestedAt) {
		return keepFirst(t, key)
	}
	sorted := t.SortStable(core.ColumnIngestedAt)
	last := make(map[string]int, sorted.NumRows())
	for i := 0; i < sorted.NumRows(); i++ {
		last[sorted.GroupKey(i, key)] = i
	}
	return sorted.Filter(func(row int) bool {
		return last[sorted.GroupKey(row, key)] == row
	})
}

func keepFirst(t *table.Table, key []string) *table.Table {
	seen := make(map[string]bool, t.NumRows())
	return t.Filter(func(row int) bool {
		k := t.GroupKey(row, key)
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
}

// mostComplete keeps, per key, the row with the most non-null values. Ties
// go to the earlier row.
func mostComplete(t *table.Table, key []string) *table.Table {
	cols := t.Columns()
	best := make(map[string]int)
	score := make([]int, t.NumRows())
	for i := range score {
		for _, c := range cols {
			if !c.IsNull(i) {
				score[i]++
			}
		}
		k := t.GroupKey(i, key)
		if j, ok := best[k]; !ok || score[i] > score[j] {
			best[k] = i
		}
	}
	return t.Filter(func(row int) bool {
		return best[t.GroupKey(row, key)] == row
	})
}
