package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// ValidationError lists every problem found while checking a table.
type ValidationError struct {
	Dataset  string
	Layer    core.Layer
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s validation failed: %s", e.Dataset, e.Layer, strings.Join(e.Problems, "; "))
}

// ColumnCheck describes one required column.
type ColumnCheck struct {
	Name string
	// Kind, when not KindNull, requires every non-null value to convert to it.
	Kind     table.Kind
	Nullable bool
	// Min, when set, is a lower bound on every non-null numeric value.
	Min *float64
}

// Schema is the shape a layer of a dataset must have.
type Schema []ColumnCheck

func minimum(v float64) *float64 { return &v }

var schemas = map[string]map[core.Layer]Schema{
	"pbp": {
		core.LayerRaw: {
			{Name: "game_id", Kind: table.KindString, Nullable: true},
			{Name: "play_id", Kind: table.KindInt64, Nullable: true},
			{Name: "year", Kind: table.KindInt64, Nullable: true},
		},
		core.LayerCleaned: {
			{Name: "game_id", Kind: table.KindString},
			{Name: "play_id", Kind: table.KindInt64, Min: minimum(1)},
			{Name: "year", Kind: table.KindInt64},
		},
	},
	"schedules": {
		core.LayerRaw:     {{Name: "game_id", Kind: table.KindString, Nullable: true}},
		core.LayerCleaned: {{Name: "game_id", Kind: table.KindString}},
	},
	"weekly": {
		core.LayerRaw: {
			{Name: "season", Kind: table.KindInt64, Nullable: true},
			{Name: "week", Kind: table.KindInt64, Nullable: true},
			{Name: "player_id", Kind: table.KindString, Nullable: true},
		},
		core.LayerCleaned: {
			{Name: "season", Kind: table.KindInt64},
			{Name: "week", Kind: table.KindInt64},
			{Name: "player_id", Kind: table.KindString},
			{Name: "team", Kind: table.KindString},
		},
	},
	"rosters":      {core.LayerCleaned: presence("season", "week", "player_id", "team")},
	"injuries":     {core.LayerCleaned: presence("season", "week", "team", "player_id")},
	"depth_charts": {core.LayerCleaned: presence("season", "week", "team", "position", "player_id")},
	"snap_counts":  {core.LayerCleaned: presence("season", "week", "team", "player_id")},
}

func presence(names ...string) Schema {
	s := make(Schema, len(names))
	for i, n := range names {
		s[i] = ColumnCheck{Name: n, Nullable: true}
	}
	return s
}

// ValidateRaw checks a raw partition before it is merged. Besides the
// dataset schema, every catalog key column must be present, either under
// its own name or under an alias the dataset rule renames.
func ValidateRaw(spec catalog.DatasetSpec, t *table.Table) error {
	rule, _ := Lookup(spec.Name)
	problems := schemas[spec.Name][core.LayerRaw].check(t)
	for _, k := range spec.Key {
		if t.Has(k) || aliased(rule, t, k) {
			continue
		}
		problems = append(problems, fmt.Sprintf("key column %s missing", k))
	}
	return result(spec.Name, core.LayerRaw, problems)
}

// ValidateCleaned checks a normalized partition before it is published.
func ValidateCleaned(spec catalog.DatasetSpec, t *table.Table) error {
	problems := schemas[spec.Name][core.LayerCleaned].check(t)
	for _, k := range spec.Key {
		if !t.Has(k) {
			problems = append(problems, fmt.Sprintf("key column %s missing", k))
		}
	}
	return result(spec.Name, core.LayerCleaned, problems)
}

func aliased(rule Rule, t *table.Table, column string) bool {
	for _, r := range rule.Renames {
		if r.To == column && t.Has(r.From) {
			return true
		}
	}
	return false
}

func result(dataset string, layer core.Layer, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	problems = dedupe(problems)
	return &ValidationError{Dataset: dataset, Layer: layer, Problems: problems}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, p := range in {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s Schema) check(t *table.Table) []string {
	var problems []string
	for _, chk := range s {
		c, ok := t.Column(chk.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("column %s missing", chk.Name))
			continue
		}
		var nulls, bad, low int
		for i := 0; i < c.Len(); i++ {
			v := c.Value(i)
			if v == nil {
				nulls++
				continue
			}
			if chk.Kind != table.KindNull {
				conv, ok := table.Convert(v, chk.Kind)
				if !ok {
					bad++
					continue
				}
				v = conv
			}
			if chk.Min != nil {
				f, ok := table.Convert(v, table.KindFloat64)
				if !ok || f.(float64) < *chk.Min {
					low++
				}
			}
		}
		if nulls > 0 && !chk.Nullable {
			problems = append(problems, fmt.Sprintf("column %s has %d null values", chk.Name, nulls))
		}
		if bad > 0 {
			problems = append(problems, fmt.Sprintf("column %s has %d values not convertible to %s", chk.Name, bad, chk.Kind))
		}
		if low > 0 {
			problems = append(problems, fmt.Sprintf("column %s has %d values below %g", chk.Name, low, *chk.Min))
		}
	}
	return problems
}
