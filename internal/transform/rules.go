// Package transform turns a merged raw+cleaned partition into its cleaned
// form: column aliases are renamed, identifiers get stable kinds, rows are
// deduplicated on the dataset's natural key and untyped columns are
// upcast so later merges stay stable.
package transform

import (
	"sort"
	"sync"

	"github.com/leapstack-labs/statlake/internal/table"
)

// Policy selects which row survives among rows sharing a key.
type Policy int

const (
	// PolicyLatest keeps the row with the greatest ingestion timestamp, or
	// the first row in table order when there is no timestamp column.
	PolicyLatest Policy = iota
	// PolicyMostComplete keeps the row with the most non-null values.
	PolicyMostComplete
)

// Rename replaces column From with To when To is not already present.
type Rename struct {
	From string
	To   string
}

// Rule is the normalization recipe of one dataset.
type Rule struct {
	Renames []Rename
	// Casts force the kind of columns that are present.
	Casts map[string]table.Kind
	// Keys extend the catalog key. Only columns present in the table count.
	Keys []string
	// Required lists key columns that must be non-null. Empty means the
	// default: the key columns among season, week and player_id, or every
	// key column when none of those is part of the key.
	Required []string
	Policy   Policy
}

var (
	rulesMu sync.RWMutex
	rules   = map[string]Rule{
		"pbp":       {Keys: []string{"game_id", "play_id"}},
		"schedules": {Keys: []string{"game_id"}},
		"weekly": {
			Renames: []Rename{{From: "recent_team", To: "team"}},
			Keys:    []string{"season", "week", "player_id", "team"},
		},
		"rosters": {
			Renames: []Rename{{From: "recent_team", To: "team"}},
			Keys:    []string{"season", "week", "player_id", "team"},
		},
		"injuries": {
			Renames: []Rename{{From: "gsis_id", To: "player_id"}},
			Casts:   map[string]table.Kind{"week": table.KindInt64},
			Keys:    []string{"season", "week", "team", "player_id", "report_date"},
		},
		"depth_charts": {
			Renames: []Rename{{From: "gsis_id", To: "player_id"}},
			Keys:    []string{"season", "week", "team", "position", "player_id"},
		},
		"snap_counts": {
			Renames: []Rename{{From: "gsis_id", To: "player_id"}},
			Keys:    []string{"season", "week", "team", "player_id"},
		},
		"dk_bestball": {Keys: []string{"section", "id"}},
		"ngs_weekly": {
			Casts: map[string]table.Kind{"player_id": table.KindString},
			Keys:  []string{"season", "week", "player_id", "stat_type"},
		},
		"pfr_weekly": {
			Casts: map[string]table.Kind{"player_id": table.KindString},
			Keys:  []string{"season", "week", "player_id", "stat_type"},
		},
		"pfr_seasonal": {
			Casts: map[string]table.Kind{"player_id": table.KindString},
			Keys:  []string{"season", "player_id", "stat_type"},
		},
		"ids": {
			Keys:   []string{"gsis_id", "pfr_id"},
			Policy: PolicyMostComplete,
		},
		"seasonal_rosters": {
			Casts: map[string]table.Kind{
				"player_id":  table.KindString,
				"full_name":  table.KindString,
				"first_name": table.KindString,
				"last_name":  table.KindString,
			},
			Keys: []string{"season", "player_id"},
		},
	}
)

// Register installs or replaces the rule of a dataset.
func Register(dataset string, r Rule) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	rules[dataset] = r
}

// Lookup returns the rule of a dataset. Datasets without a rule get the
// zero Rule: catalog key only, latest-wins.
func Lookup(dataset string) (Rule, bool) {
	rulesMu.RLock()
	defer rulesMu.RUnlock()
	r, ok := rules[dataset]
	return r, ok
}

// Datasets lists the datasets that have a rule.
func Datasets() []string {
	rulesMu.RLock()
	defer rulesMu.RUnlock()
	names := make([]string, 0, len(rules))
	for n := range rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// baseRequired are the key columns that disqualify a row when null.
var baseRequired = []string{"season", "week", "player_id"}
