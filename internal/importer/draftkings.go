package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
)

// DefaultDraftKingsPath is the rules document read when options.path is unset.
const DefaultDraftKingsPath = "catalog/draftkings/bestball.yml"

// DraftKings flattens a static contest rules document (scoring, lineup,
// roster constraints, tournament rounds, scoring period and draft timing)
// into one row per rule, keyed by section and id.
type DraftKings struct {
	logger *slog.Logger
}

// NewDraftKings creates a draftkings importer.
func NewDraftKings(d Deps) *DraftKings {
	return &DraftKings{logger: d.Logger}
}

type draftKingsOptions struct {
	Path string `mapstructure:"path"`
}

// Fetch implements Fetcher. Seasons are ignored.
func (d *DraftKings) Fetch(_ context.Context, spec catalog.DatasetSpec, _ Request) (*table.Table, error) {
	var o draftKingsOptions
	if err := decodeOptions(spec.Options, &o); err != nil {
		return nil, Permanent(err)
	}
	if o.Path == "" {
		o.Path = DefaultDraftKingsPath
	}
	data, err := os.ReadFile(o.Path)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to read rules document: %w", err))
	}
	return ParseRules(data)
}

type rulesDocument struct {
	Scoring map[string]any `yaml:"scoring"`
	Lineup  struct {
		WeeklySlots []map[string]any `yaml:"weekly_slots"`
	} `yaml:"lineup"`
	Roster        map[string]any `yaml:"roster"`
	ScoringPeriod map[string]any `yaml:"scoring_period"`
	Tournaments   struct {
		Rounds      []map[string]any `yaml:"rounds"`
		TieBreakers any              `yaml:"tie_breakers"`
	} `yaml:"tournaments"`
	Draft map[string]any `yaml:"draft"`
}

var rosterConstraints = []string{"total_slots", "bench_slots", "min_teams", "max_qb", "max_te"}

// ParseRules converts a rules document into rows.
func ParseRules(data []byte) (*table.Table, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, Permanent(fmt.Errorf("failed to parse rules document: %w", err))
	}

	var rows []map[string]any
	add := func(section, id string, fields map[string]any) {
		row := map[string]any{"section": section, "id": id}
		for k, v := range fields {
			row[k] = scalar(v)
		}
		rows = append(rows, row)
	}

	for _, metric := range sortedKeys(doc.Scoring) {
		cfg, ok := doc.Scoring[metric].(map[string]any)
		if !ok {
			cfg = map[string]any{"points": doc.Scoring[metric]}
		}
		add("scoring", metric, map[string]any{
			"metric":       metric,
			"points":       cfg["points"],
			"per_yard":     cfg["per_yard"],
			"per_units":    cfg["per_units"],
			"units":        cfg["units"],
			"threshold":    cfg["threshold"],
			"bonus_points": cfg["bonus_points"],
			"modes":        jsonList(cfg["modes"]),
			"types":        jsonList(cfg["types"]),
			"notes":        cfg["notes"],
		})
	}

	for _, slot := range doc.Lineup.WeeklySlots {
		add("lineup", fmt.Sprintf("slot_%v", slot["slot"]), map[string]any{
			"slot":               slot["slot"],
			"count":              slot["count"],
			"eligible_positions": jsonList(slot["eligible_positions"]),
		})
	}

	for _, k := range rosterConstraints {
		if v, ok := doc.Roster[k]; ok {
			add("roster", k, map[string]any{"constraint": k, "value": v})
		}
	}
	if caps, ok := doc.Roster["position_caps_during_auto_draft"].(map[string]any); ok {
		for _, pos := range sortedKeys(caps) {
			add("roster", "auto_cap_"+pos, map[string]any{
				"constraint": "auto_draft_cap",
				"position":   pos,
				"value":      caps[pos],
			})
		}
	}

	for _, rnd := range doc.Tournaments.Rounds {
		add("tournaments_rounds", fmt.Sprintf("round_%v", rnd["round"]), map[string]any{
			"round": rnd["round"],
			"weeks": jsonList(rnd["weeks"]),
		})
	}
	if doc.Tournaments.TieBreakers != nil {
		add("tournaments", "tie_breakers", map[string]any{"description": doc.Tournaments.TieBreakers})
	}

	for _, k := range sortedKeys(doc.ScoringPeriod) {
		add("scoring_period", k, map[string]any{"property": k, "value": doc.ScoringPeriod[k]})
	}

	for _, k := range sortedKeys(doc.Draft) {
		if k != "schedules" {
			add("draft", k, map[string]any{"property": k, "value": doc.Draft[k]})
			continue
		}
		schedules, _ := doc.Draft[k].([]any)
		for _, s := range schedules {
			sched, ok := s.(map[string]any)
			if !ok {
				continue
			}
			add("draft", fmt.Sprintf("schedule_%v", sched["label"]), map[string]any{
				"label":                       sched["label"],
				"start":                       sched["start"],
				"fast_seconds_per_pick":       sched["fast_seconds_per_pick"],
				"slow_default_hours_per_pick": sched["slow_default_hours_per_pick"],
				"overnight":                   jsonList(sched["overnight"]),
				"notes":                       sched["notes"],
			})
		}
	}

	t := table.FromRecords(rows, "section", "id")
	// value mixes numbers and text across sections.
	if c, ok := t.Column("value"); ok {
		var err error
		if t, err = t.WithColumn(c.Cast(table.KindString)); err != nil {
			return nil, err
		}
	}
	if !t.Has("source") {
		return t.WithColumn(constant("source", "draftkings", t.NumRows()))
	}
	return t, nil
}

// jsonList renders v as a JSON array, wrapping scalars and mapping nil to [].
func jsonList(v any) string {
	var list []any
	switch x := v.(type) {
	case nil:
		list = []any{}
	case []any:
		list = x
	default:
		list = []any{x}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// scalar turns nested YAML values into JSON text so every cell is a scalar.
func scalar(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
