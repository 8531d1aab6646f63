package enrich

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

const nameColumn = "player_name"

// RosterNames fills missing player names. Sources are tried in order and
// each one only fills rows still missing a name:
//
//  1. the cleaned seasonal roster of the partition's season, or the weekly
//     roster when there is no seasonal one
//  2. the cleaned players table, joined on gsis id
//  3. the most frequent name a player has in the season's play-by-play
func RosterNames(ctx context.Context, env Env, t *table.Table) (*table.Table, error) {
	if env.Reader == nil {
		return nil, fmt.Errorf("roster_names needs a reader")
	}
	season, hasSeason := env.Partition.Get("season")

	out := t
	var err error
	if hasSeason {
		if out, err = fromRosters(ctx, env, out, season); err != nil {
			return nil, err
		}
	}
	if missingNames(out) {
		if out, err = fromPlayers(ctx, env, out); err != nil {
			return nil, err
		}
	}
	if hasSeason && missingNames(out) {
		if out, err = fromPlayByPlay(ctx, env, out, season); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cleanedDir(root, dataset string, segments ...string) string {
	return filepath.Join(append([]string{tableio.DatasetDir(root, core.LayerCleaned, dataset)}, segments...)...)
}

// scanOptional scans dir, treating a missing directory as no data.
func scanOptional(ctx context.Context, r Reader, dir string) (*table.Table, bool, error) {
	t, err := r.Scan(ctx, dir)
	if errors.Is(err, tableio.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, t.NumRows() > 0, nil
}

func fromRosters(ctx context.Context, env Env, t *table.Table, season string) (*table.Table, error) {
	seasonal := true
	rost, ok, err := scanOptional(ctx, env.Reader, cleanedDir(env.Root, "rosters_seasonal", "season="+season))
	if err != nil {
		return nil, err
	}
	if !ok {
		seasonal = false
		if rost, ok, err = scanOptional(ctx, env.Reader, cleanedDir(env.Root, "rosters", "season="+season)); err != nil || !ok {
			return t, err
		}
	}

	// Seasonal rosters often have no week, so they join on season and player.
	candidates := []string{"season", "week", "player_id"}
	if seasonal {
		candidates = []string{"season", "player_id"}
	}
	var keys []string
	for _, k := range candidates {
		if t.Has(k) && rost.Has(k) {
			keys = append(keys, k)
		}
	}
	if t.Has("team") && rost.Has("team") {
		keys = append(keys, "team")
	}
	if len(keys) == 0 {
		return t, nil
	}

	names := make(map[string]any)
	for i := 0; i < rost.NumRows(); i++ {
		k := rost.GroupKey(i, keys)
		if _, seen := names[k]; seen {
			continue
		}
		if n := coalesce(value(rost, "full_name", i), joinName(rost, i), value(rost, nameColumn, i)); n != nil {
			names[k] = n
		}
	}
	return fill(t, func(row int) any { return names[t.GroupKey(row, keys)] }), nil
}

func fromPlayers(ctx context.Context, env Env, t *table.Table) (*table.Table, error) {
	if !t.Has("player_id") {
		return t, nil
	}
	players, ok, err := scanOptional(ctx, env.Reader, cleanedDir(env.Root, "players"))
	if err != nil || !ok || !players.Has("gsis_id") {
		return t, err
	}

	names := make(map[string]any)
	for i := 0; i < players.NumRows(); i++ {
		k := players.GroupKey(i, []string{"gsis_id"})
		if _, seen := names[k]; seen {
			continue
		}
		if n := coalesce(value(players, "display_name", i), value(players, "full_name", i), joinName(players, i)); n != nil {
			names[k] = n
		}
	}
	return fill(t, func(row int) any { return names[t.GroupKey(row, []string{"player_id"})] }), nil
}

var pbpRoles = []string{"rusher", "receiver", "passer"}

func fromPlayByPlay(ctx context.Context, env Env, t *table.Table, season string) (*table.Table, error) {
	if !t.Has("player_id") {
		return t, nil
	}
	pbp, ok, err := scanOptional(ctx, env.Reader, cleanedDir(env.Root, "pbp", "year="+season))
	if err != nil || !ok {
		return t, err
	}

	counts := make(map[string]map[string]int)
	for _, role := range pbpRoles {
		ids, okID := pbp.Column(role + "_player_id")
		nms, okName := pbp.Column(role + "_player_name")
		if !okID || !okName {
			continue
		}
		for i := 0; i < pbp.NumRows(); i++ {
			id, name := ids.Value(i), nms.Value(i)
			if id == nil || name == nil {
				continue
			}
			pid := table.FormatValue(id)
			if counts[pid] == nil {
				counts[pid] = make(map[string]int)
			}
			counts[pid][table.FormatValue(name)]++
		}
	}
	if len(counts) == 0 {
		return t, nil
	}

	mode := make(map[string]any, len(counts))
	for pid, byName := range counts {
		mode[pid] = topName(byName)
	}
	pid, _ := t.Column("player_id")
	return fill(t, func(row int) any {
		if pid.IsNull(row) {
			return nil
		}
		return mode[table.FormatValue(pid.Value(row))]
	}), nil
}

// topName returns the most frequent name, breaking ties alphabetically.
func topName(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	best := names[0]
	for _, n := range names[1:] {
		if counts[n] > counts[best] {
			best = n
		}
	}
	return best
}

// fill sets player_name to the first non-null of player_name,
// player_display_name and the candidate for each row.
func fill(t *table.Table, candidate func(row int) any) *table.Table {
	values := make([]any, t.NumRows())
	for i := range values {
		values[i] = coalesce(value(t, nameColumn, i), value(t, "player_display_name", i), candidate(i))
	}
	out, err := t.WithColumn(table.NewColumn(nameColumn, table.KindString, values))
	if err != nil {
		return t
	}
	return out
}

func missingNames(t *table.Table) bool {
	c, ok := t.Column(nameColumn)
	return ok && c.NullCount() > 0
}

func value(t *table.Table, column string, row int) any {
	c, ok := t.Column(column)
	if !ok {
		return nil
	}
	return c.Value(row)
}

func joinName(t *table.Table, row int) any {
	first, last := value(t, "first_name", row), value(t, "last_name", row)
	if first == nil || last == nil {
		return nil
	}
	return table.FormatValue(first) + " " + table.FormatValue(last)
}

func coalesce(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
