package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
)

// SeasonPlaceholder is replaced by the season in URL and path templates.
const SeasonPlaceholder = "{season}"

const releases = "https://github.com/nflverse/nflverse-data/releases/download/"

// defaultURLs are the public release assets for datasets whose catalog
// entry gives no url.
var defaultURLs = map[string]string{
	"pbp":              releases + "pbp/play_by_play_{season}.parquet",
	"weekly":           releases + "stats_player/stats_player_week_{season}.parquet",
	"rosters":          releases + "weekly_rosters/roster_weekly_{season}.parquet",
	"rosters_seasonal": releases + "rosters/roster_{season}.parquet",
	"injuries":         releases + "injuries/injuries_{season}.parquet",
	"depth_charts":     releases + "depth_charts/depth_charts_{season}.parquet",
	"snap_counts":      releases + "snap_counts/snap_counts_{season}.parquet",
	"players":          releases + "players/players.parquet",
}

type sourceOptions struct {
	URL          string `mapstructure:"url"`
	Path         string `mapstructure:"path"`
	Format       string `mapstructure:"format"`
	SeasonColumn string `mapstructure:"season_column"`
	SinceColumn  string `mapstructure:"since_column"`
}

func (o *sourceOptions) seasonColumn() string {
	if o.SeasonColumn == "" {
		return "season"
	}
	return o.SeasonColumn
}

// Nflverse reads public nflverse release files, one per season, through the
// DuckDB reader.
type Nflverse struct {
	reader SourceReader
	logger *slog.Logger
}

// NewNflverse creates an nflverse importer.
func NewNflverse(d Deps) *Nflverse {
	return &Nflverse{reader: d.Reader, logger: d.Logger}
}

// Fetch implements Fetcher.
func (n *Nflverse) Fetch(ctx context.Context, spec catalog.DatasetSpec, req Request) (*table.Table, error) {
	var o sourceOptions
	if err := decodeOptions(spec.Options, &o); err != nil {
		return nil, Permanent(err)
	}
	tmpl := o.URL
	if tmpl == "" {
		tmpl = defaultURLs[spec.Name]
	}
	if tmpl == "" {
		return nil, Permanent(fmt.Errorf("dataset %s: nflverse importer needs options.url", spec.Name))
	}

	t, err := readSeasons(ctx, n.reader, n.logger, []string{tmpl}, o, req.Seasons)
	if err != nil {
		return nil, err
	}
	return filterSince(t, o.SinceColumn, req.Since), nil
}

// readSeasons reads one source per season when the template has a season
// placeholder, otherwise reads the sources once and keeps the requested
// seasons. Sources missing the season column get it as a constant.
func readSeasons(ctx context.Context, r SourceReader, logger *slog.Logger, sources []string, o sourceOptions, seasons []int) (*table.Table, error) {
	if r == nil {
		return nil, Permanent(fmt.Errorf("importer has no source reader"))
	}
	col := o.seasonColumn()
	templated := len(seasons) > 0 && len(sources) == 1 && strings.Contains(sources[0], SeasonPlaceholder)

	if !templated {
		out := table.Empty()
		for _, src := range sources {
			t, err := r.ReadSource(ctx, src, o.Format)
			if err != nil {
				return nil, err
			}
			out = table.Union(out, t)
		}
		return keepSeasons(out, col, seasons), nil
	}

	parts := make([]*table.Table, 0, len(seasons))
	for _, season := range seasons {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := strings.ReplaceAll(sources[0], SeasonPlaceholder, strconv.Itoa(season))
		t, err := r.ReadSource(ctx, src, o.Format)
		if err != nil {
			return nil, fmt.Errorf("season %d: %w", season, err)
		}
		if !t.Has(col) {
			if t, err = t.WithColumn(constant(col, int64(season), t.NumRows())); err != nil {
				return nil, err
			}
		}
		logger.Debug("fetched season", "src", src, "rows", t.NumRows())
		parts = append(parts, t)
	}
	return table.Concat(parts...), nil
}

func keepSeasons(t *table.Table, column string, seasons []int) *table.Table {
	c, ok := t.Column(column)
	if !ok || len(seasons) == 0 {
		return t
	}
	want := make(map[int64]bool, len(seasons))
	for _, s := range seasons {
		want[int64(s)] = true
	}
	ints := c.Cast(table.KindInt64)
	return t.Filter(func(row int) bool {
		v, ok := ints.Value(row).(int64)
		return ok && want[v]
	})
}

// filterSince drops rows whose column value is before since. Rows with no
// value are kept since their age is unknown.
func filterSince(t *table.Table, column string, since *time.Time) *table.Table {
	if column == "" || since == nil {
		return t
	}
	c, ok := t.Column(column)
	if !ok {
		return t
	}
	ts := c.Cast(table.KindTimestamp)
	return t.Filter(func(row int) bool {
		v, ok := ts.Value(row).(time.Time)
		return !ok || !v.Before(*since)
	})
}

func constant(name string, v any, n int) *table.Column {
	values := make([]any, n)
	for i := range values {
		values[i] = v
	}
	return table.InferColumn(name, values)
}
