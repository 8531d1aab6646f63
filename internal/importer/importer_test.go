package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/internal/testutil"
)

// fakeReader returns a canned table per source and records every read.
type fakeReader struct {
	tables map[string]*table.Table
	reads  []string
}

func (f *fakeReader) ReadSource(_ context.Context, src, _ string) (*table.Table, error) {
	f.reads = append(f.reads, src)
	t, ok := f.tables[src]
	if !ok {
		return nil, fmt.Errorf("404: %s", src)
	}
	return t, nil
}

func TestParseYears(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "2019-2021", want: []int{2019, 2020, 2021}},
		{in: "2024", want: []int{2024}},
		{in: "2019, 2021,", want: []int{2019, 2021}},
		{in: "", want: nil},
		{in: "2021-2019", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseYears(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_UnknownImporter(t *testing.T) {
	_, err := New("carrier_pigeon", Deps{})
	var unknown *UnknownImporterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "carrier_pigeon", unknown.Name)
	assert.Contains(t, unknown.Available, "nflverse")
	assert.Equal(t, []string{"draftkings", "file", "nflverse"}, List())
}

func TestResolveRetry(t *testing.T) {
	fallback := Retry{Attempts: 3, Base: 5 * time.Second}

	t.Run("fallback", func(t *testing.T) {
		t.Setenv(RetryAttemptsEnvVar, "")
		t.Setenv(RetryBaseSecondsEnvVar, "")
		require.NoError(t, os.Unsetenv(RetryAttemptsEnvVar))
		require.NoError(t, os.Unsetenv(RetryBaseSecondsEnvVar))
		assert.Equal(t, fallback, ResolveRetry(nil, fallback))
	})
	t.Run("env", func(t *testing.T) {
		t.Setenv(RetryAttemptsEnvVar, "7")
		t.Setenv(RetryBaseSecondsEnvVar, "1")
		assert.Equal(t, Retry{Attempts: 7, Base: time.Second}, ResolveRetry(nil, fallback))
	})
	t.Run("options win", func(t *testing.T) {
		t.Setenv(RetryAttemptsEnvVar, "7")
		got := ResolveRetry(map[string]any{"retry_attempts": "2", "retry_base_seconds": 0}, fallback)
		assert.Equal(t, 2, got.Attempts)
		assert.Equal(t, time.Millisecond, got.Base)
	})
}

func TestWithRetry(t *testing.T) {
	spec := catalog.DatasetSpec{Name: "weekly"}
	r := Retry{Attempts: 3, Base: time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		f := WithRetry(FetcherFunc(func(context.Context, catalog.DatasetSpec, Request) (*table.Table, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("flaky")
			}
			return table.Empty(), nil
		}), r, testutil.NewTestLogger(t))
		out, err := f.Fetch(context.Background(), spec, Request{})
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		boom := errors.New("down")
		f := WithRetry(FetcherFunc(func(context.Context, catalog.DatasetSpec, Request) (*table.Table, error) {
			return nil, boom
		}), r, nil)
		_, err := f.Fetch(context.Background(), spec, Request{})
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "weekly", fe.Dataset)
		assert.Equal(t, 3, fe.Attempts)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("permanent stops", func(t *testing.T) {
		calls := 0
		f := WithRetry(FetcherFunc(func(context.Context, catalog.DatasetSpec, Request) (*table.Table, error) {
			calls++
			return nil, Permanent(errors.New("bad options"))
		}), r, nil)
		_, err := f.Fetch(context.Background(), spec, Request{})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestNflverse_Seasons(t *testing.T) {
	r := &fakeReader{tables: map[string]*table.Table{
		"https://x.test/w_2023.parquet": table.MustNew(table.InferColumn("player_id", []any{"a"})),
		"https://x.test/w_2024.parquet": table.MustNew(
			table.InferColumn("player_id", []any{"b"}),
			table.InferColumn("season", []any{2024}),
		),
	}}
	f, err := New("nflverse", Deps{Reader: r})
	require.NoError(t, err)

	spec := catalog.DatasetSpec{Name: "weekly", Options: map[string]any{"url": "https://x.test/w_{season}.parquet"}}
	out, err := f.Fetch(context.Background(), spec, Request{Seasons: []int{2023, 2024}})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://x.test/w_2023.parquet", "https://x.test/w_2024.parquet"}, r.reads)
	season, ok := out.Column("season")
	require.True(t, ok)
	assert.Equal(t, []any{int64(2023), int64(2024)}, season.Values())
}

func TestNflverse_DefaultURLAndErrors(t *testing.T) {
	r := &fakeReader{}
	f := NewNflverse(Deps{Reader: r})

	_, err := f.Fetch(context.Background(), catalog.DatasetSpec{Name: "pbp"}, Request{Seasons: []int{2024}})
	require.Error(t, err)
	assert.Equal(t, []string{releases + "pbp/play_by_play_2024.parquet"}, r.reads)

	_, err = f.Fetch(context.Background(), catalog.DatasetSpec{Name: "mystery"}, Request{Seasons: []int{2024}})
	var perm *permanentError
	assert.ErrorAs(t, err, &perm)
}

func TestNflverse_Since(t *testing.T) {
	src := "https://x.test/inj.csv"
	r := &fakeReader{tables: map[string]*table.Table{
		src: table.MustNew(
			table.InferColumn("season", []any{2024, 2024, 2023}),
			table.InferColumn("date_modified", []any{"2024-09-01", "2024-10-05", nil}),
		),
	}}
	f := NewNflverse(Deps{Reader: r})
	since := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	spec := catalog.DatasetSpec{Name: "injuries", Options: map[string]any{"url": src, "since_column": "date_modified"}}

	out, err := f.Fetch(context.Background(), spec, Request{Seasons: []int{2024}, Since: &since})
	require.NoError(t, err)
	// 2023 is outside the requested seasons; the 2024-09-01 row is too old.
	assert.Equal(t, 1, out.NumRows())
}

func TestFile_GlobPerSeason(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"s_2024_b.csv", "s_2024_a.csv", "s_2023_a.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	path := func(name string) string { return filepath.Join(dir, name) }
	r := &fakeReader{tables: map[string]*table.Table{
		path("s_2024_a.csv"): table.MustNew(table.InferColumn("x", []any{1})),
		path("s_2024_b.csv"): table.MustNew(table.InferColumn("x", []any{2})),
	}}
	f := NewFile(Deps{Reader: r})
	spec := catalog.DatasetSpec{Name: "feed", Options: map[string]any{"path": filepath.Join(dir, "s_{season}_*.csv")}}

	out, err := f.Fetch(context.Background(), spec, Request{Seasons: []int{2024}})
	require.NoError(t, err)
	assert.Equal(t, []string{path("s_2024_a.csv"), path("s_2024_b.csv")}, r.reads)
	x, _ := out.Column("x")
	assert.Equal(t, []any{int64(1), int64(2)}, x.Values())
	assert.True(t, out.Has("season"))

	_, err = f.Fetch(context.Background(), spec, Request{Seasons: []int{1999}})
	assert.ErrorContains(t, err, "no files match")
}

const rules = `
scoring:
  passing_td: 4
  rushing_yards:
    per_yard: 0.1
    modes: classic
roster:
  total_slots: 18
  position_caps_during_auto_draft:
    QB: 4
lineup:
  weekly_slots:
    - slot: FLEX
      count: 1
      eligible_positions: [RB, WR, TE]
tournaments:
  rounds:
    - round: 1
      weeks: [1, 2, 3]
  tie_breakers: highest single week
scoring_period:
  start_week: 1
draft:
  snake: true
  schedules:
    - label: fast
      fast_seconds_per_pick: 30
`

func TestParseRules(t *testing.T) {
	out, err := ParseRules([]byte(rules))
	require.NoError(t, err)

	ids := map[string]map[string]any{}
	for i := 0; i < out.NumRows(); i++ {
		row := out.Row(i)
		ids[row["section"].(string)+"/"+row["id"].(string)] = row
	}
	assert.Len(t, ids, out.NumRows())

	assert.Equal(t, int64(4), ids["scoring/passing_td"]["points"])
	assert.Equal(t, `["classic"]`, ids["scoring/rushing_yards"]["modes"])
	assert.Equal(t, `[]`, ids["scoring/rushing_yards"]["types"])
	assert.Equal(t, `["RB","WR","TE"]`, ids["lineup/slot_FLEX"]["eligible_positions"])
	assert.Equal(t, "18", ids["roster/total_slots"]["value"])
	assert.Equal(t, "QB", ids["roster/auto_cap_QB"]["position"])
	assert.Equal(t, "[1,2,3]", ids["tournaments_rounds/round_1"]["weeks"])
	assert.Contains(t, ids, "tournaments/tie_breakers")
	assert.Contains(t, ids, "scoring_period/start_week")
	assert.Equal(t, "true", ids["draft/snake"]["value"])
	assert.Contains(t, ids, "draft/schedule_fast")
	assert.Equal(t, "draftkings", ids["draft/snake"]["source"])
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("scoring: [unterminated"))
	require.Error(t, err)
}
