package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

func TestCompute(t *testing.T) {
	tbl := table.MustNew(
		table.InferColumn("season", []any{2023, 2024, 2024}),
		table.InferColumn("week", []any{1, 2, 2}),
		table.InferColumn("player_id", []any{"a", "b", "b"}),
		table.InferColumn("note", []any{nil, nil, nil}),
	)
	m := Compute(tbl, []string{"season", "week", "player_id", "team"})

	assert.Equal(t, 3, m.Rows)
	assert.Equal(t, 4, m.NumColumns)
	assert.Equal(t, "int64", m.Kinds["season"])
	assert.Equal(t, map[string]int{"season": 0, "week": 0, "player_id": 0}, m.KeyNulls)
	// team is missing, so uniqueness is not reported.
	assert.Nil(t, m.KeyUniqueRows)
	assert.Equal(t, Range{Min: 2023, Max: 2024}, m.Ranges["season"])
	assert.Equal(t, Range{Min: 1, Max: 2}, m.Ranges["week"])

	m = Compute(tbl, []string{"season", "week", "player_id"})
	require.NotNil(t, m.KeyUniqueRows)
	assert.Equal(t, 2, *m.KeyUniqueRows)
	assert.Equal(t, 1, *m.KeyDuplicateRows)
	assert.InDelta(t, 2.0/3.0, *m.KeyUniqueRatio, 1e-9)
}

func TestCompute_Empty(t *testing.T) {
	m := Compute(table.Empty(), []string{"id"})
	assert.Equal(t, 0, m.Rows)
	assert.Nil(t, m.KeyUniqueRows)
	assert.Nil(t, m.Ranges)
}

type dirScanner map[string]*table.Table

func (d dirScanner) Scan(_ context.Context, dir string) (*table.Table, error) {
	t, ok := d[filepath.ToSlash(dir)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, tableio.ErrNotFound)
	}
	return t, nil
}

func TestRun(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()
	weeklyDir := tableio.DatasetDir(root, core.LayerCleaned, "weekly")
	for _, p := range []string{"season=2023/week=1", "season=2024/week=1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(weeklyDir, p), 0o755))
	}

	rows := table.MustNew(
		table.InferColumn("season", []any{2024}),
		table.InferColumn("week", []any{1}),
		table.InferColumn("player_id", []any{"a"}),
	)
	s := dirScanner{filepath.ToSlash(filepath.Join(weeklyDir, "season=2024", "week=1")): rows}
	specs := []catalog.DatasetSpec{
		{Name: "weekly", Partitions: []string{"season", "week"}, Key: []string{"season", "week", "player_id"}},
		{Name: "pbp", Partitions: []string{"year"}, Key: []string{"game_id", "play_id"}},
	}

	reports, err := Run(context.Background(), s, specs, Config{
		Root:      root,
		Layer:     core.LayerCleaned,
		Filter:    partition.ParseFilter("2024"),
		OutputDir: out,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "season=2024/week=1", reports[0].Partition)

	path := filepath.Join(out, "weekly", "cleaned_season=2024_week=1.json")
	assert.Equal(t, path, reports[0].Path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "weekly", got["dataset"])
	assert.Equal(t, "cleaned", got["layer"])

	// Without the filter the 2023 partition is attempted and fails to read.
	_, err = Run(context.Background(), s, specs[:1], Config{Root: root, Layer: core.LayerCleaned, OutputDir: out})
	assert.ErrorIs(t, err, tableio.ErrNotFound)
}

func TestRun_UnknownLayer(t *testing.T) {
	_, err := Run(context.Background(), dirScanner{}, nil, Config{Layer: "gold"})
	assert.ErrorContains(t, err, "unknown layer")
}
