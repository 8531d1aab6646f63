package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/pkg/core"
)

func TestLoad_Missing(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "lineage.json"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog", "lineage.json")
	ts := time.Date(2024, 9, 10, 8, 30, 0, 0, time.UTC)

	m := UpdateDataset(Manifest{}, "weekly", ts, 120, []string{"season=2024/week=1"}, map[string]core.PartitionStats{
		"season=2024/week=1": {RowCount: 120, Fingerprint: "abc"},
	})
	require.NoError(t, Save(path, m))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_ingest_utc": "2024-09-10T08:30:00Z"`)
	assert.Contains(t, string(raw), `"sha256_fingerprint": "abc"`)
	assert.Contains(t, string(raw), `"min_ingested_at": null`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is cleaned up")
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestUpdateDataset_IsPure(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	before := UpdateDataset(Manifest{}, "pbp", ts, 10, []string{"year=2023"}, map[string]core.PartitionStats{
		"year=2023": {RowCount: 10},
	})

	after := UpdateDataset(before, "pbp", ts.Add(time.Hour), 5, []string{"year=2024"}, map[string]core.PartitionStats{
		"year=2024": {RowCount: 5},
	})

	assert.Equal(t, []string{"year=2023"}, before["pbp"].ChangedPartitions)
	assert.Len(t, before["pbp"].Partitions, 1)

	rec := after["pbp"]
	assert.Equal(t, 5, rec.RowsLastBatch)
	assert.Equal(t, []string{"year=2024"}, rec.ChangedPartitions)
	assert.Equal(t, "2024-01-01T01:00:00Z", rec.LastIngestUTC)
	assert.Equal(t, 10, rec.Partitions["year=2023"].RowCount, "untouched partitions are kept")
	assert.Equal(t, 5, rec.Partitions["year=2024"].RowCount)
}

func TestRecordFailure(t *testing.T) {
	first := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	tests := []struct {
		name      string
		start     Manifest
		wantParts int
	}{
		{name: "new dataset", start: Manifest{}},
		{
			name: "keeps earlier partitions",
			start: UpdateDataset(Manifest{}, "injuries", first, 5, []string{"season=2024"}, map[string]core.PartitionStats{
				"season=2024": {RowCount: 5, Fingerprint: "f"},
			}),
			wantParts: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := RecordFailure(tt.start, "injuries", second)
			rec := m["injuries"]
			assert.Equal(t, second.Format(time.RFC3339), rec.LastIngestUTC)
			assert.Equal(t, 0, rec.RowsLastBatch)
			assert.NotNil(t, rec.ChangedPartitions)
			assert.Empty(t, rec.ChangedPartitions)
			assert.Len(t, rec.Partitions, tt.wantParts)
		})
	}
}

func TestRecordPartitionCount(t *testing.T) {
	m := UpdateDataset(Manifest{}, "schedules", time.Now(), 3, []string{"all"}, map[string]core.PartitionStats{
		"all": {RowCount: 3, Fingerprint: "f"},
	})
	out := RecordPartitionCount(m, "schedules", "all", 7)

	assert.Equal(t, 3, m["schedules"].Partitions["all"].RowCount)
	assert.Equal(t, 7, out["schedules"].Partitions["all"].RowCount)
	assert.Equal(t, "f", out["schedules"].Partitions["all"].Fingerprint)

	fresh := RecordPartitionCount(Manifest{}, "ids", "all", 2)
	assert.Equal(t, 2, fresh["ids"].Partitions["all"].RowCount)
}

func TestFingerprint(t *testing.T) {
	tbl := table.MustNew(
		table.InferColumn("game_id", []any{"g1", "g1"}),
		table.InferColumn("play_id", []any{1, nil}),
		table.InferColumn("desc", []any{"run", "pass"}),
	)

	h := sha256.New()
	h.Write([]byte("g1|1"))
	h.Write([]byte("g1|"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), Fingerprint(tbl, []string{"game_id", "play_id", "missing"}))

	reversed := tbl.Take([]int{1, 0})
	assert.NotEqual(t, Fingerprint(tbl, []string{"game_id", "play_id"}), Fingerprint(reversed, []string{"game_id", "play_id"}),
		"fingerprint depends on row order")

	assert.Empty(t, Fingerprint(tbl, []string{"missing"}))
}

func TestCompute(t *testing.T) {
	early := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC)
	tbl := table.MustNew(
		table.InferColumn("player_id", []any{"a", "b", "c"}),
		table.InferColumn(core.ColumnIngestedAt, []any{late, nil, early}),
	)

	st := Compute(tbl, []string{"player_id"})
	assert.Equal(t, 3, st.RowCount)
	assert.Len(t, st.Fingerprint, 64)
	require.NotNil(t, st.MinIngestedAt)
	require.NotNil(t, st.MaxIngestedAt)
	assert.Equal(t, "2024-09-01T00:00:00Z", *st.MinIngestedAt)
	assert.Equal(t, "2024-09-08T00:00:00Z", *st.MaxIngestedAt)

	plain := Compute(table.MustNew(table.InferColumn("player_id", []any{"a"})), []string{"player_id"})
	assert.Nil(t, plain.MinIngestedAt)
}
