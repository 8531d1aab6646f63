package tableio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/internal/testutil"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Threads: 1, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func weeklySample() *table.Table {
	ts := time.Date(2024, 9, 10, 12, 0, 0, 0, time.UTC)
	return table.MustNew(
		table.InferColumn("season", []any{2024, 2024, 2023}),
		table.InferColumn("week", []any{1, 1, 2}),
		table.InferColumn("player_id", []any{"b", "a", "c"}),
		table.InferColumn("yards", []any{10.5, nil, 3.0}),
		table.InferColumn("active", []any{true, false, nil}),
		table.InferColumn("ingested_at", []any{ts, ts, ts}),
		table.NullColumn("note", table.KindNull, 3),
	)
}

func TestWriteScan_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	dir := filepath.Join(t.TempDir(), "raw", "weekly")

	res, err := s.Write(ctx, weeklySample(), dir, WriteOptions{
		PartitionKeys: []string{"season", "week"},
		SortBy:        []string{"player_id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, []string{"season=2024/week=1", "season=2023/week=2"}, partition.Keys(res.Partitions))
	assert.Len(t, res.Files, 2)

	got, err := s.ScanPartition(ctx, dir, partition.MustParse("season=2024/week=1"))
	require.NoError(t, err)
	require.Equal(t, 2, got.NumRows())

	pid, _ := got.Column("player_id")
	assert.Equal(t, []any{"a", "b"}, pid.Values(), "rows are sorted inside the partition")

	season, _ := got.Column("season")
	assert.Equal(t, table.KindInt64, season.Kind(), "partition columns are kept in the files")

	yards, _ := got.Column("yards")
	assert.Equal(t, table.KindFloat64, yards.Kind())
	assert.Equal(t, []any{nil, 10.5}, yards.Values())

	active, _ := got.Column("active")
	assert.Equal(t, table.KindBool, active.Kind())

	ing, _ := got.Column("ingested_at")
	assert.Equal(t, table.KindTimestamp, ing.Kind())

	note, _ := got.Column("note")
	assert.Equal(t, table.KindString, note.Kind(), "untyped columns are stored as text")
	assert.True(t, note.AllNull())

	all, err := s.Scan(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, all.NumRows())
}

func TestWrite_MaxRowsPerFile(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	dir := t.TempDir()

	tbl := table.MustNew(table.InferColumn("id", []any{1, 2, 3, 4, 5}))
	res, err := s.Write(ctx, tbl, dir, WriteOptions{MaxRowsPerFile: 2, BaseName: "part"})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	assert.Equal(t, filepath.Join(dir, "part-00000.parquet"), res.Files[0])
	assert.True(t, res.Partitions[0].IsSentinel())

	got, err := s.Scan(ctx, dir)
	require.NoError(t, err)
	id, _ := got.Column("id")
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, id.Values())
}

func TestWrite_AppendsWithUniqueNames(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	dir := t.TempDir()

	first := table.MustNew(table.InferColumn("id", []any{1}))
	second := table.MustNew(
		table.InferColumn("id", []any{2.5}),
		table.InferColumn("extra", []any{"x"}),
	)
	_, err := s.Write(ctx, first, dir, WriteOptions{BaseName: "a"})
	require.NoError(t, err)
	_, err = s.Write(ctx, second, dir, WriteOptions{BaseName: "b"})
	require.NoError(t, err)

	got, err := s.Scan(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, 2, got.NumRows())

	id, _ := got.Column("id")
	assert.Equal(t, table.KindFloat64, id.Kind(), "int and float files widen to float")
	assert.Equal(t, []any{1.0, 2.5}, id.Values())

	extra, _ := got.Column("extra")
	assert.Equal(t, []any{nil, "x"}, extra.Values())
}

func TestScan_Missing(t *testing.T) {
	s := openStore(t)
	_, err := s.Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestScan_SkipsHiddenEntries(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	root := t.TempDir()

	tbl := table.MustNew(table.InferColumn("id", []any{1}))
	_, err := s.Write(ctx, tbl, root, WriteOptions{BaseName: "data"})
	require.NoError(t, err)
	_, err = s.Write(ctx, tbl, filepath.Join(root, "_staging"), WriteOptions{BaseName: "data"})
	require.NoError(t, err)
	_, err = s.Write(ctx, tbl, filepath.Join(root, ".old"), WriteOptions{BaseName: "data"})
	require.NoError(t, err)

	files, err := DataFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "data-00000.parquet")}, files)
	assert.True(t, HasData(root))
	assert.False(t, HasData(filepath.Join(root, "absent")))
}

func TestReadSource_CSV(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(t.TempDir(), "injuries.csv")
	require.NoError(t, os.WriteFile(path, []byte("season,week,gsis_id,status\n2024,1,00-1,Out\n2024,1,00-2,\n"), 0o600))

	got, err := s.ReadSource(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.NumRows())
	season, _ := got.Column("season")
	assert.Equal(t, table.KindInt64, season.Kind())

	_, err = s.ReadSource(context.Background(), path, "xml")
	require.Error(t, err)
}

func TestInferFormat(t *testing.T) {
	tests := map[string]string{
		"https://host/weekly_2024.parquet":     FormatParquet,
		"https://host/injuries_2024.csv?raw=1": FormatCSV,
		"/tmp/players.csv.gz":                  FormatCSV,
		"/tmp/events.jsonl":                    FormatJSON,
		"/tmp/noext":                           FormatParquet,
	}
	for in, want := range tests {
		assert.Equal(t, want, InferFormat(in), in)
	}
}

func TestMapType(t *testing.T) {
	tests := []struct {
		in   string
		kind table.Kind
		cast string
	}{
		{"INTEGER", table.KindInt64, "BIGINT"},
		{"DECIMAL(18,3)", table.KindFloat64, "DOUBLE"},
		{"DOUBLE", table.KindFloat64, ""},
		{"DATE", table.KindTimestamp, "TIMESTAMP"},
		{"VARCHAR", table.KindString, ""},
		{"UUID", table.KindString, "VARCHAR"},
		{"STRUCT", table.KindString, "VARCHAR"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, cast := mapType(tt.in)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.cast, cast)
		})
	}
}

func TestListPartitions(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"season=2024/week=1",
		"season=2024/week=2",
		"season=2023/week=1",
		"_staging/week=9",
		"season=2022",
		"notapartition",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(p)), 0o750))
	}

	parts, err := ListPartitions(root, []string{"season", "week"}, partition.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"season=2023/week=1", "season=2024/week=1", "season=2024/week=2"}, partition.Keys(parts))

	parts, err = ListPartitions(root, []string{"season", "week"}, partition.ParseFilter("2024"))
	require.NoError(t, err)
	assert.Equal(t, []string{"season=2024/week=1", "season=2024/week=2"}, partition.Keys(parts))

	parts, err = ListPartitions(root, nil, partition.Filter{})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].IsSentinel())

	parts, err = ListPartitions(filepath.Join(root, "absent"), nil, partition.Filter{})
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestMoveReplace(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "_staging", "weekly", "season=2024")
	dst := filepath.Join(root, "cleaned", "weekly", "season=2024")

	require.NoError(t, os.MkdirAll(src, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "new.parquet"), []byte("new"), 0o600))
	require.NoError(t, os.MkdirAll(dst, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "old.parquet"), []byte("old"), 0o600))

	require.NoError(t, MoveReplace(src, dst))

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new.parquet", entries[0].Name())

	siblings, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, siblings, 1, "set-aside directory is removed")

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestMoveReplace_CreatesParent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "stage")
	dst := filepath.Join(root, "cleaned", "schedules", "season=2024")
	require.NoError(t, os.MkdirAll(src, 0o750))

	require.NoError(t, MoveReplace(src, dst))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMoveReplace_MissingSourceKeepsDestination(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "cleaned", "pbp", "year=2024")
	require.NoError(t, os.MkdirAll(dst, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "old.parquet"), []byte("old"), 0o600))

	err := MoveReplace(filepath.Join(root, "missing"), dst)
	require.Error(t, err)
	var pe *PublishError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.CrossDevice)

	data, err := os.ReadFile(filepath.Join(dst, "old.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestMoveReplace_InterruptedPublish(t *testing.T) {
	tests := []struct {
		name      string
		dstExists bool
		asides    []string
		wantOld   string
	}{
		{
			name:    "lone aside is restored",
			asides:  []string{"aaaaaaaa"},
			wantOld: "aaaaaaaa",
		},
		{
			name:    "newest aside wins and the rest are pruned",
			asides:  []string{"aaaaaaaa", "bbbbbbbb"},
			wantOld: "bbbbbbbb",
		},
		{
			name:      "stale aside next to live partition is pruned",
			dstExists: true,
			asides:    []string{"aaaaaaaa"},
			wantOld:   "live",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dst := filepath.Join(root, "cleaned", "weekly", "season=2024")
			parent := filepath.Dir(dst)
			require.NoError(t, os.MkdirAll(parent, 0o750))
			if tt.dstExists {
				require.NoError(t, os.MkdirAll(dst, 0o750))
				require.NoError(t, os.WriteFile(filepath.Join(dst, "old.parquet"), []byte("live"), 0o600))
			}
			for i, id := range tt.asides {
				aside := filepath.Join(parent, ".season=2024.old-"+id)
				require.NoError(t, os.MkdirAll(aside, 0o750))
				require.NoError(t, os.WriteFile(filepath.Join(aside, "old.parquet"), []byte(id), 0o600))
				mod := time.Now().Add(time.Duration(i-len(tt.asides)) * time.Minute)
				require.NoError(t, os.Chtimes(aside, mod, mod))
			}

			// The source is gone as well, so the publish fails after recovery.
			err := MoveReplace(filepath.Join(root, "missing"), dst)
			require.Error(t, err)

			data, err := os.ReadFile(filepath.Join(dst, "old.parquet"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOld, string(data))

			siblings, err := os.ReadDir(parent)
			require.NoError(t, err)
			require.Len(t, siblings, 1)
			assert.Equal(t, "season=2024", siblings[0].Name())
		})
	}
}

func TestMoveReplace_CleanupFailureIsNotFatal(t *testing.T) {
	orig := removeAll
	removeAll = func(string) error { return errors.New("device busy") }
	t.Cleanup(func() { removeAll = orig })

	root := t.TempDir()
	src := filepath.Join(root, "_staging", "season=2024")
	dst := filepath.Join(root, "cleaned", "weekly", "season=2024")
	require.NoError(t, os.MkdirAll(src, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "new.parquet"), []byte("new"), 0o600))
	require.NoError(t, os.MkdirAll(dst, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "old.parquet"), []byte("old"), 0o600))

	require.NoError(t, MoveReplaceWithLogger(src, dst, testutil.NewTestLogger(t)))

	data, err := os.ReadFile(filepath.Join(dst, "new.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// The leftover copy is pruned by the next publish.
	removeAll = orig
	src2 := filepath.Join(root, "_staging", "again")
	require.NoError(t, os.MkdirAll(src2, 0o750))
	require.NoError(t, MoveReplace(src2, dst))
	siblings, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, siblings, 1)
}
