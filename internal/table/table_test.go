package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonKind(t *testing.T) {
	tests := []struct {
		a, b Kind
		want Kind
	}{
		{KindInt64, KindInt64, KindInt64},
		{KindNull, KindFloat64, KindFloat64},
		{KindTimestamp, KindNull, KindTimestamp},
		{KindString, KindInt64, KindString},
		{KindBool, KindString, KindString},
		{KindInt64, KindFloat64, KindFloat64},
		{KindFloat64, KindInt64, KindFloat64},
		{KindBool, KindInt64, KindString},
		{KindTimestamp, KindFloat64, KindString},
	}
	for _, tt := range tests {
		t.Run(tt.a.String()+"_"+tt.b.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CommonKind(tt.a, tt.b))
			assert.Equal(t, tt.want, CommonKind(tt.b, tt.a), "must be symmetric")
		})
	}
}

func TestConvert(t *testing.T) {
	ts := time.Date(2024, 9, 8, 17, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		in     any
		to     Kind
		want   any
		wantOK bool
	}{
		{"int to float", 3, KindFloat64, 3.0, true},
		{"integral float to int", 2009.0, KindInt64, int64(2009), true},
		{"fractional float truncates", 2.7, KindInt64, int64(2), true},
		{"nan to int fails", math.NaN(), KindInt64, nil, false},
		{"numeric string to int", " 42 ", KindInt64, int64(42), true},
		{"float string to int", "2009.0", KindInt64, int64(2009), true},
		{"garbage to int fails", "abc", KindInt64, nil, false},
		{"int to string", int64(7), KindString, "7", true},
		{"float to string", 1.5, KindString, "1.5", true},
		{"bool string", "true", KindBool, true, true},
		{"date string to timestamp", "2024-09-08T17:00:00Z", KindTimestamp, ts, true},
		{"timestamp to string", ts, KindString, "2024-09-08T17:00:00Z", true},
		{"nil stays nil", nil, KindInt64, nil, true},
		{"non-null to null fails", "x", KindNull, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Convert(tt.in, tt.to)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestInferKind(t *testing.T) {
	assert.Equal(t, KindNull, InferKind([]any{nil, nil}))
	assert.Equal(t, KindInt64, InferKind([]any{1, nil, int64(2)}))
	assert.Equal(t, KindFloat64, InferKind([]any{1, 2.5}))
	assert.Equal(t, KindString, InferKind([]any{1, "a"}))
	assert.Equal(t, KindString, InferKind([]any{true, 1}))
}

func TestNewColumnCastFailuresBecomeNull(t *testing.T) {
	c := NewColumn("week", KindInt64, []any{"1", "bye", 3.0, nil})
	assert.Equal(t, []any{int64(1), nil, int64(3), nil}, c.Values())
	assert.Equal(t, 2, c.NullCount())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(InferColumn("a", []any{1}), InferColumn("a", []any{2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column")

	_, err = New(InferColumn("a", []any{1}), InferColumn("b", []any{1, 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
}

func TestFromRecords(t *testing.T) {
	tbl := FromRecords([]map[string]any{
		{"section": "scoring", "id": "pass_td", "points": 4},
		{"section": "lineup", "id": "slot_QB", "count": 1},
	}, "section", "id")

	assert.Equal(t, []string{"section", "id", "points", "count"}, tbl.Names())
	assert.Equal(t, 2, tbl.NumRows())
	points, _ := tbl.Column("points")
	assert.Equal(t, KindInt64, points.Kind())
	assert.Nil(t, points.Value(1))
}

func TestTable_RenameDropSelect(t *testing.T) {
	tbl := MustNew(
		InferColumn("recent_team", []any{"BUF"}),
		InferColumn("player_id", []any{"00-1"}),
	)

	renamed, err := tbl.Rename("recent_team", "team")
	require.NoError(t, err)
	assert.Equal(t, []string{"team", "player_id"}, renamed.Names())

	same, err := tbl.Rename("missing", "team")
	require.NoError(t, err)
	assert.Equal(t, tbl, same)

	_, err = tbl.Rename("recent_team", "player_id")
	require.Error(t, err)

	assert.Equal(t, []string{"player_id"}, tbl.Drop("recent_team").Names())

	sel, err := tbl.Select("player_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"player_id"}, sel.Names())
	_, err = tbl.Select("nope")
	require.Error(t, err)
}

func TestTable_SortStable(t *testing.T) {
	tbl := MustNew(
		InferColumn("k", []any{"b", "a", "b", nil}),
		InferColumn("n", []any{1, 2, 3, 4}),
	)
	sorted := tbl.SortStable("k")
	n, _ := sorted.Column("n")
	assert.Equal(t, []any{int64(4), int64(2), int64(1), int64(3)}, n.Values())

	assert.Same(t, tbl, tbl.SortStable("unknown"))
}

func TestTable_GroupKeyDistinguishesNullFromEmpty(t *testing.T) {
	tbl := MustNew(InferColumn("team", []any{nil, ""}))
	assert.NotEqual(t, tbl.GroupKey(0, []string{"team"}), tbl.GroupKey(1, []string{"team"}))
	assert.Equal(t, tbl.RowKey(0, []string{"team"}, "|"), tbl.RowKey(1, []string{"team"}, "|"))
}

func TestUnion_SchemaDrift(t *testing.T) {
	existing := MustNew(
		NewColumn("a", KindInt64, []any{1, 2}),
		NewColumn("b", KindString, []any{"x", "y"}),
	)
	incoming := MustNew(
		NewColumn("b", KindString, []any{"z"}),
		NewColumn("c", KindFloat64, []any{0.5}),
	)

	merged := Union(existing, incoming)

	require.Equal(t, []string{"a", "b", "c"}, merged.Names())
	require.Equal(t, 3, merged.NumRows())

	a, _ := merged.Column("a")
	b, _ := merged.Column("b")
	c, _ := merged.Column("c")
	assert.Equal(t, KindInt64, a.Kind())
	assert.Equal(t, KindFloat64, c.Kind())
	assert.Equal(t, []any{int64(1), int64(2), nil}, a.Values())
	assert.Equal(t, []any{"x", "y", "z"}, b.Values())
	assert.Equal(t, []any{nil, nil, 0.5}, c.Values())
}

func TestUnion_WidensConflictingKinds(t *testing.T) {
	tests := []struct {
		name     string
		left     *Column
		right    *Column
		wantKind Kind
		want     []any
	}{
		{
			name:     "int and float widen to float",
			left:     NewColumn("v", KindInt64, []any{1}),
			right:    NewColumn("v", KindFloat64, []any{1.5}),
			wantKind: KindFloat64,
			want:     []any{1.0, 1.5},
		},
		{
			name:     "int and string widen to string",
			left:     NewColumn("v", KindInt64, []any{8}),
			right:    NewColumn("v", KindString, []any{"ten"}),
			wantKind: KindString,
			want:     []any{"8", "ten"},
		},
		{
			name:     "null side takes other kind",
			left:     NullColumn("v", KindNull, 1),
			right:    NewColumn("v", KindTimestamp, []any{time.Unix(0, 0)}),
			wantKind: KindTimestamp,
			want:     []any{nil, time.Unix(0, 0).UTC()},
		},
		{
			name:     "bool and int widen to string",
			left:     NewColumn("v", KindBool, []any{true}),
			right:    NewColumn("v", KindInt64, []any{3}),
			wantKind: KindString,
			want:     []any{"true", "3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Union(MustNew(tt.left), MustNew(tt.right))
			col, ok := merged.Column("v")
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, col.Kind())
			assert.Equal(t, tt.want, col.Values())
		})
	}
}

func TestUnion_MissingUntypedColumnBecomesString(t *testing.T) {
	left := MustNew(NewColumn("k", KindInt64, []any{1}), NullColumn("note", KindNull, 1))
	right := MustNew(NewColumn("k", KindInt64, []any{2}))

	merged := Union(left, right)
	note, _ := merged.Column("note")
	assert.Equal(t, KindString, note.Kind())
	assert.Equal(t, []any{nil, nil}, note.Values())
}

func TestConcat_SkipsEmpty(t *testing.T) {
	a := MustNew(NewColumn("k", KindInt64, []any{1}))
	got := Concat(Empty(), a, nil, Empty())
	assert.Equal(t, 1, got.NumRows())
	assert.Equal(t, []string{"k"}, got.Names())
}

func TestConcat_MatchesPairwiseUnion(t *testing.T) {
	tests := []struct {
		name   string
		tables []*Table
	}{
		{
			name: "columns appear and disappear",
			tables: []*Table{
				MustNew(NewColumn("season", KindInt64, []any{2022}), NewColumn("team", KindString, []any{"A"})),
				MustNew(NewColumn("team", KindString, []any{"B", "C"}), NewColumn("yards", KindFloat64, []any{1.5, nil})),
				MustNew(NewColumn("season", KindInt64, []any{2024}), NewColumn("yards", KindInt64, []any{7})),
			},
		},
		{
			name: "untyped column widens once another file drops it",
			tables: []*Table{
				MustNew(NewColumn("k", KindInt64, []any{1}), NullColumn("note", KindNull, 1)),
				MustNew(NewColumn("k", KindInt64, []any{2})),
				MustNew(NewColumn("k", KindInt64, []any{3}), NewColumn("note", KindString, []any{"late"})),
			},
		},
		{
			name: "leading null kind takes the later kind",
			tables: []*Table{
				MustNew(NullColumn("ts", KindNull, 2)),
				MustNew(NewColumn("ts", KindTimestamp, []any{time.Unix(60, 0)})),
			},
		},
		{
			name: "single file is returned as is",
			tables: []*Table{
				MustNew(NewColumn("k", KindBool, []any{true, false})),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := Empty()
			for _, tbl := range tt.tables {
				want = Union(want, tbl)
			}

			got := Concat(tt.tables...)

			require.Equal(t, want.Names(), got.Names())
			require.Equal(t, want.NumRows(), got.NumRows())
			for _, name := range want.Names() {
				wc, _ := want.Column(name)
				gc, _ := got.Column(name)
				assert.Equal(t, wc.Kind(), gc.Kind(), name)
				assert.Equal(t, wc.Values(), gc.Values(), name)
			}
		})
	}
}

func TestUpcastNull(t *testing.T) {
	tbl := MustNew(NullColumn("x", KindNull, 2), NewColumn("y", KindInt64, []any{1, 2}))
	out := UpcastNull(tbl)
	x, _ := out.Column("x")
	assert.Equal(t, KindString, x.Kind())
	assert.Same(t, out, UpcastNull(out))
}
