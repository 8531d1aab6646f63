package table

import (
	"fmt"
	"sort"
	"strings"
)

// Field describes one column of a table schema.
type Field struct {
	Name string
	Kind Kind
}

// Table is an ordered collection of equally long columns.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New builds a table from columns. Column names must be unique and all
// columns must have the same length.
func New(columns ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if c == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.name)
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.name, c.Len(), t.rows)
		}
		t.index[c.name] = i
		t.columns = append(t.columns, c)
	}
	return t, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(columns ...*Column) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{index: map[string]int{}}
}

// FromRows builds a table from row-oriented data, inferring column kinds.
func FromRows(names []string, rows [][]any) (*Table, error) {
	cols := make([][]any, len(names))
	for i := range cols {
		cols[i] = make([]any, len(rows))
	}
	for r, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", r, len(row), len(names))
		}
		for c, v := range row {
			cols[c][r] = v
		}
	}
	out := make([]*Column, len(names))
	for i, name := range names {
		out[i] = InferColumn(name, cols[i])
	}
	return New(out...)
}

// FromRecords builds a table from a slice of records. Columns appear in the
// order their names are first seen; records lacking a column get null.
func FromRecords(records []map[string]any, order ...string) *Table {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range order {
		add(name)
	}
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k)
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(names))
		for j, name := range names {
			row[j] = rec[name]
		}
		rows[i] = row
	}
	t, err := FromRows(names, rows)
	if err != nil {
		// FromRows only fails on ragged rows, which cannot happen here.
		panic(err)
	}
	return t
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int { return len(t.columns) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.name
	}
	return out
}

// Columns returns the columns in order.
func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Schema returns the name and kind of every column.
func (t *Table) Schema() []Field {
	out := make([]Field, len(t.columns))
	for i, c := range t.columns {
		out[i] = Field{Name: c.name, Kind: c.kind}
	}
	return out
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Has reports whether the table has a column named name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// HasAll reports whether every name is a column of t.
func (t *Table) HasAll(names ...string) bool {
	for _, n := range names {
		if !t.Has(n) {
			return false
		}
	}
	return true
}

// Present filters names down to the ones that are columns of t.
func (t *Table) Present(names ...string) []string {
	var out []string
	for _, n := range names {
		if t.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// WithColumn returns a table with c appended, or replacing the column of the
// same name in place.
func (t *Table) WithColumn(c *Column) (*Table, error) {
	cols := t.Columns()
	if i, ok := t.index[c.name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	return New(cols...)
}

// Rename returns a table with column from renamed to to. Renaming a missing
// column is a no-op; renaming onto an existing column is an error.
func (t *Table) Rename(from, to string) (*Table, error) {
	i, ok := t.index[from]
	if !ok || from == to {
		return t, nil
	}
	if t.Has(to) {
		return nil, fmt.Errorf("cannot rename %q to %q: column exists", from, to)
	}
	cols := t.Columns()
	cols[i] = cols[i].Renamed(to)
	return New(cols...)
}

// Drop returns a table without the named columns.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var cols []*Column
	for _, c := range t.columns {
		if !drop[c.name] {
			cols = append(cols, c)
		}
	}
	return MustNew(cols...)
}

// Select returns a table holding only the named columns in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return nil, fmt.Errorf("column %q not found", n)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// Take returns the rows at idx, in that order.
func (t *Table) Take(idx []int) *Table {
	cols := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c.take(idx)
	}
	return MustNew(cols...)
}

// Slice returns rows [start, end).
func (t *Table) Slice(start, end int) *Table {
	idx := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	return t.Take(idx)
}

// Filter returns the rows for which keep returns true, preserving order.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var idx []int
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Row returns the values of row i keyed by column name.
func (t *Table) Row(i int) map[string]any {
	out := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		out[c.name] = c.values[i]
	}
	return out
}

// RowKey renders the values of the given columns at row i joined by sep.
// Missing columns and null values render as the empty string.
func (t *Table) RowKey(i int, columns []string, sep string) string {
	var b strings.Builder
	for j, name := range columns {
		if j > 0 {
			b.WriteString(sep)
		}
		if c, ok := t.Column(name); ok {
			b.WriteString(FormatValue(c.values[i]))
		}
	}
	return b.String()
}

// GroupKey returns a string identifying the values of columns at row i,
// suitable as a map key. Null and the empty string yield different keys.
func (t *Table) GroupKey(i int, columns []string) string {
	var b strings.Builder
	for _, name := range columns {
		c, ok := t.Column(name)
		if !ok || c.values[i] == nil {
			b.WriteByte(0)
		} else {
			b.WriteByte(1)
			b.WriteString(FormatValue(c.values[i]))
		}
		b.WriteByte(0x1f)
	}
	return b.String()
}

// SortStable returns the rows ordered ascending by the given columns.
// Rows with equal sort values keep their relative order. Nulls sort first.
// Unknown column names are ignored.
func (t *Table) SortStable(by ...string) *Table {
	var keys []*Column
	for _, name := range by {
		if c, ok := t.Column(name); ok {
			keys = append(keys, c)
		}
	}
	if len(keys) == 0 {
		return t
	}
	idx := make([]int, t.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, c := range keys {
			if d := compareValues(c.values[idx[a]], c.values[idx[b]]); d != 0 {
				return d < 0
			}
		}
		return false
	})
	return t.Take(idx)
}

// String renders a short description, useful in test failures.
func (t *Table) String() string {
	parts := make([]string, len(t.columns))
	for i, c := range t.columns {
		parts[i] = c.name + ":" + c.kind.String()
	}
	return fmt.Sprintf("table[%d rows]{%s}", t.rows, strings.Join(parts, ", "))
}
