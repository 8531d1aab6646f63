package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/statlake/internal/table"
)

// Rows builds a table from row literals. Column kinds are inferred from the
// values, so a column of Go ints becomes int64 and nil becomes null.
func Rows(t testing.TB, columns []string, rows ...[]any) *table.Table {
	t.Helper()
	values := make([][]any, len(columns))
	for i, row := range rows {
		require.Len(t, row, len(columns), "row %d", i)
		for j, v := range row {
			values[j] = append(values[j], v)
		}
	}
	cols := make([]*table.Column, len(columns))
	for j, name := range columns {
		cols[j] = table.InferColumn(name, values[j])
	}
	out, err := table.New(cols...)
	require.NoError(t, err)
	return out
}

// Column returns the values of a column as a slice, failing when absent.
func Column(t testing.TB, tbl *table.Table, name string) []any {
	t.Helper()
	c, ok := tbl.Column(name)
	require.True(t, ok, "column %s missing", name)
	return c.Values()
}
