package tableio

import (
	"context"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
)

// minRowGroupRows is the smallest row group written, whatever the byte target.
const minRowGroupRows = 2048

// WriteOptions controls the layout of a dataset write.
type WriteOptions struct {
	// PartitionKeys lists the hive partition columns, outermost first.
	// Partition columns stay in the files as ordinary columns.
	PartitionKeys []string
	// Compression is the parquet codec name (zstd, snappy, ...).
	Compression string
	// RowGroupMB is the target row group size in megabytes.
	RowGroupMB int
	// MaxRowsPerFile splits a partition into several files. Zero means one file.
	MaxRowsPerFile int
	// SortBy orders rows inside each partition. Unknown columns are ignored.
	SortBy []string
	// BaseName prefixes every file name. Empty picks a unique name so that
	// repeated writes to the same directory append rather than overwrite.
	BaseName string
}

// WriteResult describes what a write produced.
type WriteResult struct {
	Partitions []partition.Partition
	// PartitionRows maps partition keys to the rows written there.
	PartitionRows map[string]int
	Files         []string
	Rows          int
}

// Write stores t under dir using hive partitioning. Each file is written to
// a temporary name and renamed into place once complete, so a reader never
// observes a partially written file.
func (s *Store) Write(ctx context.Context, t *table.Table, dir string, opts WriteOptions) (*WriteResult, error) {
	res := &WriteResult{PartitionRows: map[string]int{}}
	if t.NumColumns() == 0 {
		return res, nil
	}

	groups, err := partition.Split(t, opts.PartitionKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to partition table: %w", err)
	}

	base := opts.BaseName
	if base == "" {
		base = uuid.NewString()
	}

	for _, g := range groups {
		part := t.Take(g.Rows).SortStable(opts.SortBy...)
		target := filepath.Join(dir, filepath.FromSlash(g.Partition.Path()))
		if err := os.MkdirAll(target, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create partition directory: %w", err)
		}

		n := part.NumRows()
		chunk := opts.MaxRowsPerFile
		if chunk <= 0 || chunk > n {
			chunk = max(n, 1)
		}
		// An empty partition still gets one file so its schema survives.
		for i, start := 0, 0; i == 0 || start < n; i, start = i+1, start+chunk {
			file := filepath.Join(target, fmt.Sprintf("%s-%05d.parquet", base, i))
			if err := s.writeFile(ctx, part.Slice(start, min(start+chunk, n)), file, opts); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", file, err)
			}
			res.Files = append(res.Files, file)
		}

		res.Partitions = append(res.Partitions, g.Partition)
		res.PartitionRows[g.Partition.Key()] = n
		res.Rows += n
		s.logger.Debug("wrote partition", "dir", target, "rows", n)
	}
	return res, nil
}

// writeFile loads t into a scratch DuckDB table through the appender API and
// copies it out as one parquet file.
func (s *Store) writeFile(ctx context.Context, t *table.Table, file string, opts WriteOptions) error {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to get native connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	execer, ok := conn.(driver.ExecerContext)
	if !ok {
		return fmt.Errorf("duckdb connection does not support exec")
	}
	exec := func(query string) error {
		_, err := execer.ExecContext(ctx, query, nil)
		return err
	}

	name := "w_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := exec(createTableSQL(name, t)); err != nil {
		return fmt.Errorf("failed to create scratch table: %w", err)
	}
	defer func() { _ = exec("DROP TABLE IF EXISTS " + ident(name)) }()

	appender, err := duckdb.NewAppenderFromConn(conn, "", name)
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}
	cols := t.Columns()
	row := make([]driver.Value, len(cols))
	for r := 0; r < t.NumRows(); r++ {
		for i, c := range cols {
			row[i] = c.Value(r)
		}
		if err := appender.AppendRow(row...); err != nil {
			_ = appender.Close()
			return fmt.Errorf("failed to append row %d: %w", r, err)
		}
	}
	if err := appender.Close(); err != nil {
		return fmt.Errorf("failed to flush appender: %w", err)
	}

	tmp := file + ".tmp"
	copySQL := fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET, COMPRESSION %s, ROW_GROUP_SIZE %d)",
		ident(name), quote(tmp), quote(compression(opts.Compression)), rowGroupRows(t, opts))
	if err := exec(copySQL); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy to parquet: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	return nil
}

func createTableSQL(name string, t *table.Table) string {
	defs := make([]string, 0, t.NumColumns())
	for _, f := range t.Schema() {
		defs = append(defs, ident(f.Name)+" "+sqlType(f.Kind))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ident(name), strings.Join(defs, ", "))
}

// sqlType maps a column kind to its DuckDB storage type. Null columns are
// stored as text.
func sqlType(k table.Kind) string {
	switch k {
	case table.KindBool:
		return "BOOLEAN"
	case table.KindInt64:
		return "BIGINT"
	case table.KindFloat64:
		return "DOUBLE"
	case table.KindTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func compression(c string) string {
	if c == "" {
		return "zstd"
	}
	return strings.ToLower(c)
}

// rowGroupRows converts the megabyte target into a row count using the
// average encoded width of t's rows, capped by MaxRowsPerFile.
func rowGroupRows(t *table.Table, opts WriteOptions) int {
	mb := opts.RowGroupMB
	if mb <= 0 {
		mb = 96
	}
	width := estimateRowBytes(t)
	rows := max(mb*1024*1024/width, minRowGroupRows)
	if opts.MaxRowsPerFile > 0 && rows > opts.MaxRowsPerFile {
		rows = opts.MaxRowsPerFile
	}
	return rows
}

func estimateRowBytes(t *table.Table) int {
	width := 0
	sample := min(t.NumRows(), 1000)
	for _, c := range t.Columns() {
		if c.Kind() != table.KindString || sample == 0 {
			width += 8
			continue
		}
		total := 0
		for i := 0; i < sample; i++ {
			if s, ok := c.Value(i).(string); ok {
				total += len(s)
			}
		}
		width += max(total/sample, 1)
	}
	return max(width, 1)
}
