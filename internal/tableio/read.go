package tableio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
)

// Source formats understood by ReadSource.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
	FormatJSON    = "json"
)

// Scan reads every data file below dir and returns their union. Files are
// read in lexical path order; columns missing from some files are filled
// with nulls and differing kinds are widened. A missing dir yields an error
// wrapping ErrNotFound; a directory without files yields an empty table.
func (s *Store) Scan(ctx context.Context, dir string) (*table.Table, error) {
	files, err := DataFiles(dir)
	if err != nil {
		return nil, err
	}
	tables := make([]*table.Table, 0, len(files))
	for _, f := range files {
		t, err := s.ReadFile(ctx, f)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return table.Concat(tables...), nil
}

// ScanPartition reads one partition of the dataset stored at datasetDir.
func (s *Store) ScanPartition(ctx context.Context, datasetDir string, p partition.Partition) (*table.Table, error) {
	return s.Scan(ctx, filepath.Join(datasetDir, filepath.FromSlash(p.Path())))
}

// ReadFile reads a single parquet file.
func (s *Store) ReadFile(ctx context.Context, path string) (*table.Table, error) {
	t, err := s.read(ctx, fmt.Sprintf("read_parquet(%s, hive_partitioning = false)", quote(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, nil
}

// ReadSource reads an external source: a local path or an http(s) URL in
// parquet, csv or json format. An empty format is inferred from the
// extension.
func (s *Store) ReadSource(ctx context.Context, src, format string) (*table.Table, error) {
	if format == "" {
		format = InferFormat(src)
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if err := s.ensureHTTP(ctx); err != nil {
			return nil, err
		}
	}

	var from string
	switch format {
	case FormatParquet:
		from = fmt.Sprintf("read_parquet(%s)", quote(src))
	case FormatCSV:
		from = fmt.Sprintf("read_csv_auto(%s)", quote(src))
	case FormatJSON:
		from = fmt.Sprintf("read_json_auto(%s)", quote(src))
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}

	t, err := s.read(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}
	s.logger.Debug("read source", "src", src, "format", format, "rows", t.NumRows())
	return t, nil
}

// InferFormat guesses a source format from its extension, defaulting to parquet.
func InferFormat(src string) string {
	lower := strings.ToLower(src)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".gz", ".zst"} {
		lower = strings.TrimSuffix(lower, ext)
	}
	switch {
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".tsv"):
		return FormatCSV
	case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"):
		return FormatJSON
	default:
		return FormatParquet
	}
}

// read runs SELECT * over a table function. The first query only inspects
// the result types so the second can project every column onto a type the
// table model represents.
func (s *Store) read(ctx context.Context, from string) (*table.Table, error) {
	probe, err := s.db.QueryContext(ctx, "SELECT * FROM "+from+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	types, err := probe.ColumnTypes()
	_ = probe.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect columns: %w", err)
	}

	names := make([]string, len(types))
	kinds := make([]table.Kind, len(types))
	projections := make([]string, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
		var cast string
		kinds[i], cast = mapType(ct.DatabaseTypeName())
		projections[i] = ident(ct.Name())
		if cast != "" {
			projections[i] = fmt.Sprintf("CAST(%s AS %s)", ident(ct.Name()), cast)
		}
	}
	if len(names) == 0 {
		return table.Empty(), nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+strings.Join(projections, ", ")+" FROM "+from)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([][]any, len(names))
	for rows.Next() {
		dest := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range dest {
			values[i] = append(values[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols := make([]*table.Column, len(names))
	for i, name := range names {
		if values[i] == nil {
			values[i] = []any{}
		}
		cols[i] = table.NewColumn(name, kinds[i], values[i])
	}
	return table.New(cols...)
}

// mapType maps a DuckDB type name to a column kind and, when the driver's
// native value would not fit that kind, the SQL type to cast to first.
func mapType(dbType string) (table.Kind, string) {
	t := strings.ToUpper(dbType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "BIGINT", "INTEGER", "SMALLINT", "TINYINT",
		"UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT":
		return table.KindInt64, "BIGINT"
	case "HUGEINT", "UHUGEINT", "DECIMAL":
		return table.KindFloat64, "DOUBLE"
	case "DOUBLE", "FLOAT", "REAL":
		return table.KindFloat64, ""
	case "BOOLEAN":
		return table.KindBool, ""
	case "TIMESTAMP", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS", "DATE", "TIMESTAMPTZ":
		return table.KindTimestamp, "TIMESTAMP"
	case "VARCHAR":
		return table.KindString, ""
	case `"NULL"`, "NULL":
		return table.KindNull, ""
	default:
		return table.KindString, "VARCHAR"
	}
}

// DataFiles lists the parquet files below dir in lexical order, skipping
// any entry whose name begins with "." or "_".
func DataFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// ListPartitions returns the partitions present under datasetDir that match
// filter, sorted by path. An unpartitioned dataset has the sentinel
// partition when its directory exists. A missing directory has none.
func ListPartitions(datasetDir string, keys []string, filter partition.Filter) ([]partition.Partition, error) {
	if _, err := os.Stat(datasetDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", datasetDir, err)
	}
	if len(keys) == 0 {
		return []partition.Partition{partition.Sentinel()}, nil
	}

	var out []partition.Partition
	var walk func(dir string, values []string) error
	walk = func(dir string, values []string) error {
		depth := len(values)
		if depth == len(keys) {
			p, err := partition.New(keys, values)
			if err != nil {
				return err
			}
			if filter.Match(p) {
				out = append(out, p)
			}
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() || hidden(e.Name()) {
				continue
			}
			seg, err := partition.Parse(e.Name())
			if err != nil {
				continue
			}
			v, ok := seg.Get(keys[depth])
			if !ok || len(seg.Keys()) != 1 {
				continue
			}
			next := append(append([]string(nil), values...), v)
			if err := walk(filepath.Join(dir, e.Name()), next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(datasetDir, nil); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

// HasData reports whether dir holds at least one data file.
func HasData(dir string) bool {
	files, err := DataFiles(dir)
	return err == nil && len(files) > 0
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}
