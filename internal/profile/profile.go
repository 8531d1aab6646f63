// Package profile computes data quality metrics for lake partitions and
// writes them as JSON reports next to the catalog.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// DefaultOutputDir is where reports are written.
const DefaultOutputDir = "catalog/quality"

// rangeColumns get a min/max entry when present.
var rangeColumns = []string{"season", "year", "week"}

// Range is the integer span of a column.
type Range struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Metrics describes one partition.
type Metrics struct {
	Rows       int               `json:"rows"`
	NumColumns int               `json:"num_columns"`
	Columns    []string          `json:"columns"`
	Kinds      map[string]string `json:"dtypes"`
	KeyNulls   map[string]int    `json:"key_nulls"`
	// Key uniqueness is only reported when every key column is present.
	KeyUniqueRows    *int             `json:"key_unique_rows,omitempty"`
	KeyDuplicateRows *int             `json:"key_duplicate_rows,omitempty"`
	KeyUniqueRatio   *float64         `json:"key_unique_ratio,omitempty"`
	Ranges           map[string]Range `json:"ranges,omitempty"`
}

// Report is one written profile.
type Report struct {
	Dataset   string     `json:"dataset"`
	Layer     core.Layer `json:"layer"`
	Partition string     `json:"partition"`
	Metrics   Metrics    `json:"metrics"`
	// Path is the report file, not serialized.
	Path string `json:"-"`
}

// Compute profiles t against the natural key.
func Compute(t *table.Table, keys []string) Metrics {
	m := Metrics{
		Rows:       t.NumRows(),
		NumColumns: t.NumColumns(),
		Columns:    t.Names(),
		Kinds:      make(map[string]string, t.NumColumns()),
		KeyNulls:   make(map[string]int),
	}
	for _, f := range t.Schema() {
		m.Kinds[f.Name] = f.Kind.String()
	}
	for _, k := range keys {
		if c, ok := t.Column(k); ok {
			m.KeyNulls[k] = c.NullCount()
		}
	}

	if len(keys) > 0 && t.HasAll(keys...) {
		seen := make(map[string]struct{}, t.NumRows())
		for i := 0; i < t.NumRows(); i++ {
			seen[t.GroupKey(i, keys)] = struct{}{}
		}
		unique := len(seen)
		dup := m.Rows - unique
		ratio := 1.0
		if m.Rows > 0 {
			ratio = float64(unique) / float64(m.Rows)
		}
		m.KeyUniqueRows, m.KeyDuplicateRows, m.KeyUniqueRatio = &unique, &dup, &ratio
	}

	for _, name := range rangeColumns {
		c, ok := t.Column(name)
		if !ok {
			continue
		}
		lo, hi := c.Cast(table.KindInt64).MinMax()
		l, okLo := lo.(int64)
		h, okHi := hi.(int64)
		if okLo && okHi {
			if m.Ranges == nil {
				m.Ranges = make(map[string]Range)
			}
			m.Ranges[name] = Range{Min: l, Max: h}
		}
	}
	return m
}

// Scanner reads a directory of data files.
type Scanner interface {
	Scan(ctx context.Context, dir string) (*table.Table, error)
}

// Config configures Run.
type Config struct {
	Root      string
	Layer     core.Layer
	Filter    partition.Filter
	OutputDir string
	Logger    *slog.Logger
}

// Run profiles every matching partition of each dataset and writes one
// report per partition to <OutputDir>/<dataset>/<layer>_<partition>.json.
// A dataset with no data in the layer is skipped; read and write failures
// are collected and returned joined after all datasets were attempted.
func Run(ctx context.Context, s Scanner, specs []catalog.DatasetSpec, cfg Config) ([]Report, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if !cfg.Layer.Valid() {
		return nil, fmt.Errorf("unknown layer %q", cfg.Layer)
	}

	var (
		reports []Report
		errs    []error
	)
	for _, spec := range specs {
		dir := tableio.DatasetDir(cfg.Root, cfg.Layer, spec.Name)
		parts, err := tableio.ListPartitions(dir, spec.Partitions, cfg.Filter)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
			continue
		}
		if len(parts) == 0 {
			logger.Info("no data to profile", "dataset", spec.Name, "layer", cfg.Layer)
			continue
		}
		for _, p := range parts {
			if err := ctx.Err(); err != nil {
				return reports, errors.Join(append(errs, err)...)
			}
			rep, err := profilePartition(ctx, s, dir, spec, p, cfg)
			if err != nil {
				logger.Warn("profile failed", "dataset", spec.Name, "partition", p.Key(), "error", err)
				errs = append(errs, fmt.Errorf("%s/%s: %w", spec.Name, p.Key(), err))
				continue
			}
			reports = append(reports, rep)
		}
	}
	return reports, errors.Join(errs...)
}

func profilePartition(ctx context.Context, s Scanner, dir string, spec catalog.DatasetSpec, p partition.Partition, cfg Config) (Report, error) {
	t, err := s.Scan(ctx, filepath.Join(dir, filepath.FromSlash(p.Path())))
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Dataset:   spec.Name,
		Layer:     cfg.Layer,
		Partition: p.Key(),
		Metrics:   Compute(table.UpcastNull(t), spec.Key),
	}

	name := strings.ReplaceAll(p.Key(), "/", "_")
	rep.Path = filepath.Join(cfg.OutputDir, spec.Name, fmt.Sprintf("%s_%s.json", cfg.Layer, name))
	if err := os.MkdirAll(filepath.Dir(rep.Path), 0o755); err != nil {
		return Report{}, fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(rep.Path, data, 0o644); err != nil {
		return Report{}, fmt.Errorf("failed to write report: %w", err)
	}
	return rep, nil
}
