// Package promote moves data through the layers of the lake. WriteRaw
// appends a fetched batch to the raw layer; Promote rebuilds the cleaned
// version of each changed partition from its raw files and the previously
// published cleaned files, and publishes it with a directory swap.
package promote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/enrich"
	"github.com/leapstack-labs/statlake/internal/lineage"
	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/internal/transform"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// DefaultPipelineVersion is stamped on raw rows when the caller gives none.
const DefaultPipelineVersion = "0.1.0"

// Config configures a Promoter.
type Config struct {
	// Root is the lake root directory.
	Root string
	// Compression and RowGroupMB control the parquet files written.
	Compression string
	RowGroupMB  int
	// Store reads and writes data files.
	Store *tableio.Store
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Promoter writes raw batches and promotes them to the cleaned layer.
type Promoter struct {
	root        string
	compression string
	rowGroupMB  int
	store       *tableio.Store
	logger      *slog.Logger

	// move publishes a staged directory. Replaced in tests.
	move func(src, dst string) error
}

// New creates a Promoter.
func New(cfg Config) (*Promoter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("promoter requires a store")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("promoter requires a lake root")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Promoter{
		root:        cfg.Root,
		compression: cfg.Compression,
		rowGroupMB:  cfg.RowGroupMB,
		store:       cfg.Store,
		logger:      logger,
		move: func(src, dst string) error {
			return tableio.MoveReplaceWithLogger(src, dst, logger)
		},
	}, nil
}

// Stamp is the provenance stamped onto every raw row.
type Stamp struct {
	Source          string
	PipelineVersion string
	RunID           string
	IngestedAt      time.Time
}

// RawResult describes a raw write.
type RawResult struct {
	Partitions []partition.Partition
	// PartitionRows maps partition keys to the rows the batch added there.
	PartitionRows map[string]int
	Rows          int
}

// WriteRaw stamps batch with provenance columns, normalizes its partition
// columns and appends it to the raw layer. Existing raw files are never
// rewritten; every call writes new, uniquely named files.
func (p *Promoter) WriteRaw(ctx context.Context, spec catalog.DatasetSpec, batch *table.Table, stamp Stamp) (*RawResult, error) {
	if batch.NumColumns() == 0 || batch.NumRows() == 0 {
		return &RawResult{PartitionRows: map[string]int{}}, nil
	}

	stamped, err := applyStamp(spec, batch, stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp %s: %w", spec.Name, err)
	}
	stamped, err = partition.NormalizeColumns(stamped, spec.Partitions)
	if err != nil {
		return nil, err
	}

	ts := stamp.IngestedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := p.store.Write(ctx, stamped, tableio.DatasetDir(p.root, core.LayerRaw, spec.Name), tableio.WriteOptions{
		PartitionKeys:  spec.Partitions,
		Compression:    p.compression,
		RowGroupMB:     p.rowGroupMB,
		MaxRowsPerFile: spec.MaxRowsPerFile,
		SortBy:         spec.SortBy,
		BaseName:       ts.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write raw %s: %w", spec.Name, err)
	}

	p.logger.Info("wrote raw batch", "dataset", spec.Name, "rows", res.Rows, "partitions", len(res.Partitions))
	return &RawResult{Partitions: res.Partitions, PartitionRows: res.PartitionRows, Rows: res.Rows}, nil
}

type stampColumn struct {
	name  string
	kind  table.Kind
	value any
}

func applyStamp(spec catalog.DatasetSpec, t *table.Table, stamp Stamp) (*table.Table, error) {
	source := stamp.Source
	if source == "" {
		source = spec.Importer
	}
	version := stamp.PipelineVersion
	if version == "" {
		version = DefaultPipelineVersion
	}

	constants := []stampColumn{
		{core.ColumnSource, table.KindString, source},
		{core.ColumnPipelineVersion, table.KindString, version},
	}
	if stamp.RunID != "" {
		constants = append(constants, stampColumn{core.ColumnRunID, table.KindString, stamp.RunID})
	}
	if !stamp.IngestedAt.IsZero() {
		constants = append(constants, stampColumn{core.ColumnIngestedAt, table.KindTimestamp, stamp.IngestedAt.UTC()})
	}

	out := t
	for _, c := range constants {
		if out.Has(c.name) {
			continue
		}
		var err error
		if out, err = out.WithColumn(constant(c.name, c.kind, c.value, out.NumRows())); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func constant(name string, kind table.Kind, v any, n int) *table.Column {
	values := make([]any, n)
	for i := range values {
		values[i] = v
	}
	return table.NewColumn(name, kind, values)
}

// Options controls a promotion.
type Options struct {
	// Validate enables the raw and cleaned shape checks.
	Validate bool
}

// PartitionFailure records why one partition was not promoted.
type PartitionFailure struct {
	Partition partition.Partition
	Err       error
}

// Result is the outcome of promoting a set of partitions.
type Result struct {
	// Stats holds the statistics of every published partition, keyed by
	// partition key ("all" for unpartitioned datasets).
	Stats    map[string]core.PartitionStats
	Failures []PartitionFailure
	// Skipped lists partitions without raw data.
	Skipped []partition.Partition
}

// Err joins the partition failures, or returns nil when there are none.
func (r *Result) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("partition %s: %w", f.Partition.Key(), f.Err))
	}
	return errors.Join(errs...)
}

// Promote rebuilds and publishes the cleaned version of every partition in
// parts. Partitions are independent: one failing does not stop the others,
// and each is published atomically on its own. An unpartitioned dataset
// given no partitions promotes its sentinel partition.
func (p *Promoter) Promote(ctx context.Context, spec catalog.DatasetSpec, parts []partition.Partition, opts Options) *Result {
	res := &Result{Stats: make(map[string]core.PartitionStats)}
	if len(parts) == 0 && len(spec.Partitions) == 0 {
		parts = []partition.Partition{partition.Sentinel()}
	}
	defer func() { _ = os.RemoveAll(tableio.StagingDir(p.root, spec.Name)) }()

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, PartitionFailure{Partition: part, Err: err})
			continue
		}
		start := time.Now()
		st, ok, err := p.promotePartition(ctx, spec, part, opts)
		switch {
		case err != nil:
			p.logger.Error("partition promotion failed", "dataset", spec.Name, "partition", part.Key(), "error", err)
			res.Failures = append(res.Failures, PartitionFailure{Partition: part, Err: err})
		case !ok:
			p.logger.Debug("no raw data for partition", "dataset", spec.Name, "partition", part.Key())
			res.Skipped = append(res.Skipped, part)
		default:
			res.Stats[part.Key()] = st
			p.logger.Info("promoted partition", "dataset", spec.Name, "partition", part.Key(),
				"rows", st.RowCount, "duration", time.Since(start))
		}
	}
	return res
}

func (p *Promoter) promotePartition(ctx context.Context, spec catalog.DatasetSpec, part partition.Partition, opts Options) (core.PartitionStats, bool, error) {
	raw, err := p.loadRaw(ctx, spec, part)
	if errors.Is(err, tableio.ErrNotFound) {
		return core.PartitionStats{}, false, nil
	}
	if err != nil {
		return core.PartitionStats{}, false, err
	}
	if opts.Validate {
		if err := transform.ValidateRaw(spec, raw); err != nil {
			return core.PartitionStats{}, false, err
		}
	}

	cleanedDir := tableio.DatasetDir(p.root, core.LayerCleaned, spec.Name)
	merged := raw
	existing, err := p.store.ScanPartition(ctx, cleanedDir, part)
	switch {
	case errors.Is(err, tableio.ErrNotFound):
	case err != nil:
		return core.PartitionStats{}, false, fmt.Errorf("failed to read cleaned partition: %w", err)
	default:
		merged = table.Union(table.UpcastNull(existing), raw)
	}

	cleaned, err := transform.Normalize(spec, merged)
	if err != nil {
		return core.PartitionStats{}, false, err
	}
	cleaned = enrich.Apply(ctx, enrich.For(spec), enrich.Env{
		Reader:    p.store,
		Root:      p.root,
		Dataset:   spec.Name,
		Partition: part,
		Logger:    p.logger,
	}, cleaned)

	if opts.Validate {
		if err := transform.ValidateCleaned(spec, cleaned); err != nil {
			return core.PartitionStats{}, false, err
		}
	}

	stats := lineage.Compute(cleaned, spec.Key)
	if err := p.publish(ctx, spec, part, cleaned); err != nil {
		return core.PartitionStats{}, false, err
	}
	return stats, true, nil
}

// loadRaw scans the raw files of one partition and restores partition
// columns that only exist in the directory path.
func (p *Promoter) loadRaw(ctx context.Context, spec catalog.DatasetSpec, part partition.Partition) (*table.Table, error) {
	raw, err := p.store.ScanPartition(ctx, tableio.DatasetDir(p.root, core.LayerRaw, spec.Name), part)
	if err != nil {
		return nil, err
	}
	raw = table.UpcastNull(raw)

	keys, values := part.Keys(), part.Values()
	for i, k := range keys {
		if raw.Has(k) {
			continue
		}
		lit := partition.Literal(values[i])
		kind := table.KindString
		if _, isInt := lit.(int64); isInt {
			kind = table.KindInt64
		}
		if raw, err = raw.WithColumn(constant(k, kind, lit, raw.NumRows())); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// publish stages t with the dataset's partition layout and swaps the staged
// partition directory into the cleaned layer.
func (p *Promoter) publish(ctx context.Context, spec catalog.DatasetSpec, part partition.Partition, t *table.Table) error {
	staging := tableio.StagingDir(p.root, spec.Name)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear staging: %w", err)
	}

	opts := tableio.WriteOptions{
		PartitionKeys:  spec.Partitions,
		Compression:    p.compression,
		RowGroupMB:     p.rowGroupMB,
		MaxRowsPerFile: spec.MaxRowsPerFile,
		SortBy:         spec.SortBy,
		BaseName:       "part",
	}
	src := filepath.Join(staging, filepath.FromSlash(part.Path()))

	if t.NumRows() == 0 {
		// Nothing to partition by; keep the schema in a single empty file.
		opts.PartitionKeys = nil
		if _, err := p.store.Write(ctx, t, src, opts); err != nil {
			return fmt.Errorf("failed to stage: %w", err)
		}
	} else {
		res, err := p.store.Write(ctx, t, staging, opts)
		if err != nil {
			return fmt.Errorf("failed to stage: %w", err)
		}
		if len(res.Partitions) != 1 || !res.Partitions[0].Equal(part) {
			return fmt.Errorf("cleaned rows of %s fall into partitions %v", part.Key(), partition.Keys(res.Partitions))
		}
	}

	dst := filepath.Join(tableio.DatasetDir(p.root, core.LayerCleaned, spec.Name), filepath.FromSlash(part.Path()))
	if err := p.move(src, dst); err != nil {
		return err
	}
	return nil
}
