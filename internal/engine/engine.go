// Package engine orchestrates ingestion runs. Each run selects datasets,
// takes the lake lock, runs one job per dataset on a bounded worker pool
// (fetch, raw write, promotion), then updates the lineage ledger once and
// reports a summary.
package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/importer"
	"github.com/leapstack-labs/statlake/internal/lineage"
	"github.com/leapstack-labs/statlake/internal/lock"
	"github.com/leapstack-labs/statlake/internal/materialize"
	"github.com/leapstack-labs/statlake/internal/metrics"
	"github.com/leapstack-labs/statlake/internal/promote"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// DefaultMaxWorkers bounds concurrent dataset jobs when a request gives none.
const DefaultMaxWorkers = 2

// FetcherFactory builds the fetcher for a dataset.
type FetcherFactory func(spec catalog.DatasetSpec) (importer.Fetcher, error)

// Config holds engine configuration.
type Config struct {
	// Catalog is the loaded dataset catalog.
	Catalog *catalog.Catalog
	// Store reads and writes data files.
	Store *tableio.Store
	// LineagePath is the ledger file (default catalog/lineage.json).
	LineagePath string
	// LockPath is the run lock file (default <root>/.lake.lock).
	LockPath string
	// LockTimeout bounds the wait for the run lock.
	LockTimeout time.Duration
	// Journal records runs (optional).
	Journal core.Store
	// Metrics records run metrics (optional).
	Metrics *metrics.Metrics
	// MetricsPath is the textfile the metrics are written to after each run (optional).
	MetricsPath string
	// LogsDir receives one <run_id>.jsonl event log per run (optional).
	LogsDir string
	// Materializer refreshes downstream tables after an update (optional).
	Materializer materialize.Materializer
	// Retry is the fetch retry policy used when a dataset's options and the
	// environment do not override it.
	Retry importer.Retry
	// PipelineVersion is stamped on raw rows.
	PipelineVersion string
	// Fetchers overrides importer lookup (optional).
	Fetchers FetcherFactory
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine runs ingestion flows against one lake.
type Engine struct {
	catalog         *catalog.Catalog
	store           *tableio.Store
	promoter        *promote.Promoter
	lineagePath     string
	lockPath        string
	lockTimeout     time.Duration
	journal         core.Store
	metrics         *metrics.Metrics
	metricsPath     string
	logsDir         string
	materializer    materialize.Materializer
	pipelineVersion string
	fetchers        FetcherFactory
	logger          *slog.Logger

	now func() time.Time
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("engine requires a catalog")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	root := cfg.Catalog.Root
	p, err := promote.New(promote.Config{
		Root:        root,
		Compression: cfg.Catalog.Compression,
		RowGroupMB:  cfg.Catalog.RowGroupMB,
		Store:       cfg.Store,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create promoter: %w", err)
	}

	e := &Engine{
		catalog:         cfg.Catalog,
		store:           cfg.Store,
		promoter:        p,
		lineagePath:     cfg.LineagePath,
		lockPath:        cfg.LockPath,
		lockTimeout:     cfg.LockTimeout,
		journal:         cfg.Journal,
		metrics:         cfg.Metrics,
		metricsPath:     cfg.MetricsPath,
		logsDir:         cfg.LogsDir,
		materializer:    cfg.Materializer,
		pipelineVersion: cfg.PipelineVersion,
		fetchers:        cfg.Fetchers,
		logger:          logger,
		now:             time.Now,
	}
	if e.lineagePath == "" {
		e.lineagePath = lineage.DefaultPath
	}
	if e.lockPath == "" {
		e.lockPath = filepath.Join(root, lock.FileName)
	}
	if e.pipelineVersion == "" {
		e.pipelineVersion = promote.DefaultPipelineVersion
	}
	if e.fetchers == nil {
		retry := cfg.Retry
		if retry.Attempts == 0 {
			retry = importer.DefaultRetry
		}
		e.fetchers = func(spec catalog.DatasetSpec) (importer.Fetcher, error) {
			f, err := importer.New(spec.Importer, importer.Deps{Reader: cfg.Store, Logger: logger})
			if err != nil {
				return nil, err
			}
			return importer.WithRetry(f, importer.ResolveRetry(spec.Options, retry), logger), nil
		}
	}

	logger.Debug("initialized engine", "root", root, "datasets", len(cfg.Catalog.Names()))
	return e, nil
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// LineagePath returns the ledger file.
func (e *Engine) LineagePath() string { return e.lineagePath }
