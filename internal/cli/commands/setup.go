// Package commands implements the statlake CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/cli/config"
	"github.com/leapstack-labs/statlake/internal/cli/output"
	"github.com/leapstack-labs/statlake/internal/engine"
	"github.com/leapstack-labs/statlake/internal/importer"
	"github.com/leapstack-labs/statlake/internal/materialize"
	"github.com/leapstack-labs/statlake/internal/metrics"
	"github.com/leapstack-labs/statlake/internal/state"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// CommandContext holds the common dependencies for command execution.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Catalog  *catalog.Catalog
	Store    *tableio.Store
	Journal  core.Store
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext loads the catalog, opens the data store and run journal
// and builds the engine. The returned cleanup must be called (typically via
// defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}
	ctx := commandContext(cmd)
	cfg, logger := cc.Cfg, cc.Logger

	if err := cc.OpenStore(ctx); err != nil {
		return nil, nil, err
	}
	store := cc.Store

	journal, err := state.OpenStore(cfg.StatePath, logger)
	if err != nil {
		// The journal is bookkeeping; runs proceed without it.
		logger.Warn("run journal unavailable", "path", cfg.StatePath, "error", err)
	} else {
		cc.Journal = journal
	}

	var m *metrics.Metrics
	if cfg.MetricsPath != "" {
		m = metrics.New()
	}
	var mat materialize.Materializer
	if cfg.MaterializeDir != "" {
		mat = &materialize.SQLScripts{Dir: cfg.MaterializeDir, Root: cc.Catalog.Root, DB: store, Logger: logger}
	}

	eng, err := engine.New(engine.Config{
		Catalog:      cc.Catalog,
		Store:        store,
		LineagePath:  cfg.LineagePath,
		LockPath:     cfg.LockPath,
		LockTimeout:  cfg.LockTimeout,
		Journal:      cc.Journal,
		Metrics:      m,
		MetricsPath:  cfg.MetricsPath,
		LogsDir:      cfg.LogsDir,
		Materializer: mat,
		Retry:        importer.Retry{Attempts: cfg.RetryAttempts, Base: cfg.RetryBase()},
		Logger:       logger,
	})
	if err != nil {
		cc.close()
		return nil, nil, err
	}
	cc.Engine = eng
	return cc, cc.close, nil
}

// NewCommandContextWithoutEngine loads configuration and the catalog only.
// Useful for commands that read the lake without running flows.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	ctx := commandContext(cmd)
	cfg := config.GetConfig(ctx)
	logger := config.GetLogger(ctx)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w\nHint: create %s or pass --catalog", err, cfg.CatalogPath)
		}
		return nil, err
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Catalog:  cat,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}, nil
}

// OpenStore opens the DuckDB-backed table store.
func (cc *CommandContext) OpenStore(ctx context.Context) error {
	if cc.Store != nil {
		return nil
	}
	store, err := tableio.Open(ctx, tableio.Config{Logger: cc.Logger})
	if err != nil {
		return err
	}
	cc.Store = store
	return nil
}

// OpenJournal opens the run journal for read-only commands.
func (cc *CommandContext) OpenJournal() error {
	if cc.Journal != nil {
		return nil
	}
	if _, err := os.Stat(cc.Cfg.StatePath); err != nil {
		return fmt.Errorf("no run journal at %s: %w", cc.Cfg.StatePath, err)
	}
	j, err := state.OpenStore(cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		return err
	}
	cc.Journal = j
	return nil
}

func (cc *CommandContext) close() {
	if cc.Journal != nil {
		_ = cc.Journal.Close()
	}
	if cc.Store != nil {
		_ = cc.Store.Close()
	}
}

// Close releases whatever the context opened.
func (cc *CommandContext) Close() { cc.close() }

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Helper functions shared across commands

// parseDatasets splits a --datasets value.
func parseDatasets(s string) []string {
	return catalog.ParseList(s)
}

// resolvePath anchors a relative path at the working directory for display.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// intersect keeps the names in want that the catalog defines, preserving
// want's order.
func intersect(want []string, cat *catalog.Catalog) []string {
	known := make(map[string]bool)
	for _, n := range cat.Names() {
		known[n] = true
	}
	var out []string
	for _, n := range want {
		if known[strings.TrimSpace(n)] {
			out = append(out, n)
		}
	}
	return out
}
