// Package tableio reads and writes partitioned columnar datasets on local
// disk. Files are parquet, produced and consumed through an embedded DuckDB
// instance; the directory tree uses hive-style key=value segments:
//
//	<root>/<layer>/<dataset>/<k1>=<v1>/<k2>=<v2>/<name>.parquet
//
// Entries whose name starts with "." or "_" are never read as data, which
// keeps the staging area and set-aside directories out of scans.
package tableio

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/statlake/pkg/core"
)

// ErrNotFound is returned when a dataset or partition directory does not exist.
var ErrNotFound = errors.New("not found")

// StagingDirName is the scratch directory inside the cleaned layer.
const StagingDirName = "_staging"

// Config configures a Store.
type Config struct {
	// Threads caps DuckDB worker threads. Zero keeps the DuckDB default.
	Threads int
	// MemoryLimit is a DuckDB memory limit such as "2GB". Empty keeps the default.
	MemoryLimit string
	// Logger for I/O diagnostics. Nil discards.
	Logger *slog.Logger
}

// Store is a handle to an embedded DuckDB database used as the parquet codec.
// A Store is safe for concurrent use; every operation runs on its own
// connection.
type Store struct {
	connector *duckdb.Connector
	db        *sql.DB
	logger    *slog.Logger

	httpOnce sync.Once
	httpErr  error
}

// Open creates an in-memory DuckDB instance.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		var stmts []string
		if cfg.Threads > 0 {
			stmts = append(stmts, fmt.Sprintf("SET threads = %d", cfg.Threads))
		}
		if cfg.MemoryLimit != "" {
			stmts = append(stmts, "SET memory_limit = "+quote(cfg.MemoryLimit))
		}
		for _, stmt := range stmts {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("failed to run %q: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &Store{connector: connector, db: db, logger: logger}, nil
}

// Close releases the DuckDB instance. Closing the database also closes
// the connector.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying database for callers that run their own SQL,
// such as report materialization.
func (s *Store) DB() *sql.DB { return s.db }

// Exec runs a statement that returns no rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// ensureHTTP loads the httpfs extension once so remote URLs can be read.
func (s *Store) ensureHTTP(ctx context.Context) error {
	s.httpOnce.Do(func() {
		for _, stmt := range []string{"INSTALL httpfs", "LOAD httpfs"} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.httpErr = fmt.Errorf("failed to load httpfs: %w", err)
				return
			}
		}
	})
	return s.httpErr
}

// DatasetDir returns the directory holding one dataset of one layer.
func DatasetDir(root string, layer core.Layer, dataset string) string {
	return filepath.Join(root, string(layer), dataset)
}

// StagingDir returns the scratch directory used while promoting dataset.
func StagingDir(root, dataset string) string {
	return filepath.Join(root, string(core.LayerCleaned), StagingDirName, dataset)
}

// quote renders s as a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ident renders s as a SQL identifier.
func ident(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
