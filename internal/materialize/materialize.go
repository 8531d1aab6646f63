// Package materialize builds downstream report tables after an update. It
// is optional: a failing script is logged and never fails the run.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Materializer refreshes derived tables for a season.
type Materializer interface {
	Materialize(ctx context.Context, season int) error
}

// Execer runs SQL.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// DefaultSeasonType is bound when SQLScripts.SeasonType is empty.
const DefaultSeasonType = "REG"

// SQLScripts runs every *.sql file in Dir in name order. Before each script
// the DuckDB variables season, season_type and lake_root are set, and the
// placeholders {{season}}, {{season_type}} and {{lake_root}} are replaced
// in the script text for statements that cannot call getvariable, such as
// COPY targets.
type SQLScripts struct {
	Dir        string
	Root       string
	SeasonType string
	DB         Execer
	Logger     *slog.Logger
}

// ScriptError names the script that failed.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("script %s: %v", e.Script, e.Err) }

func (e *ScriptError) Unwrap() error { return e.Err }

// Materialize runs the scripts. Every script is attempted; failures are
// logged as warnings and returned joined.
func (s *SQLScripts) Materialize(ctx context.Context, season int) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if s.DB == nil {
		return fmt.Errorf("materialize requires a database")
	}
	scripts, err := Scripts(s.Dir)
	if err != nil {
		return err
	}

	seasonType := s.SeasonType
	if seasonType == "" {
		seasonType = DefaultSeasonType
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve lake root: %w", err)
	}
	vars := map[string]string{
		"season":      strconv.Itoa(season),
		"season_type": seasonType,
		"lake_root":   filepath.ToSlash(root),
	}

	var errs []error
	for _, path := range scripts {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		body, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &ScriptError{Script: path, Err: err})
			continue
		}
		query := preamble(season, vars) + render(string(body), vars)
		if err := s.DB.Exec(ctx, query); err != nil {
			logger.Warn("materialization failed", "script", filepath.Base(path), "season", season, "error", err)
			errs = append(errs, &ScriptError{Script: path, Err: err})
			continue
		}
		logger.Info("materialized", "script", filepath.Base(path), "season", season)
	}
	return errors.Join(errs...)
}

// Scripts lists the *.sql files of dir in name order. A missing directory
// has no scripts.
func Scripts(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func preamble(season int, vars map[string]string) string {
	return fmt.Sprintf("SET VARIABLE season = %d;\nSET VARIABLE season_type = %s;\nSET VARIABLE lake_root = %s;\n",
		season, literal(vars["season_type"]), literal(vars["lake_root"]))
}

func render(body string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
