package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
)

// File reads local files. options.path is a glob that may contain the
// season placeholder; each season's matches are read in name order.
type File struct {
	reader SourceReader
	logger *slog.Logger
}

// NewFile creates a file importer.
func NewFile(d Deps) *File {
	return &File{reader: d.Reader, logger: d.Logger}
}

// Fetch implements Fetcher.
func (f *File) Fetch(ctx context.Context, spec catalog.DatasetSpec, req Request) (*table.Table, error) {
	var o sourceOptions
	if err := decodeOptions(spec.Options, &o); err != nil {
		return nil, Permanent(err)
	}
	if o.Path == "" {
		return nil, Permanent(fmt.Errorf("dataset %s: file importer needs options.path", spec.Name))
	}

	if !strings.Contains(o.Path, SeasonPlaceholder) || len(req.Seasons) == 0 {
		files, err := glob(o.Path)
		if err != nil {
			return nil, err
		}
		t, err := readSeasons(ctx, f.reader, f.logger, files, o, req.Seasons)
		if err != nil {
			return nil, err
		}
		return filterSince(t, o.SinceColumn, req.Since), nil
	}

	parts := make([]*table.Table, 0, len(req.Seasons))
	for _, season := range req.Seasons {
		pattern := strings.ReplaceAll(o.Path, SeasonPlaceholder, strconv.Itoa(season))
		files, err := glob(pattern)
		if err != nil {
			return nil, err
		}
		t, err := readSeasons(ctx, f.reader, f.logger, files, o, nil)
		if err != nil {
			return nil, err
		}
		if col := o.seasonColumn(); !t.Has(col) {
			if t, err = t.WithColumn(constant(col, int64(season), t.NumRows())); err != nil {
				return nil, err
			}
		}
		parts = append(parts, t)
	}
	return filterSince(table.Concat(parts...), o.SinceColumn, req.Since), nil
}

func glob(pattern string) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, Permanent(fmt.Errorf("invalid path pattern %q: %w", pattern, err))
	}
	if len(files) == 0 {
		return nil, Permanent(fmt.Errorf("no files match %q", pattern))
	}
	sort.Strings(files)
	return files, nil
}
