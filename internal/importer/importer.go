// Package importer fetches batches for datasets from their external sources.
// Importers are registered by id and selected through the catalog's
// importer field.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
)

// Request selects what to fetch.
type Request struct {
	// Seasons to fetch. Empty means the importer's natural scope (static
	// documents, reference tables).
	Seasons []int
	// Since is an optional lower bound on update timestamps.
	Since *time.Time
}

// Fetcher produces one batch for a dataset.
type Fetcher interface {
	Fetch(ctx context.Context, spec catalog.DatasetSpec, req Request) (*table.Table, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, spec catalog.DatasetSpec, req Request) (*table.Table, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, spec catalog.DatasetSpec, req Request) (*table.Table, error) {
	return f(ctx, spec, req)
}

// SourceReader reads a file or URL into a table.
type SourceReader interface {
	ReadSource(ctx context.Context, src, format string) (*table.Table, error)
}

// Deps are handed to importer factories.
type Deps struct {
	Reader SourceReader
	Logger *slog.Logger
}

// Factory builds a Fetcher.
type Factory func(Deps) Fetcher

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"nflverse":   func(d Deps) Fetcher { return NewNflverse(d) },
		"file":       func(d Deps) Fetcher { return NewFile(d) },
		"draftkings": func(d Deps) Fetcher { return NewDraftKings(d) },
	}
)

// Register adds or replaces an importer factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Get retrieves an importer factory by name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List returns all registered importer names (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the fetcher for an importer id.
func New(name string, deps Deps) (Fetcher, error) {
	if name == "" {
		return nil, fmt.Errorf("importer not specified")
	}
	f, ok := Get(name)
	if !ok {
		return nil, &UnknownImporterError{Name: name, Available: List()}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return f(deps), nil
}

// UnknownImporterError is returned when a catalog names an unregistered importer.
type UnknownImporterError struct {
	Name      string
	Available []string
}

func (e *UnknownImporterError) Error() string {
	return fmt.Sprintf("unknown importer %q\nAvailable importers: %v\nHint: Check datasets.<name>.importer in the catalog", e.Name, e.Available)
}

// ParseYears parses a years argument: an inclusive range "1999-2024" or a
// comma separated list "2019,2021".
func ParseYears(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid year range %q: %w", s, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid year range %q: %w", s, err)
		}
		if end < start {
			return nil, fmt.Errorf("invalid year range %q: end before start", s)
		}
		years := make([]int, 0, end-start+1)
		for y := start; y <= end; y++ {
			years = append(years, y)
		}
		return years, nil
	}
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q: %w", part, err)
		}
		years = append(years, y)
	}
	return years, nil
}

// decodeOptions decodes catalog options into out. String values such as
// "3" are accepted for numeric fields.
func decodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("failed to decode importer options: %w", err)
	}
	return nil
}
