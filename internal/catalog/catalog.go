// Package catalog loads the dataset catalog: the static description of every
// dataset in the lake (importer, partition keys, natural key, file layout)
// plus lake-wide storage settings.
//
// A catalog is read once per run and never modified afterwards.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Default values applied when the catalog document omits them.
const (
	DefaultPath        = "catalog/datasets.yml"
	DefaultCompression = "zstd"
	DefaultRowGroupMB  = 96
)

// RootEnvVar overrides the storage root of any loaded catalog.
const RootEnvVar = "LAKE_ROOT"

var compressions = map[string]bool{
	"zstd":         true,
	"snappy":       true,
	"gzip":         true,
	"lz4":          true,
	"lz4_raw":      true,
	"brotli":       true,
	"uncompressed": true,
}

// DatasetSpec describes one dataset.
type DatasetSpec struct {
	Name           string
	Importer       string
	Years          string
	Partitions     []string
	Key            []string
	Options        map[string]any
	Enabled        bool
	SortBy         []string
	MaxRowsPerFile int
	Enrich         []string
}

// Catalog is the loaded catalog document.
type Catalog struct {
	Root        string
	Compression string
	RowGroupMB  int
	// Path is the file the catalog was loaded from, empty when built in code.
	Path string

	datasets map[string]DatasetSpec
}

// document mirrors the on-disk layout.
type document struct {
	Root        string                     `koanf:"root"`
	Compression string                     `koanf:"compression"`
	RowGroupMB  int                        `koanf:"row_group_mb"`
	Datasets    map[string]datasetDocument `koanf:"datasets"`
}

type datasetDocument struct {
	Importer       string         `koanf:"importer"`
	Years          string         `koanf:"years"`
	Partitions     []string       `koanf:"partitions"`
	Key            []string       `koanf:"key"`
	Options        map[string]any `koanf:"options"`
	Enabled        *bool          `koanf:"enabled"`
	SortBy         []string       `koanf:"sort_by"`
	MaxRowsPerFile int            `koanf:"max_rows_per_file"`
	Enrich         []string       `koanf:"enrich"`
}

// InvalidCatalogError reports every problem found in a catalog document.
type InvalidCatalogError struct {
	Path     string
	Problems []string
}

func (e *InvalidCatalogError) Error() string {
	where := e.Path
	if where == "" {
		where = "catalog"
	}
	return fmt.Sprintf("invalid %s: %s", where, strings.Join(e.Problems, "; "))
}

// Load reads and validates the catalog at path. The LAKE_ROOT environment
// variable, when set, replaces the document's root.
func Load(path string) (*Catalog, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading catalog file %s: %w", path, err)
	}
	if err := k.Load(env.ProviderWithValue(RootEnvVar, ".", func(key, value string) (string, any) {
		if key != RootEnvVar || value == "" {
			return "", nil
		}
		return "root", value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("unable to decode catalog: %w", err)
	}

	specs := make([]DatasetSpec, 0, len(doc.Datasets))
	for name, d := range doc.Datasets {
		enabled := true
		if d.Enabled != nil {
			enabled = *d.Enabled
		}
		specs = append(specs, DatasetSpec{
			Name:           name,
			Importer:       d.Importer,
			Years:          d.Years,
			Partitions:     d.Partitions,
			Key:            d.Key,
			Options:        d.Options,
			Enabled:        enabled,
			SortBy:         d.SortBy,
			MaxRowsPerFile: d.MaxRowsPerFile,
			Enrich:         d.Enrich,
		})
	}

	c, err := build(doc.Root, doc.Compression, doc.RowGroupMB, specs)
	if err != nil {
		if ice, ok := err.(*InvalidCatalogError); ok {
			ice.Path = path
		}
		return nil, err
	}
	c.Path = path
	return c, nil
}

// New builds a catalog in code, applying the same defaults and validation
// as Load.
func New(root string, specs ...DatasetSpec) (*Catalog, error) {
	return build(root, "", 0, specs)
}

func build(root, compression string, rowGroupMB int, specs []DatasetSpec) (*Catalog, error) {
	c := &Catalog{
		Root:        root,
		Compression: compression,
		RowGroupMB:  rowGroupMB,
		datasets:    make(map[string]DatasetSpec, len(specs)),
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
	if c.RowGroupMB == 0 {
		c.RowGroupMB = DefaultRowGroupMB
	}

	var problems []string
	if c.Root == "" {
		problems = append(problems, "root is required")
	}
	if !compressions[strings.ToLower(c.Compression)] {
		problems = append(problems, fmt.Sprintf("unsupported compression %q", c.Compression))
	}
	if c.RowGroupMB < 0 {
		problems = append(problems, "row_group_mb must not be negative")
	}
	for _, s := range specs {
		problems = append(problems, s.validate()...)
		if _, dup := c.datasets[s.Name]; dup {
			problems = append(problems, fmt.Sprintf("dataset %s defined twice", s.Name))
		}
		c.datasets[s.Name] = s.clone()
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &InvalidCatalogError{Problems: problems}
	}
	return c, nil
}

func (s DatasetSpec) validate() []string {
	var problems []string
	if s.Name == "" {
		problems = append(problems, "dataset name is required")
	}
	if s.Importer == "" {
		problems = append(problems, fmt.Sprintf("dataset %s: importer is required", s.Name))
	}
	if len(s.Key) == 0 {
		problems = append(problems, fmt.Sprintf("dataset %s: key must not be empty", s.Name))
	}
	if s.MaxRowsPerFile < 0 {
		problems = append(problems, fmt.Sprintf("dataset %s: max_rows_per_file must not be negative", s.Name))
	}
	return problems
}

func (s DatasetSpec) clone() DatasetSpec {
	out := s
	out.Partitions = append([]string(nil), s.Partitions...)
	out.Key = append([]string(nil), s.Key...)
	out.SortBy = append([]string(nil), s.SortBy...)
	out.Enrich = append([]string(nil), s.Enrich...)
	out.Options = make(map[string]any, len(s.Options))
	for k, v := range s.Options {
		out.Options[k] = v
	}
	return out
}

// Dataset returns the named dataset. The returned spec is a copy.
func (c *Catalog) Dataset(name string) (DatasetSpec, bool) {
	s, ok := c.datasets[name]
	if !ok {
		return DatasetSpec{}, false
	}
	return s.clone(), true
}

// Names returns every dataset name in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.datasets))
	for n := range c.datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select returns the enabled datasets named in allow, in sorted order. An
// empty allow list selects every enabled dataset. Names in allow that the
// catalog does not define are returned separately.
func (c *Catalog) Select(allow []string) (selected []DatasetSpec, unknown []string) {
	wanted := make(map[string]bool, len(allow))
	for _, n := range allow {
		wanted[n] = true
		if _, ok := c.datasets[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	for _, n := range c.Names() {
		s := c.datasets[n]
		if !s.Enabled {
			continue
		}
		if len(wanted) > 0 && !wanted[n] {
			continue
		}
		selected = append(selected, s.clone())
	}
	return selected, unknown
}

// ParseList splits a comma separated list, trimming blanks.
func ParseList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
