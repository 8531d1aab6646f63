// Package enrich holds named hooks that add information to a cleaned
// partition from other cleaned datasets before it is validated and
// published. Hooks are best effort: a failing hook is logged and its
// input is kept.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/table"
)

// Reader scans a directory of data files.
type Reader interface {
	Scan(ctx context.Context, dir string) (*table.Table, error)
}

// Env is what a hook knows about the partition it enriches.
type Env struct {
	Reader    Reader
	Root      string
	Dataset   string
	Partition partition.Partition
	Logger    *slog.Logger
}

// Hook enriches t and returns the result.
type Hook func(ctx context.Context, env Env, t *table.Table) (*table.Table, error)

var (
	hooksMu sync.RWMutex
	hooks   = map[string]Hook{
		"roster_names": RosterNames,
	}

	// defaults apply when a catalog entry names no hooks.
	defaults = map[string][]string{
		"weekly": {"roster_names"},
	}
)

// Register adds or replaces a hook.
func Register(name string, h Hook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks[name] = h
}

// Get retrieves a hook by name.
func Get(name string) (Hook, bool) {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	h, ok := hooks[name]
	return h, ok
}

// List returns all registered hook names (sorted).
func List() []string {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	names := make([]string, 0, len(hooks))
	for n := range hooks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// For returns the hooks that run for a dataset: the catalog's list, or the
// built-in default for the dataset when the catalog names none.
func For(spec catalog.DatasetSpec) []string {
	if len(spec.Enrich) > 0 {
		return append([]string(nil), spec.Enrich...)
	}
	return append([]string(nil), defaults[spec.Name]...)
}

// UnknownHookError is returned by Lookup for an unregistered hook name.
type UnknownHookError struct {
	Name      string
	Available []string
}

func (e *UnknownHookError) Error() string {
	return fmt.Sprintf("unknown enrich hook %q\nAvailable hooks: %v", e.Name, e.Available)
}

// Apply runs the named hooks in order. A hook that is unknown or fails is
// logged and skipped; the table it received is passed on unchanged.
func Apply(ctx context.Context, names []string, env Env, t *table.Table) *table.Table {
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	out := t
	for _, name := range names {
		h, ok := Get(name)
		if !ok {
			logger.Warn("skipping enrich hook", "hook", name, "dataset", env.Dataset,
				"error", &UnknownHookError{Name: name, Available: List()})
			continue
		}
		next, err := h(ctx, env, out)
		if err != nil {
			logger.Warn("enrich hook failed", "hook", name, "dataset", env.Dataset,
				"partition", env.Partition.Key(), "error", err)
			continue
		}
		out = next
	}
	return out
}
