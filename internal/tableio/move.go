package tableio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// PublishError is returned when a staged directory cannot be moved into
// place. The previous contents of the destination are left intact.
type PublishError struct {
	Src string
	Dst string
	// CrossDevice is set when src and dst live on different filesystems,
	// which rules out an atomic rename.
	CrossDevice bool
	Err         error
}

func (e *PublishError) Error() string {
	if e.CrossDevice {
		return fmt.Sprintf("failed to publish %s to %s: staging and destination are on different filesystems: %v", e.Src, e.Dst, e.Err)
	}
	return fmt.Sprintf("failed to publish %s to %s: %v", e.Src, e.Dst, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// removeAll is swapped in tests to simulate cleanup failures.
var removeAll = os.RemoveAll

// MoveReplace replaces dst with src using renames only. An existing dst is
// first set aside as a hidden sibling so that readers see either the old or
// the new directory, never a mix. If the final rename fails the old
// directory is restored.
func MoveReplace(src, dst string) error {
	return MoveReplaceWithLogger(src, dst, nil)
}

// MoveReplaceWithLogger is MoveReplace reporting non-fatal cleanup problems
// to logger.
//
// A set-aside sibling left by an interrupted publish is restored when dst
// is missing and pruned otherwise. Failing to delete the set-aside copy
// after the new directory is live is only logged: the publish succeeded and
// the next publish of dst prunes it.
func MoveReplaceWithLogger(src, dst string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := recoverAside(dst, logger); err != nil {
		return &PublishError{Src: src, Dst: dst, Err: err}
	}

	if _, err := os.Stat(src); err != nil {
		return &PublishError{Src: src, Dst: dst, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return &PublishError{Src: src, Dst: dst, Err: err}
	}

	var aside string
	if _, err := os.Stat(dst); err == nil {
		aside = filepath.Join(filepath.Dir(dst), asidePrefix(dst)+uuid.NewString()[:8])
		if err := os.Rename(dst, aside); err != nil {
			return publishError(src, dst, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &PublishError{Src: src, Dst: dst, Err: err}
	}

	if err := os.Rename(src, dst); err != nil {
		if aside != "" {
			if rerr := os.Rename(aside, dst); rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed to restore %s: %w", dst, rerr))
			}
		}
		return publishError(src, dst, err)
	}

	if aside != "" {
		if err := removeAll(aside); err != nil {
			logger.Warn("failed to remove previous version", "path", aside, "error", err)
		}
	}
	return nil
}

func asidePrefix(dst string) string {
	return "." + filepath.Base(dst) + ".old-"
}

// staleAsides lists set-aside siblings of dst, newest first.
func staleAsides(dst string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type aside struct {
		path string
		mod  int64
	}
	var found []aside
	prefix := asidePrefix(dst)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, aside{filepath.Join(filepath.Dir(dst), e.Name()), info.ModTime().UnixNano()})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].mod > found[j].mod })
	out := make([]string, len(found))
	for i, a := range found {
		out[i] = a.path
	}
	return out, nil
}

// recoverAside puts back the newest set-aside copy when dst is missing,
// then prunes the remaining ones.
func recoverAside(dst string, logger *slog.Logger) error {
	asides, err := staleAsides(dst)
	if err != nil || len(asides) == 0 {
		return err
	}
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(asides[0], dst); err != nil {
			return fmt.Errorf("failed to restore %s from %s: %w", dst, asides[0], err)
		}
		logger.Warn("restored interrupted publish", "path", dst, "from", asides[0])
		asides = asides[1:]
	}
	for _, a := range asides {
		if err := removeAll(a); err != nil {
			logger.Warn("failed to prune previous version", "path", a, "error", err)
		}
	}
	return nil
}

func publishError(src, dst string, err error) *PublishError {
	return &PublishError{Src: src, Dst: dst, CrossDevice: errors.Is(err, syscall.EXDEV), Err: err}
}
