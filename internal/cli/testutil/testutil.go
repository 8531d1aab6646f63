// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/statlake/internal/cli/output"
)

// Catalog is a small lake definition backed by local CSV files.
const Catalog = `root: lake
datasets:
  receiving:
    importer: file
    years: 2023-2024
    partitions: [season]
    key: [season, player_id]
    options:
      path: files/receiving_{season}.csv
  kicking:
    importer: file
    partitions: [season]
    key: [season, player_id]
    enabled: false
    options:
      path: files/kicking_{season}.csv
`

// SetupTestLake creates a working directory holding catalog/datasets.yml
// and a receiving CSV per season, and changes into it.
func SetupTestLake(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	for _, d := range []string{"catalog", "files"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatalf("failed to create directory %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog", "datasets.yml"), []byte(Catalog), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	files := map[string]string{
		"receiving_2023.csv": "player_id,yards\nA,10\nB,20\n",
		"receiving_2024.csv": "player_id,yards\nA,30\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, "files", name), []byte(body), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	t.Chdir(dir)
	return dir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a test renderer with the given mode and TTY state.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a text renderer without a terminal.
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, false)
}

// NewTestRendererJSON creates a JSON renderer.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}
