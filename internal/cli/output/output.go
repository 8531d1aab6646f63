// Package output renders command results for terminals and machines.
//
// The auto mode styles text for a TTY and emits JSON when piped.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Mode selects the output format.
type Mode string

// Output modes.
const (
	ModeAuto Mode = "auto"
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

// Styles holds the lipgloss styles used on a terminal.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the terminal palette.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Renderer writes command output. Styles apply only on a terminal and
// are disabled by NO_COLOR.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	color  bool
	styles Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	return NewRendererWithTTY(out, errOut, IsTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  isTTY,
		color:  isTTY && !termenv.EnvNoColor(),
		styles: DefaultStyles(),
	}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Mode returns the resolved mode; auto becomes text on a terminal and JSON
// otherwise.
func (r *Renderer) Mode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeJSON
}

// IsJSON reports whether output is JSON.
func (r *Renderer) IsJSON() bool { return r.Mode() == ModeJSON }

// Out returns the primary writer.
func (r *Renderer) Out() io.Writer { return r.out }

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// Header prints a section title.
func (r *Renderer) Header(format string, args ...any) {
	_, _ = fmt.Fprintln(r.out, r.style(r.styles.Header, fmt.Sprintf(format, args...)))
}

// Println prints a plain line.
func (r *Renderer) Println(format string, args ...any) {
	_, _ = fmt.Fprintln(r.out, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (r *Renderer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(r.out, r.style(r.styles.Success, "✓ "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning line to the error stream.
func (r *Renderer) Warning(format string, args ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.style(r.styles.Warning, "! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line to the error stream.
func (r *Renderer) Error(format string, args ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.style(r.styles.Error, "✗ "+fmt.Sprintf(format, args...)))
}

// Muted prints a de-emphasized line.
func (r *Renderer) Muted(format string, args ...any) {
	_, _ = fmt.Fprintln(r.out, r.style(r.styles.Muted, fmt.Sprintf(format, args...)))
}

// Table renders rows under headers. Terminals get box drawing; other
// writers get plain ASCII.
func (r *Renderer) Table(headers []string, rows [][]any) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	if r.isTTY {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleDefault)
	}
	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}
	t.Render()
}

// Count formats n with thousands separators.
func Count(n int64) string { return humanize.Comma(n) }

// Bytes formats a byte size.
func Bytes(n uint64) string { return humanize.Bytes(n) }

// Ago formats t relative to now, or "never" for the zero time.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// Duration rounds d for display.
func Duration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
