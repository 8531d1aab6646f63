package commands

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/statlake/internal/cli/output"
	"github.com/leapstack-labs/statlake/internal/engine"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// RunFailedError is returned when a run finished with failures, so the
// process exits non-zero after the summary is printed.
type RunFailedError struct {
	RunID  string
	Status core.RunStatus
	Failed int
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s %s: %d dataset(s) or partition(s) failed", e.RunID, e.Status, e.Failed)
}

// renderSummary prints a run summary and converts failures into an error.
func renderSummary(r *output.Renderer, s *engine.Summary) error {
	if r.IsJSON() {
		if err := r.JSON(s); err != nil {
			return err
		}
	} else {
		renderSummaryText(r, s)
	}

	if s.Status == core.RunStatusCompleted {
		return nil
	}
	return &RunFailedError{RunID: s.RunID, Status: s.Status, Failed: len(s.Failed) + s.FailedPartitions()}
}

func renderSummaryText(r *output.Renderer, s *engine.Summary) {
	title := cases.Title(language.English)
	r.Header("%s run %s %s in %s", title.String(string(s.Flow)), s.RunID, s.Status, output.Duration(s.FinishedAt.Sub(s.StartedAt)))

	if len(s.Succeeded) > 0 {
		rows := make([][]any, 0, len(s.Succeeded))
		for _, d := range s.Succeeded {
			rows = append(rows, []any{
				d.Name,
				output.Count(int64(d.Rows)),
				len(d.Partitions),
				strings.Join(d.FailedPartitions, ", "),
				output.Duration(d.Duration),
			})
		}
		r.Table([]string{"Dataset", "Rows", "Partitions", "Failed partitions", "Duration"}, rows)
	}

	for _, d := range s.Succeeded {
		if len(d.FailedPartitions) == 0 {
			r.Success("%s: %s rows, %d partition(s)", d.Name, output.Count(int64(d.Rows)), len(d.Partitions))
		} else {
			r.Warning("%s: %d partition(s) failed", d.Name, len(d.FailedPartitions))
		}
	}
	for _, f := range s.Failed {
		r.Error("%s: %s", f.Name, f.Error)
	}
	if len(s.Succeeded) == 0 && len(s.Failed) == 0 {
		r.Muted("no datasets selected")
	}
}
