package commands

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/cli/output"
	"github.com/leapstack-labs/statlake/internal/lineage"
	"github.com/leapstack-labs/statlake/internal/tableio"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// DatasetStatus is one row of the status report.
type DatasetStatus struct {
	Dataset           string     `json:"dataset"`
	Enabled           bool       `json:"enabled"`
	Importer          string     `json:"importer"`
	LastIngest        *time.Time `json:"last_ingest_utc,omitempty"`
	RowsLastBatch     int        `json:"rows_last_batch"`
	Partitions        int        `json:"partitions"`
	Rows              int        `json:"rows"`
	ChangedPartitions []string   `json:"changed_partitions"`
	CleanedBytes      int64      `json:"cleaned_bytes"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the lineage ledger knows about each dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			m, err := lineage.Load(cc.Cfg.LineagePath)
			if err != nil {
				return err
			}
			report := buildStatus(cc, m)

			r := cc.Renderer
			if r.IsJSON() {
				return r.JSON(report)
			}
			r.Header("Lake %s", resolvePath(cc.Catalog.Root))
			r.Muted("ledger %s", resolvePath(cc.Cfg.LineagePath))
			rows := make([][]any, 0, len(report))
			for _, d := range report {
				last := "never"
				if d.LastIngest != nil {
					last = output.Ago(*d.LastIngest)
				}
				enabled := "yes"
				if !d.Enabled {
					enabled = "no"
				}
				rows = append(rows, []any{
					d.Dataset, enabled, last,
					output.Count(int64(d.RowsLastBatch)),
					d.Partitions,
					output.Count(int64(d.Rows)),
					output.Bytes(uint64(d.CleanedBytes)),
				})
			}
			r.Table([]string{"Dataset", "Enabled", "Last ingest", "Last batch", "Partitions", "Rows", "Size"}, rows)
			return nil
		},
	}
}

func buildStatus(cc *CommandContext, m lineage.Manifest) []DatasetStatus {
	names := cc.Catalog.Names()
	out := make([]DatasetStatus, 0, len(names))
	for _, name := range names {
		spec, _ := cc.Catalog.Dataset(name)
		d := DatasetStatus{
			Dataset:      name,
			Enabled:      spec.Enabled,
			Importer:     spec.Importer,
			CleanedBytes: dirSize(tableio.DatasetDir(cc.Catalog.Root, core.LayerCleaned, name)),
		}
		if rec, ok := m[name]; ok {
			if ts, err := time.Parse(time.RFC3339, rec.LastIngestUTC); err == nil {
				d.LastIngest = &ts
			}
			d.RowsLastBatch = rec.RowsLastBatch
			d.Partitions = len(rec.Partitions)
			d.ChangedPartitions = rec.ChangedPartitions
			for _, st := range rec.Partitions {
				d.Rows += st.RowCount
			}
		}
		out = append(out, d)
	}
	return out
}

// dirSize sums regular file sizes under dir; a missing dir is zero.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recent runs, or the dataset jobs of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			if err := cc.OpenJournal(); err != nil {
				return err
			}
			defer cc.Close()

			if len(args) == 1 {
				return showRun(cc, args[0])
			}
			return listRuns(cc, opts.Limit)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func listRuns(cc *CommandContext, limit int) error {
	runs, err := cc.Journal.ListRuns(limit)
	if err != nil {
		return err
	}
	r := cc.Renderer
	if r.IsJSON() {
		return r.JSON(runs)
	}
	if len(runs) == 0 {
		r.Muted("no runs recorded")
		return nil
	}
	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		took := "-"
		if run.CompletedAt != nil {
			took = output.Duration(run.CompletedAt.Sub(run.StartedAt))
		}
		rows = append(rows, []any{run.ID, run.Flow, run.Status, output.Ago(run.StartedAt), took, run.Error})
	}
	r.Table([]string{"Run", "Flow", "Status", "Started", "Took", "Error"}, rows)
	return nil
}

func showRun(cc *CommandContext, id string) error {
	run, err := cc.Journal.GetRun(id)
	if err != nil {
		return err
	}
	jobs, err := cc.Journal.GetDatasetRuns(id)
	if err != nil {
		return err
	}
	r := cc.Renderer
	if r.IsJSON() {
		return r.JSON(struct {
			Run      *core.Run          `json:"run"`
			Datasets []*core.DatasetRun `json:"datasets"`
		}{run, jobs})
	}
	r.Header("Run %s (%s) %s, started %s", run.ID, run.Flow, run.Status, output.Ago(run.StartedAt))
	rows := make([][]any, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []any{
			j.Dataset, j.Status, output.Count(j.Rows), j.Partitions, j.FailedPartitions,
			output.Duration(time.Duration(j.DurationMS) * time.Millisecond), j.Error,
		})
	}
	r.Table([]string{"Dataset", "Status", "Rows", "Partitions", "Failed", "Duration", "Error"}, rows)
	return nil
}
