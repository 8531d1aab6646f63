package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/cli/output"
	"github.com/leapstack-labs/statlake/internal/partition"
	"github.com/leapstack-labs/statlake/internal/profile"
	"github.com/leapstack-labs/statlake/pkg/core"
)

// ProfileOptions holds options for the profile command.
type ProfileOptions struct {
	Datasets   string
	Layer      string
	Partitions string
	OutputDir  string
}

// NewProfileCommand creates the profile command.
func NewProfileCommand() *cobra.Command {
	opts := &ProfileOptions{}
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Write data quality reports for lake partitions",
		Long: `Compute row counts, key null counts, key uniqueness and season/week
ranges for every matching partition and write one JSON report per partition.`,
		Example: `  statlake profile --layer cleaned --datasets pbp --partitions 2024`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layer, ok := core.ParseLayer(opts.Layer)
			if !ok {
				return fmt.Errorf("unknown layer %q (want raw or cleaned)", opts.Layer)
			}
			cc, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			if err := cc.OpenStore(cmd.Context()); err != nil {
				return err
			}
			defer cc.Close()

			specs, unknown := cc.Catalog.Select(parseDatasets(opts.Datasets))
			if len(unknown) > 0 {
				return fmt.Errorf("unknown datasets: %v", unknown)
			}
			reports, runErr := profile.Run(cmd.Context(), cc.Store, specs, profile.Config{
				Root:      cc.Catalog.Root,
				Layer:     layer,
				Filter:    partition.ParseFilter(opts.Partitions),
				OutputDir: opts.OutputDir,
				Logger:    cc.Logger,
			})

			r := cc.Renderer
			if r.IsJSON() {
				if err := r.JSON(reports); err != nil {
					return err
				}
				return runErr
			}
			rows := make([][]any, 0, len(reports))
			for _, rep := range reports {
				ratio := "-"
				if rep.Metrics.KeyUniqueRatio != nil {
					ratio = fmt.Sprintf("%.4f", *rep.Metrics.KeyUniqueRatio)
				}
				rows = append(rows, []any{rep.Dataset, rep.Partition, output.Count(int64(rep.Metrics.Rows)), rep.Metrics.NumColumns, ratio})
			}
			if len(rows) > 0 {
				r.Table([]string{"Dataset", "Partition", "Rows", "Columns", "Key unique"}, rows)
			}
			r.Success("%d report(s) written to %s", len(reports), resolvePath(opts.OutputDir))
			return runErr
		},
	}

	cmd.Flags().StringVarP(&opts.Datasets, "datasets", "d", "", "Comma-separated datasets (default: all enabled)")
	cmd.Flags().StringVar(&opts.Layer, "layer", string(core.LayerCleaned), "Layer to profile (raw|cleaned)")
	cmd.Flags().StringVarP(&opts.Partitions, "partitions", "p", "", "Comma-separated partition values")
	cmd.Flags().StringVar(&opts.OutputDir, "out", profile.DefaultOutputDir, "Report directory")
	return cmd
}
