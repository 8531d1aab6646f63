package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/engine"
	"github.com/leapstack-labs/statlake/internal/partition"
)

// PromoteOptions holds options for the promote command.
type PromoteOptions struct {
	Datasets       string
	Partitions     string
	SkipValidation bool
}

// NewPromoteCommand creates the promote command.
func NewPromoteCommand() *cobra.Command {
	opts := &PromoteOptions{}
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote raw partitions already on disk",
		Long: `Rebuild cleaned partitions from the raw layer without fetching.

--partitions filters by value: bare values match the first partition key
and key=value pairs match the named key.`,
		Example: `  # Re-promote every raw partition
  statlake promote

  # Re-promote 2024 week 3 of weekly stats
  statlake promote --datasets weekly --partitions 2024,week=3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := cc.Engine.PromoteOnly(cmd.Context(), engine.PromoteRequest{
				Datasets:        parseDatasets(opts.Datasets),
				PartitionValues: partition.ParseFilter(opts.Partitions),
				MaxWorkers:      cc.Cfg.MaxWorkers,
				SkipValidation:  opts.SkipValidation,
			})
			if err != nil {
				return err
			}
			return renderSummary(cc.Renderer, s)
		},
	}

	cmd.Flags().StringVarP(&opts.Datasets, "datasets", "d", "", "Comma-separated datasets (default: all enabled)")
	cmd.Flags().StringVarP(&opts.Partitions, "partitions", "p", "", "Comma-separated partition values")
	cmd.Flags().BoolVar(&opts.SkipValidation, "skip-validation", false, "Skip raw and cleaned shape checks")
	return cmd
}

// RecacheOptions holds options for the recache command.
type RecacheOptions struct {
	Season         int
	SkipValidation bool
}

// NewRecacheCommand creates the recache command.
func NewRecacheCommand() *cobra.Command {
	opts := &RecacheOptions{}
	cmd := &cobra.Command{
		Use:   "recache <dataset>",
		Short: "Re-fetch and re-promote one season of a dataset",
		Example: `  # Rebuild 2023 play-by-play
  statlake recache pbp --season 2023`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Season <= 0 {
				return fmt.Errorf("--season is required")
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := cc.Engine.RecachePartition(cmd.Context(), engine.RecacheRequest{
				Dataset:        args[0],
				Season:         opts.Season,
				SkipValidation: opts.SkipValidation,
			})
			if err != nil {
				return err
			}
			return renderSummary(cc.Renderer, s)
		},
	}

	cmd.Flags().IntVar(&opts.Season, "season", 0, "Season to re-fetch")
	cmd.Flags().BoolVar(&opts.SkipValidation, "skip-validation", false, "Skip raw and cleaned shape checks")
	return cmd
}
