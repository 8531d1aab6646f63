package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/engine"
	"github.com/leapstack-labs/statlake/internal/importer"
)

// Datasets whose upstream files are stable during the season, and those
// that are republished often enough to need extra fetch retries.
var (
	InSeasonSafeDatasets     = []string{"schedules", "rosters", "rosters_seasonal", "players", "ids", "ngs_weekly", "pbp"}
	InSeasonUnstableDatasets = []string{"weekly", "injuries", "depth_charts", "snap_counts"}
)

// sinceLayout is the --since date format.
const sinceLayout = "2006-01-02"

// BootstrapOptions holds options for the bootstrap command.
type BootstrapOptions struct {
	Years          string
	Datasets       string
	SkipValidation bool
}

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand() *cobra.Command {
	opts := &BootstrapOptions{}
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Load a historical range of seasons",
		Long: `Fetch every selected dataset for a range of seasons, append the batches
to the raw layer and promote the touched partitions to the cleaned layer.

Without --years each dataset uses the years listed in the catalog.`,
		Example: `  # Load 1999 through 2024 for every enabled dataset
  statlake bootstrap --years 1999-2024

  # Load two seasons of weekly stats only
  statlake bootstrap --years 2023,2024 --datasets weekly`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := cc.Engine.Bootstrap(cmd.Context(), engine.BootstrapRequest{
				Years:          opts.Years,
				Datasets:       parseDatasets(opts.Datasets),
				MaxWorkers:     cc.Cfg.MaxWorkers,
				SkipValidation: opts.SkipValidation,
			})
			if err != nil {
				return err
			}
			return renderSummary(cc.Renderer, s)
		},
	}

	cmd.Flags().StringVar(&opts.Years, "years", "", "Season range (1999-2024) or list (2023,2024)")
	cmd.Flags().StringVarP(&opts.Datasets, "datasets", "d", "", "Comma-separated datasets (default: all enabled)")
	cmd.Flags().BoolVar(&opts.SkipValidation, "skip-validation", false, "Skip raw and cleaned shape checks")
	return cmd
}

// UpdateOptions holds options for the update command.
type UpdateOptions struct {
	Season         int
	Datasets       string
	Since          string
	SkipValidation bool
}

func (o *UpdateOptions) request(maxWorkers int) (engine.UpdateRequest, error) {
	req := engine.UpdateRequest{
		Season:         o.Season,
		Datasets:       parseDatasets(o.Datasets),
		MaxWorkers:     maxWorkers,
		SkipValidation: o.SkipValidation,
	}
	if o.Since != "" {
		t, err := time.Parse(sinceLayout, o.Since)
		if err != nil {
			return req, fmt.Errorf("invalid --since %q (want YYYY-MM-DD): %w", o.Since, err)
		}
		req.Since = &t
	}
	return req, nil
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand() *cobra.Command {
	opts := &UpdateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh one season",
		Long: `Fetch the selected datasets for one season, promote the changed
partitions and rebuild downstream report tables when materialize_dir is set.

The season defaults to the one in progress.`,
		Example: `  # Refresh the current season
  statlake update

  # Refresh injuries reported since a date
  statlake update --season 2024 --datasets injuries --since 2024-10-01`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			req, err := opts.request(cc.Cfg.MaxWorkers)
			if err != nil {
				return err
			}
			s, err := cc.Engine.Update(cmd.Context(), req)
			if err != nil {
				return err
			}
			return renderSummary(cc.Renderer, s)
		},
	}

	cmd.Flags().IntVar(&opts.Season, "season", 0, "Season to refresh (default: current)")
	cmd.Flags().StringVarP(&opts.Datasets, "datasets", "d", "", "Comma-separated datasets (default: all enabled)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "Only rows updated on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.SkipValidation, "skip-validation", false, "Skip raw and cleaned shape checks")
	return cmd
}

// InSeasonOptions holds options for the inseason command.
type InSeasonOptions struct {
	Season           int
	SkipValidation   bool
	RetryAttempts    int
	RetryBaseSeconds int
}

// NewInSeasonCommand creates the inseason command.
func NewInSeasonCommand() *cobra.Command {
	opts := &InSeasonOptions{}
	cmd := &cobra.Command{
		Use:   "inseason",
		Short: "Weekly in-season refresh",
		Long: `Refresh the current season in two passes. Stable datasets run first
with the configured retry policy; frequently republished datasets run second
with a more patient one. Datasets the catalog does not define are skipped.`,
		Example: `  statlake inseason
  statlake inseason --season 2024 --retry-attempts 8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return runInSeason(cmd, cc, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Season, "season", 0, "Season to refresh (default: current)")
	cmd.Flags().BoolVar(&opts.SkipValidation, "skip-validation", false, "Skip raw and cleaned shape checks")
	cmd.Flags().IntVar(&opts.RetryAttempts, "retry-attempts", 5, "Fetch attempts for unstable datasets")
	cmd.Flags().IntVar(&opts.RetryBaseSeconds, "retry-base-seconds", 10, "Initial backoff for unstable datasets")
	return cmd
}

func runInSeason(cmd *cobra.Command, cc *CommandContext, opts *InSeasonOptions) error {
	ctx := cmd.Context()
	var failures []error

	phase := func(names []string) error {
		names = intersect(names, cc.Catalog)
		if len(names) == 0 {
			return nil
		}
		s, err := cc.Engine.Update(ctx, engine.UpdateRequest{
			Season:         opts.Season,
			Datasets:       names,
			MaxWorkers:     cc.Cfg.MaxWorkers,
			SkipValidation: opts.SkipValidation,
		})
		if err != nil {
			return err
		}
		if err := renderSummary(cc.Renderer, s); err != nil {
			failures = append(failures, err)
		}
		return nil
	}

	if err := phase(InSeasonSafeDatasets); err != nil {
		return err
	}

	restore := setEnv(map[string]string{
		importer.RetryAttemptsEnvVar:    strconv.Itoa(opts.RetryAttempts),
		importer.RetryBaseSecondsEnvVar: strconv.Itoa(opts.RetryBaseSeconds),
	})
	defer restore()
	if err := phase(InSeasonUnstableDatasets); err != nil {
		return err
	}

	if len(failures) > 0 {
		return failures[len(failures)-1]
	}
	return nil
}

// setEnv sets variables and returns a func restoring their previous values.
func setEnv(vars map[string]string) func() {
	prev := make(map[string]*string, len(vars))
	for k, v := range vars {
		if old, ok := os.LookupEnv(k); ok {
			prev[k] = &old
		} else {
			prev[k] = nil
		}
		_ = os.Setenv(k, v)
	}
	return func() {
		for k, old := range prev {
			if old == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *old)
			}
		}
	}
}
