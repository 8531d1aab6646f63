package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/promote"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the statlake version and the pipeline version stamped onto raw batches.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "statlake v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pipeline version %s\n", promote.DefaultPipelineVersion)
		},
	}
}
